package models

// ConditionType is the closed set of edge condition kinds.
type ConditionType string

const (
	ConditionAlways      ConditionType = "always"
	ConditionNever       ConditionType = "never"
	ConditionExpression  ConditionType = "expression"
	ConditionEvent       ConditionType = "event"
	ConditionFieldExists ConditionType = "field_exists"
	ConditionFieldEquals ConditionType = "field_equals"
)

// Condition guards an edge. Which fields are read depends on Type.
type Condition struct {
	Type      ConditionType `json:"type"`
	Expr      string        `json:"expr,omitempty"`
	EventName string        `json:"event_name,omitempty"`
	Field     string        `json:"field,omitempty"`
	Value     any           `json:"value,omitempty"`
}

// Always returns an unconditional edge condition.
func Always() *Condition {
	return &Condition{Type: ConditionAlways}
}

// Expression returns an expression condition.
func Expression(expr string) *Condition {
	return &Condition{Type: ConditionExpression, Expr: expr}
}

// OnEvent returns a condition matching a named event in the submitted output.
func OnEvent(name string) *Condition {
	return &Condition{Type: ConditionEvent, EventName: name}
}
