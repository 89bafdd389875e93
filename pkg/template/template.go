// Package template renders the payloads of events declared by journey steps.
package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"text/template/parse"
	"time"

	"github.com/dukex/journey/pkg/models"
)

// RunData builds the template data for a submission on stepID.
func RunData(run *models.Run, stepID string, output map[string]any) map[string]any {
	return map[string]any{
		"output":      output,
		"context":     run.Context,
		"participant": run.Participant,
		"step_id":     stepID,
		"run": map[string]any{
			"id":             run.ID,
			"journey_id":     run.JourneyID,
			"version":        run.Version,
			"participant_id": run.ParticipantID,
		},
	}
}

// NeedsTemplating reports whether s contains a template action.
func NeedsTemplating(s string) bool {
	return strings.Contains(s, "{{")
}

// RenderPayload renders every templated string of payload, descending into
// nested maps and lists. The input is left untouched.
func RenderPayload(payload map[string]any, data any) (map[string]any, error) {
	if payload == nil {
		return nil, nil
	}

	rendered := make(map[string]any, len(payload))

	for key, value := range payload {
		v, err := renderValue(value, data)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}

		rendered[key] = v
	}

	return rendered, nil
}

func renderValue(value any, data any) (any, error) {
	switch v := value.(type) {
	case string:
		if !NeedsTemplating(v) {
			return v, nil
		}

		return Render(v, data)
	case map[string]any:
		return RenderPayload(v, data)
	case []any:
		items := make([]any, len(v))

		for i, item := range v {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, err
			}

			items[i] = rendered
		}

		return items, nil
	default:
		return v, nil
	}
}

// Render executes templateStr against data. A template that is nothing but a single field
// reference, such as "{{ .output.minutes }}", yields the referenced value with its type kept,
// nil when the field is absent. Any other template yields its text output unchanged.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("payload").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	if path, ok := fieldReference(tmpl.Tree); ok {
		if value, ok := lookup(data, path); ok {
			return value, nil
		}
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// fieldReference returns the field path of a template made of one plain field action,
// ignoring surrounding whitespace.
func fieldReference(tree *parse.Tree) ([]string, bool) {
	if tree == nil || tree.Root == nil {
		return nil, false
	}

	var action *parse.ActionNode

	for _, node := range tree.Root.Nodes {
		switch n := node.(type) {
		case *parse.TextNode:
			if len(bytes.TrimSpace(n.Text)) > 0 {
				return nil, false
			}
		case *parse.ActionNode:
			if action != nil {
				return nil, false
			}

			action = n
		default:
			return nil, false
		}
	}

	if action == nil || len(action.Pipe.Decl) > 0 || len(action.Pipe.Cmds) != 1 {
		return nil, false
	}

	args := action.Pipe.Cmds[0].Args
	if len(args) != 1 {
		return nil, false
	}

	field, ok := args[0].(*parse.FieldNode)
	if !ok {
		return nil, false
	}

	return field.Ident, true
}

// lookup walks path through nested maps. A missing key anywhere along the path yields nil.
// It reports false when an intermediate value is neither nil nor a map, leaving the caller
// to fall back to executing the template.
func lookup(data any, path []string) (any, bool) {
	current := data

	for _, key := range path {
		if current == nil {
			return nil, true
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current = m[key]
	}

	return current, true
}
