package services

import "context"

// ParticipantContextProvider supplies the participant attributes a run evaluates
// conditions against. It is called once, when the run starts.
type ParticipantContextProvider interface {
	ParticipantContext(ctx context.Context, participantID string) (map[string]any, error)
}

// ParticipantContextFunc adapts a function to ParticipantContextProvider.
type ParticipantContextFunc func(ctx context.Context, participantID string) (map[string]any, error)

func (f ParticipantContextFunc) ParticipantContext(ctx context.Context, participantID string) (map[string]any, error) {
	return f(ctx, participantID)
}

// NoParticipantContext provides no attributes.
type NoParticipantContext struct{}

func (NoParticipantContext) ParticipantContext(context.Context, string) (map[string]any, error) {
	return map[string]any{}, nil
}
