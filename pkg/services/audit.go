package services

import (
	"context"
	"time"

	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/persistence"
)

// Audit is the read side of the audit log. Entries are only ever written by the
// persistence layer together with the mutation they record.
type Audit struct {
	persistence persistence.Persistence
}

// NewAudit creates a new audit log service.
func NewAudit(persistence persistence.Persistence) *Audit {
	return &Audit{persistence: persistence}
}

// List pages a journey's audit log newest first. Pass the CreatedAt of the last entry of
// a page as before to fetch the next one.
func (a *Audit) List(ctx context.Context, journeyID string, limit int, before time.Time) ([]*models.AuditLogEntry, error) {
	if journeyID == "" {
		return nil, NewValidationError("ListAudit", "JOURNEY_REQUIRED", "journey id is required", ErrInvalidRequest)
	}

	return a.persistence.Journeys().ListAudit(ctx, persistence.ListAuditOptions{
		JourneyID: journeyID,
		Limit:     persistence.ClampLimit(limit),
		Before:    before,
	})
}
