package models

import "time"

// JourneyStatus represents the lifecycle state of a journey as a whole.
type JourneyStatus string

const (
	JourneyStatusDraft     JourneyStatus = "draft"     // never published
	JourneyStatusPublished JourneyStatus = "published" // has at least one published version
	JourneyStatusArchived  JourneyStatus = "archived"  // hidden from new runs
)

// Journey is the stable identity of a versioned journey.
type Journey struct {
	ID                      string        `json:"id"                        validate:"required,slug"`
	Name                    string        `json:"name"                      validate:"required,min=3"`
	Status                  JourneyStatus `json:"status"`
	CurrentPublishedVersion int           `json:"current_published_version"`
	Inconsistent            bool          `json:"inconsistent"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

// Draft is the single mutable working copy of a journey.
type Draft struct {
	DraftID    string             `json:"draft_id"`
	JourneyID  string             `json:"journey_id"`
	Definition *JourneyDefinition `json:"definition"`
	UpdatedAt  time.Time          `json:"updated_at"`
	UpdatedBy  string             `json:"updated_by"`
}

// PublishedVersion is an immutable, numbered snapshot of a journey definition.
type PublishedVersion struct {
	JourneyID    string             `json:"journey_id"`
	Version      int                `json:"version"`
	Definition   *JourneyDefinition `json:"definition"`
	PublishedAt  time.Time          `json:"published_at"`
	PublishedBy  string             `json:"published_by"`
	ReleaseNotes string             `json:"release_notes,omitempty"`
}

// AuditAction enumerates the mutations recorded in the audit log.
type AuditAction string

const (
	AuditActionCreate    AuditAction = "create"
	AuditActionEdit      AuditAction = "edit"
	AuditActionValidate  AuditAction = "validate"
	AuditActionPublish   AuditAction = "publish"
	AuditActionRollback  AuditAction = "rollback"
	AuditActionStatus    AuditAction = "status"
	AuditActionReconcile AuditAction = "reconcile"
)

// AuditLogEntry is an append-only record of a mutation to a journey.
type AuditLogEntry struct {
	ID        string         `json:"id"`
	JourneyID string         `json:"journey_id"`
	DraftID   *string        `json:"draft_id,omitempty"`
	Action    AuditAction    `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedBy string         `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
}
