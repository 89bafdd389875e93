package file

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/persistence"
	"github.com/google/uuid"
)

// journeyDocument is everything stored for one journey. The audit log lives in the same document so an
// audit entry is written by the same rename as the mutation it records.
type journeyDocument struct {
	Journey  *models.Journey            `json:"journey"`
	Draft    *models.Draft              `json:"draft,omitempty"`
	Versions []*models.PublishedVersion `json:"versions"`
	Audit    []*models.AuditLogEntry    `json:"audit"`
}

func (d *journeyDocument) latestVersion() int {
	latest := 0
	for _, v := range d.Versions {
		if v.Version > latest {
			latest = v.Version
		}
	}

	return latest
}

func (d *journeyDocument) appendAudit(entry *models.AuditLogEntry) {
	if entry == nil {
		return
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	entry.JourneyID = d.Journey.ID
	d.Audit = append(d.Audit, entry)
}

// JourneyRepository handles journey-related file operations.
type JourneyRepository struct {
	root  string // File system root for storing journeys
	locks *keyedMutex
}

// NewJourneyRepository creates a new journey repository.
func NewJourneyRepository(root string) *JourneyRepository {
	return &JourneyRepository{root: root, locks: newKeyedMutex()}
}

func (jr *JourneyRepository) path(journeyID string) string {
	return filepath.Join(jr.root, "journeys", journeyID+".json")
}

func (jr *JourneyRepository) load(journeyID string) (*journeyDocument, error) {
	if err := validateID("journey", journeyID); err != nil {
		return nil, err
	}

	var doc journeyDocument

	found, err := readDocument(jr.path(journeyID), &doc)
	if err != nil {
		return nil, err
	}

	if !found || doc.Journey == nil {
		return nil, persistence.ErrJourneyNotFound
	}

	return &doc, nil
}

// update loads the journey under its lock, applies fn and writes the document back if fn succeeds.
func (jr *JourneyRepository) update(op, journeyID string, fn func(doc *journeyDocument) error) error {
	if err := validateID("journey", journeyID); err != nil {
		return persistence.NewJourneyError(op, journeyID, err)
	}

	unlock := jr.locks.Lock(journeyID)
	defer unlock()

	doc, err := jr.load(journeyID)
	if err != nil {
		return persistence.NewJourneyError(op, journeyID, err)
	}

	if err := fn(doc); err != nil {
		return err
	}

	if err := writeDocument(jr.path(journeyID), doc); err != nil {
		return persistence.NewJourneyError(op, journeyID, err)
	}

	return nil
}

// CreateJourney stores a new journey document.
func (jr *JourneyRepository) CreateJourney(_ context.Context, journey *models.Journey, entry *models.AuditLogEntry) error {
	if err := validateID("journey", journey.ID); err != nil {
		return persistence.NewJourneyError("CreateJourney", journey.ID, err)
	}

	unlock := jr.locks.Lock(journey.ID)
	defer unlock()

	if _, err := os.Stat(jr.path(journey.ID)); err == nil {
		return persistence.NewJourneyError("CreateJourney", journey.ID, persistence.ErrJourneyAlreadyExists)
	}

	now := time.Now().UTC()
	if journey.CreatedAt.IsZero() {
		journey.CreatedAt = now
	}

	journey.UpdatedAt = now

	if journey.Status == "" {
		journey.Status = models.JourneyStatusDraft
	}

	doc := &journeyDocument{
		Journey:  journey,
		Versions: make([]*models.PublishedVersion, 0),
		Audit:    make([]*models.AuditLogEntry, 0),
	}
	doc.appendAudit(entry)

	if err := writeDocument(jr.path(journey.ID), doc); err != nil {
		return persistence.NewJourneyError("CreateJourney", journey.ID, err)
	}

	return nil
}

// GetJourney retrieves a journey by its ID.
func (jr *JourneyRepository) GetJourney(_ context.Context, journeyID string) (*models.Journey, error) {
	doc, err := jr.load(journeyID)
	if err != nil {
		return nil, persistence.NewJourneyError("GetJourney", journeyID, err)
	}

	return doc.Journey, nil
}

// ListJourneys returns every journey ordered by ID.
func (jr *JourneyRepository) ListJourneys(ctx context.Context) ([]*models.Journey, error) {
	files, err := jr.documentIDs()
	if err != nil {
		return nil, err
	}

	journeys := make([]*models.Journey, 0, len(files))

	for _, journeyID := range files {
		journey, err := jr.GetJourney(ctx, journeyID)
		if err != nil {
			if persistence.IsJourneyNotFound(err) {
				continue
			}

			return nil, err
		}

		journeys = append(journeys, journey)
	}

	return journeys, nil
}

func (jr *JourneyRepository) documentIDs() ([]string, error) {
	dir := filepath.Join(jr.root, "journeys")

	jsonFiles, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list journey files: %w", err)
	}

	ids := make([]string, 0, len(jsonFiles))
	for _, file := range jsonFiles {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	slices.Sort(ids)

	return ids, nil
}

// GetDraft returns the open draft of a journey.
func (jr *JourneyRepository) GetDraft(_ context.Context, journeyID string) (*models.Draft, error) {
	doc, err := jr.load(journeyID)
	if err != nil {
		return nil, persistence.NewJourneyError("GetDraft", journeyID, err)
	}

	if doc.Draft == nil {
		return nil, persistence.NewJourneyError("GetDraft", journeyID, persistence.ErrDraftNotFound)
	}

	return doc.Draft, nil
}

// CreateDraft stores the first draft of a journey.
func (jr *JourneyRepository) CreateDraft(_ context.Context, draft *models.Draft, entry *models.AuditLogEntry) error {
	return jr.update("CreateDraft", draft.JourneyID, func(doc *journeyDocument) error {
		if doc.Draft != nil {
			return persistence.NewJourneyError("CreateDraft", draft.JourneyID, persistence.ErrDraftAlreadyExists)
		}

		if draft.DraftID == "" {
			draft.DraftID = uuid.NewString()
		}

		draft.UpdatedAt = time.Now().UTC()
		doc.Draft = draft

		if entry != nil {
			entry.DraftID = &draft.DraftID
		}

		doc.appendAudit(entry)

		return nil
	})
}

// SaveDraft overwrites the open draft, creating it if the journey has none.
func (jr *JourneyRepository) SaveDraft(_ context.Context, draft *models.Draft, entry *models.AuditLogEntry) error {
	return jr.update("SaveDraft", draft.JourneyID, func(doc *journeyDocument) error {
		switch {
		case doc.Draft != nil:
			draft.DraftID = doc.Draft.DraftID
		case draft.DraftID == "":
			draft.DraftID = uuid.NewString()
		}

		draft.UpdatedAt = time.Now().UTC()
		doc.Draft = draft
		doc.Journey.UpdatedAt = draft.UpdatedAt

		if entry != nil {
			entry.DraftID = &draft.DraftID
		}

		doc.appendAudit(entry)

		return nil
	})
}

// Publish stores the next published version of a journey.
func (jr *JourneyRepository) Publish(_ context.Context, version *models.PublishedVersion, entry *models.AuditLogEntry) error {
	journeyID := version.JourneyID

	var inconsistent *persistence.JourneyError

	err := jr.update("Publish", journeyID, func(doc *journeyDocument) error {
		if doc.Journey.Inconsistent {
			return persistence.NewJourneyError("Publish", journeyID, persistence.ErrJourneyInconsistent)
		}

		latest := doc.latestVersion()
		if latest != doc.Journey.CurrentPublishedVersion {
			doc.Journey.Inconsistent = true
			inconsistent = &persistence.JourneyError{
				Op:        "Publish",
				JourneyID: journeyID,
				Err:       persistence.ErrJourneyInconsistent,
				Message:   fmt.Sprintf("pointer at version %d, latest stored version %d", doc.Journey.CurrentPublishedVersion, latest),
			}

			// the flag is persisted, the publish is not
			return nil
		}

		next := doc.Journey.CurrentPublishedVersion + 1
		now := time.Now().UTC()

		version.Version = next
		if version.PublishedAt.IsZero() {
			version.PublishedAt = now
		}

		doc.Versions = append(doc.Versions, version)
		doc.Journey.CurrentPublishedVersion = next
		doc.Journey.UpdatedAt = now

		if doc.Journey.Status == models.JourneyStatusDraft {
			doc.Journey.Status = models.JourneyStatusPublished
		}

		if entry != nil {
			if entry.Details == nil {
				entry.Details = make(map[string]any)
			}

			entry.Details["version"] = next

			if doc.Draft != nil {
				entry.DraftID = &doc.Draft.DraftID
			}
		}

		doc.appendAudit(entry)

		return nil
	})
	if err != nil {
		return err
	}

	if inconsistent != nil {
		return inconsistent
	}

	return nil
}

// GetVersion returns a published version of a journey.
func (jr *JourneyRepository) GetVersion(_ context.Context, journeyID string, version int) (*models.PublishedVersion, error) {
	doc, err := jr.load(journeyID)
	if err != nil {
		return nil, persistence.NewVersionError("GetVersion", journeyID, version, err)
	}

	for _, v := range doc.Versions {
		if v.Version == version {
			return v, nil
		}
	}

	return nil, persistence.NewVersionError("GetVersion", journeyID, version, persistence.ErrVersionNotFound)
}

// ListVersions returns the published versions of a journey in ascending order.
func (jr *JourneyRepository) ListVersions(_ context.Context, journeyID string) ([]*models.PublishedVersion, error) {
	doc, err := jr.load(journeyID)
	if err != nil {
		return nil, persistence.NewJourneyError("ListVersions", journeyID, err)
	}

	versions := slices.Clone(doc.Versions)
	slices.SortFunc(versions, func(a, b *models.PublishedVersion) int {
		return cmp.Compare(a.Version, b.Version)
	})

	return versions, nil
}

// SetStatus changes the lifecycle status of a journey.
func (jr *JourneyRepository) SetStatus(_ context.Context, journeyID string, status models.JourneyStatus, entry *models.AuditLogEntry) error {
	return jr.update("SetStatus", journeyID, func(doc *journeyDocument) error {
		doc.Journey.Status = status
		doc.Journey.UpdatedAt = time.Now().UTC()
		doc.appendAudit(entry)

		return nil
	})
}

// Reconcile moves the pointer to the latest stored version and clears the inconsistent flag.
func (jr *JourneyRepository) Reconcile(_ context.Context, journeyID string, entry *models.AuditLogEntry) (*models.Journey, error) {
	var journey *models.Journey

	err := jr.update("Reconcile", journeyID, func(doc *journeyDocument) error {
		latest := doc.latestVersion()

		if entry != nil {
			if entry.Details == nil {
				entry.Details = make(map[string]any)
			}

			entry.Details["from_version"] = doc.Journey.CurrentPublishedVersion
			entry.Details["to_version"] = latest
		}

		doc.Journey.CurrentPublishedVersion = latest
		doc.Journey.Inconsistent = false
		doc.Journey.UpdatedAt = time.Now().UTC()

		if latest > 0 && doc.Journey.Status == models.JourneyStatusDraft {
			doc.Journey.Status = models.JourneyStatusPublished
		}

		doc.appendAudit(entry)
		journey = doc.Journey

		return nil
	})
	if err != nil {
		return nil, err
	}

	return journey, nil
}

// AppendAudit records an entry without any other change.
func (jr *JourneyRepository) AppendAudit(_ context.Context, entry *models.AuditLogEntry) error {
	return jr.update("AppendAudit", entry.JourneyID, func(doc *journeyDocument) error {
		doc.appendAudit(entry)

		return nil
	})
}

// ListAudit returns audit entries newest first.
func (jr *JourneyRepository) ListAudit(_ context.Context, opts persistence.ListAuditOptions) ([]*models.AuditLogEntry, error) {
	doc, err := jr.load(opts.JourneyID)
	if err != nil {
		return nil, persistence.NewJourneyError("ListAudit", opts.JourneyID, err)
	}

	limit := persistence.ClampLimit(opts.Limit)
	entries := make([]*models.AuditLogEntry, 0, limit)

	for i := len(doc.Audit) - 1; i >= 0 && len(entries) < limit; i-- {
		entry := doc.Audit[i]
		if !opts.Before.IsZero() && !entry.CreatedAt.Before(opts.Before) {
			continue
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
