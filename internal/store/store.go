// Package store persists brands, contacts, outreach records and search
// history behind one interface with SQLite and Postgres implementations.
package store

import (
	"context"
	"time"

	"github.com/saribumi/brandreach/internal/model"
)

// PendingContact is a contact eligible for outreach plus the dispatch
// history the scheduler needs for retry and backoff decisions.
type PendingContact struct {
	model.Contact

	// FailuresSinceSent counts failed attempts after the most recent sent
	// outcome (or ever, if the contact was never sent to).
	FailuresSinceSent int

	// LastFailedAt is the time of the most recent failed attempt, if any.
	LastFailedAt *time.Time
}

// Store defines the persistence interface for the discovery and outreach
// pipeline. All writes are atomic at single-entity granularity; upserts are
// insert-or-merge and never fail on a concurrent duplicate key.
type Store interface {
	// Brands
	UpsertBrand(ctx context.Context, b model.Brand) (*model.Brand, error)
	GetBrand(ctx context.Context, key string) (*model.Brand, error)
	FindBrand(ctx context.Context, nameOrURL string) (*model.Brand, error)
	ListBrands(ctx context.Context, limit, offset int) ([]model.Brand, error)
	SetBrandClassification(ctx context.Context, key string, category model.Category, tier model.SizeTier) error

	// Contacts
	UpsertContact(ctx context.Context, c model.Contact) (*model.Contact, error)
	GetContact(ctx context.Context, id string) (*model.Contact, error)
	ContactsForBrand(ctx context.Context, brandKey string) ([]model.Contact, error)
	PendingContacts(ctx context.Context, channel model.Channel, limit int, cooldown time.Duration) ([]PendingContact, error)

	// Outreach audit log (append-only)
	AppendOutreach(ctx context.Context, rec model.OutreachRecord) (*model.OutreachRecord, error)
	SentWithin(ctx context.Context, contactID string, window time.Duration) (bool, error)
	OutreachHistory(ctx context.Context, contactID string, limit int) ([]model.OutreachRecord, error)

	// Search history (analytics only)
	AppendSearch(ctx context.Context, q model.SearchQuery) error

	// Reporting
	Snapshot(ctx context.Context) ([]model.SnapshotRow, error)
	Stats(ctx context.Context) (*model.Stats, error)

	// Purge drops outreach and search rows older than the cutoff and
	// returns the number of rows removed. Brands and contacts are never
	// touched by purge.
	Purge(ctx context.Context, olderThan time.Duration) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// mergeBrand folds an incoming discovery of a brand into the stored row:
// mentions are unioned, the longer summary wins the display text, and
// category/size are refined only when previously unset.
func mergeBrand(existing, incoming model.Brand) model.Brand {
	merged := existing
	merged.Mentions = model.MergeMentions(existing.Mentions, incoming.Mentions)
	if len(incoming.Summary) > len(existing.Summary) {
		merged.Summary = incoming.Summary
		if incoming.DisplayName != "" {
			merged.DisplayName = incoming.DisplayName
		}
	}
	if merged.URL == "" {
		merged.URL = incoming.URL
	}
	if merged.Category == "" && incoming.Category != "" {
		merged.Category = incoming.Category
	}
	if (merged.SizeTier == "" || merged.SizeTier == model.SizeUnknown) && incoming.SizeTier != "" {
		merged.SizeTier = incoming.SizeTier
	}
	return merged
}
