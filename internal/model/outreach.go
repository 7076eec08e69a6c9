package model

import "time"

// Outcome is the final result of one dispatch attempt.
type Outcome string

const (
	OutcomeSent               Outcome = "sent"
	OutcomeFailed             Outcome = "failed"
	OutcomeSkippedRateLimited Outcome = "skipped_rate_limited"
	OutcomeSkippedDuplicate   Outcome = "skipped_duplicate"
)

// OutreachRecord is one append-only audit row per dispatch attempt.
// Records are immutable after creation.
type OutreachRecord struct {
	ID           string    `json:"id"`
	ContactID    string    `json:"contact_id"`
	Attempt      int       `json:"attempt"`
	TemplateID   string    `json:"template_id"`
	Body         string    `json:"body"`
	Outcome      Outcome   `json:"outcome"`
	ErrorDetail  string    `json:"error_detail,omitempty"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// SearchQuery records one (query, source) attempt during discovery.
// Write-once, analytics only.
type SearchQuery struct {
	ID          string    `json:"id"`
	Query       string    `json:"query"`
	SourceID    string    `json:"source_id"`
	ResultCount int       `json:"result_count"`
	SearchedAt  time.Time `json:"searched_at"`
}

// SnapshotRow is one line of the flat export dump: a contact joined with
// its brand and the outcome of its most recent outreach attempt.
type SnapshotRow struct {
	BrandName       string  `json:"brand_name"`
	Category        string  `json:"category"`
	SizeTier        string  `json:"size_tier"`
	Channel         string  `json:"channel"`
	NormalizedValue string  `json:"normalized_value"`
	Verdict         string  `json:"verdict"`
	Confidence      float64 `json:"confidence"`
	LastOutcome     string  `json:"last_outcome"`
}

// Stats summarizes store contents for the stats command.
type Stats struct {
	TotalBrands       int            `json:"total_brands"`
	BrandsByCategory  map[string]int `json:"brands_by_category"`
	BrandsBySizeTier  map[string]int `json:"brands_by_size_tier"`
	TotalContacts     int            `json:"total_contacts"`
	ContactsByChannel map[string]int `json:"contacts_by_channel"`
	OutreachByOutcome map[string]int `json:"outreach_by_outcome"`
	RecentBrands      int            `json:"recent_brands"`
	TotalSearches     int            `json:"total_searches"`
}
