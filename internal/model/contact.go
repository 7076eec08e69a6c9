package model

import "time"

// Channel identifies the kind of contact identifier.
type Channel string

const (
	ChannelPhone  Channel = "phone"
	ChannelEmail  Channel = "email"
	ChannelSocial Channel = "social"
)

// Verdict is the validation outcome for a contact. Every validated contact
// resolves to valid or invalid; there is no unknown state.
type Verdict string

const (
	VerdictValid   Verdict = "valid"
	VerdictInvalid Verdict = "invalid"
)

// Contact is a validated contact identifier belonging to one brand.
// (BrandKey, Channel, Normalized) is the uniqueness triple; rediscovery
// updates verdict and confidence in place.
type Contact struct {
	ID           string    `json:"id"`
	BrandKey     string    `json:"brand_key"`
	Channel      Channel   `json:"channel"`
	Raw          string    `json:"raw"`
	Normalized   string    `json:"normalized"`
	Verdict      Verdict   `json:"verdict"`
	Confidence   float64   `json:"confidence"`
	DiscoveredAt time.Time `json:"discovered_at"`
}
