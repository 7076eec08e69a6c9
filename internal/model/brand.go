package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Category labels the product vertical a brand operates in.
type Category string

const (
	CategorySkincare Category = "skincare"
	CategoryMakeup   Category = "makeup"
	CategoryHaircare Category = "haircare"
	CategoryBodycare Category = "bodycare"
	CategoryFragrance Category = "fragrance"
	CategoryOther    Category = "other"
)

// SizeTier classifies a brand by business size. UMKM brands fall into the
// micro/small/medium tiers.
type SizeTier string

const (
	SizeUnknown SizeTier = "unknown"
	SizeMicro   SizeTier = "micro"
	SizeSmall   SizeTier = "small"
	SizeMedium  SizeTier = "medium"
)

// Mention records one place a brand was seen during discovery.
type Mention struct {
	SourceID string `json:"source_id"`
	URL      string `json:"url,omitempty"`
}

// Brand is a discovered brand entity. Key is the dedup identity: no two
// stored brands share the same Key.
type Brand struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	DisplayName  string    `json:"display_name"`
	Summary      string    `json:"summary,omitempty"`
	URL          string    `json:"url,omitempty"`
	Category     Category  `json:"category,omitempty"`
	SizeTier     SizeTier  `json:"size_tier"`
	Mentions     []Mention `json:"mentions,omitempty"`
	SourceID     string    `json:"source_id"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Candidate is a raw discovery hit returned by a source adapter, before
// dedup and extraction.
type Candidate struct {
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	URL      string `json:"url"`
	SourceID string `json:"source_id"`
}

// BrandKey normalizes a display name into the canonical dedup key:
// NFKD-normalized, case-folded, inner whitespace collapsed to single spaces.
func BrandKey(name string) string {
	s := norm.NFKD.String(name)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// MergeMentions unions two mention lists, preserving order of first sight.
func MergeMentions(existing, incoming []Mention) []Mention {
	seen := make(map[Mention]struct{}, len(existing))
	out := make([]Mention, 0, len(existing)+len(incoming))
	for _, m := range existing {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	for _, m := range incoming {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
