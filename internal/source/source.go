// Package source defines the uniform search capability behind which all
// discovery sources sit, and the adapters implementing it. Each adapter
// isolates its own failure mode; callers never special-case a source.
package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/saribumi/brandreach/internal/model"
)

// Classified adapter failures. Every adapter error unwraps to exactly one
// of these.
var (
	ErrTimeout   = eris.New("source: timeout")
	ErrBlocked   = eris.New("source: blocked")
	ErrMalformed = eris.New("source: malformed response")
)

// Adapter issues one search request against a single external source.
// An empty candidate list is a valid result, not an error.
type Adapter interface {
	ID() string
	Search(ctx context.Context, query string, limit int) ([]model.Candidate, error)
}

// Fetcher retrieves the text content of a page, for contact extraction.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}
