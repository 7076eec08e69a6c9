package source

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/saribumi/brandreach/internal/model"
	"github.com/saribumi/brandreach/pkg/pagereader"
	"github.com/saribumi/brandreach/pkg/websearch"
)

// searchAdapter adapts a websearch client into the Adapter contract.
type searchAdapter struct {
	id     string
	client websearch.Client
}

// NewSearchAdapter wraps a websearch client as a discovery source.
func NewSearchAdapter(id string, client websearch.Client) Adapter {
	return &searchAdapter{id: id, client: client}
}

func (a *searchAdapter) ID() string {
	return a.id
}

func (a *searchAdapter) Search(ctx context.Context, query string, limit int) ([]model.Candidate, error) {
	resp, err := a.client.Search(ctx, query, limit)
	if err != nil {
		return nil, classify(err, a.id)
	}

	candidates := make([]model.Candidate, 0, len(resp.Data))
	for _, r := range resp.Data {
		if strings.TrimSpace(r.Title) == "" {
			continue
		}
		snippet := r.Description
		if snippet == "" {
			snippet = r.Content
		}
		candidates = append(candidates, model.Candidate{
			Title:    r.Title,
			Snippet:  snippet,
			URL:      r.URL,
			SourceID: a.id,
		})
	}
	return candidates, nil
}

// classify maps a raw client error onto the source error taxonomy.
func classify(err error, sourceID string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return eris.Wrapf(ErrTimeout, "source %s: %v", sourceID, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return eris.Wrapf(ErrTimeout, "source %s: %v", sourceID, err)
	}

	var se *websearch.StatusError
	if errors.As(err, &se) {
		if se.Code == http.StatusForbidden || se.Code == http.StatusTooManyRequests || looksBlocked(se.Body) {
			return eris.Wrapf(ErrBlocked, "source %s: status %d", sourceID, se.Code)
		}
		return eris.Wrapf(ErrMalformed, "source %s: status %d", sourceID, se.Code)
	}

	var re *pagereader.StatusError
	if errors.As(err, &re) {
		if re.Code == http.StatusForbidden || re.Code == http.StatusTooManyRequests || looksBlocked(re.Body) {
			return eris.Wrapf(ErrBlocked, "source %s: status %d", sourceID, re.Code)
		}
		return eris.Wrapf(ErrMalformed, "source %s: status %d", sourceID, re.Code)
	}

	return eris.Wrapf(ErrMalformed, "source %s: %v", sourceID, err)
}

// looksBlocked checks a response body for anti-bot challenge markers.
func looksBlocked(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range []string{
		"captcha",
		"recaptcha",
		"hcaptcha",
		"checking your browser",
		"cf-browser-verification",
		"rate limit",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
