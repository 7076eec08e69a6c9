package aggregate

import (
	"context"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saribumi/brandreach/internal/model"
	"github.com/saribumi/brandreach/internal/source"
)

// fakeAdapter returns canned candidates for every query.
type fakeAdapter struct {
	id         string
	candidates []model.Candidate
	err        error
	calls      int
	mu         sync.Mutex
}

func (f *fakeAdapter) ID() string { return f.id }

func (f *fakeAdapter) Search(_ context.Context, _ string, _ int) ([]model.Candidate, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

// memHistory collects appended search rows in order.
type memHistory struct {
	mu   sync.Mutex
	rows []model.SearchQuery
}

func (h *memHistory) AppendSearch(_ context.Context, q model.SearchQuery) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows = append(h.rows, q)
	return nil
}

func TestDiscover_MergesSameKeyAcrossSources(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{id: "web", candidates: []model.Candidate{
		{Title: "Brand X", Snippet: "short", URL: "https://a.example", SourceID: "web"},
	}}
	b := &fakeAdapter{id: "maps", candidates: []model.Candidate{
		{Title: "brand x", Snippet: "a much longer summary text", URL: "https://b.example", SourceID: "maps"},
	}}

	agg := New([]source.Adapter{a, b}, &memHistory{}, Config{})
	res, err := agg.Discover(context.Background(), "skincare", 10)
	require.NoError(t, err)

	require.Len(t, res.Brands, 1)
	brand := res.Brands[0]
	assert.Equal(t, "brand x", brand.Key)
	// Longer summary wins as canonical display text.
	assert.Equal(t, "a much longer summary text", brand.Summary)
	assert.Equal(t, []model.Mention{
		{SourceID: "web", URL: "https://a.example"},
		{SourceID: "maps", URL: "https://b.example"},
	}, brand.Mentions)
}

func TestDiscover_AdapterFailureIsolated(t *testing.T) {
	t.Parallel()

	bad := &fakeAdapter{id: "broken", err: eris.Wrap(source.ErrTimeout, "boom")}
	good := &fakeAdapter{id: "web", candidates: []model.Candidate{
		{Title: "Azarine", Snippet: "sunscreen", SourceID: "web"},
	}}

	agg := New([]source.Adapter{bad, good}, &memHistory{}, Config{})
	res, err := agg.Discover(context.Background(), "sunscreen", 10)
	require.NoError(t, err)

	require.Len(t, res.Brands, 1)
	assert.Equal(t, "azarine", res.Brands[0].Key)
	assert.Positive(t, res.Failed)
	assert.Greater(t, res.Attempted, res.Failed)
}

func TestDiscover_StopsAtMaxResults(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{id: "web", candidates: []model.Candidate{
		{Title: "Brand A", SourceID: "web"},
		{Title: "Brand B", SourceID: "web"},
		{Title: "Brand C", SourceID: "web"},
	}}

	agg := New([]source.Adapter{a}, &memHistory{}, Config{})
	res, err := agg.Discover(context.Background(), "kosmetik", 2)
	require.NoError(t, err)

	assert.Len(t, res.Brands, 2)
	// Second query never issued once maxResults distinct keys accumulated.
	assert.Equal(t, 1, a.calls)
}

func TestDiscover_HistoryRowPerPairAttempted(t *testing.T) {
	t.Parallel()

	hist := &memHistory{}
	bad := &fakeAdapter{id: "broken", err: eris.New("down")}
	good := &fakeAdapter{id: "web", candidates: []model.Candidate{{Title: "Brand A", SourceID: "web"}}}

	agg := New([]source.Adapter{bad, good}, hist, Config{})
	_, err := agg.Discover(context.Background(), "kosmetik", 100)
	require.NoError(t, err)

	queries := ExpandQueries("kosmetik")
	// One row per (adapter, query) pair, failures included.
	require.Len(t, hist.rows, 2*len(queries))
	// Rows appended in query-issue order.
	assert.Equal(t, queries[0], hist.rows[0].Query)
	assert.Equal(t, queries[0], hist.rows[1].Query)
	assert.Equal(t, queries[1], hist.rows[2].Query)
	// Failed pair recorded with zero results.
	assert.Equal(t, "broken", hist.rows[0].SourceID)
	assert.Equal(t, 0, hist.rows[0].ResultCount)
	assert.Equal(t, 1, hist.rows[1].ResultCount)
}

func TestDiscover_Cancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &fakeAdapter{id: "web"}
	agg := New([]source.Adapter{a}, &memHistory{}, Config{})
	_, err := agg.Discover(ctx, "kosmetik", 10)
	assert.Error(t, err)
}

func TestExpandQueries_Deterministic(t *testing.T) {
	t.Parallel()

	first := ExpandQueries("skincare")
	second := ExpandQueries("skincare")
	assert.Equal(t, first, second)
	assert.Contains(t, first[0], "skincare")
}
