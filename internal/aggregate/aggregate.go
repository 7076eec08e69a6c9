// Package aggregate fans a discovery topic out across queries and source
// adapters, and collapses the results into distinct brand candidates.
package aggregate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saribumi/brandreach/internal/model"
	"github.com/saribumi/brandreach/internal/source"
)

// queryTemplates expands one topic into an ordered list of query strings.
// Order matters only for result ranking.
var queryTemplates = []string{
	"%s Indonesia UMKM",
	"produk %s lokal Indonesia",
	"%s brand Indonesia online shop",
	"usaha kecil %s Indonesia",
	"%s halal Indonesia",
}

// HistoryWriter records one row per (query, source) pair attempted.
type HistoryWriter interface {
	AppendSearch(ctx context.Context, q model.SearchQuery) error
}

// Config controls a discovery pass.
type Config struct {
	PerQueryLimit int
	Timeout       time.Duration
	MaxConcurrent int
}

// Aggregator merges candidates from all configured adapters.
type Aggregator struct {
	adapters []source.Adapter
	history  HistoryWriter
	cfg      Config
}

// New creates an Aggregator over the given adapters.
func New(adapters []source.Adapter, history HistoryWriter, cfg Config) *Aggregator {
	if cfg.PerQueryLimit <= 0 {
		cfg.PerQueryLimit = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Aggregator{adapters: adapters, history: history, cfg: cfg}
}

// Result is the outcome of one discovery pass, with per-pair counts for the
// partial-success summary.
type Result struct {
	Brands    []model.Brand
	Attempted int
	Failed    int
}

// ExpandQueries returns the deterministic query list for a topic.
func ExpandQueries(topic string) []string {
	topic = strings.TrimSpace(topic)
	queries := make([]string, 0, len(queryTemplates))
	for _, tmpl := range queryTemplates {
		queries = append(queries, fmt.Sprintf(tmpl, topic))
	}
	return queries
}

// Discover expands topic into queries, runs every adapter against each query,
// and merges candidates by normalized-name key. One adapter's failure never
// aborts the pass. Stops once maxResults distinct keys have accumulated or
// all (adapter, query) pairs are exhausted.
func (a *Aggregator) Discover(ctx context.Context, topic string, maxResults int) (*Result, error) {
	if maxResults <= 0 {
		maxResults = 50
	}

	res := &Result{}
	merged := make(map[string]*model.Brand)
	var order []string

	for _, query := range ExpandQueries(topic) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if len(order) >= maxResults {
			break
		}

		batches := a.searchAll(ctx, query)

		// History and merge run in adapter order so rows land in
		// query-issue order and ranking stays deterministic.
		for i, adapter := range a.adapters {
			res.Attempted++
			batch := batches[i]
			if batch.err != nil {
				res.Failed++
				zap.L().Warn("aggregate: source query failed",
					zap.String("source", adapter.ID()),
					zap.String("query", query),
					zap.Error(batch.err),
				)
			}
			a.appendHistory(ctx, query, adapter.ID(), len(batch.candidates))

			for _, c := range batch.candidates {
				mergeCandidate(merged, &order, c, maxResults)
			}
		}
	}

	for _, key := range order {
		res.Brands = append(res.Brands, *merged[key])
	}
	return res, nil
}

type batch struct {
	candidates []model.Candidate
	err        error
}

// searchAll queries every adapter in parallel for one query string, with an
// independent timeout per call.
func (a *Aggregator) searchAll(ctx context.Context, query string) []batch {
	batches := make([]batch, len(a.adapters))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxConcurrent)

	for i, adapter := range a.adapters {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gCtx, a.cfg.Timeout)
			defer cancel()

			candidates, err := adapter.Search(callCtx, query, a.cfg.PerQueryLimit)
			batches[i] = batch{candidates: candidates, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return batches
}

func (a *Aggregator) appendHistory(ctx context.Context, query, sourceID string, count int) {
	if a.history == nil {
		return
	}
	err := a.history.AppendSearch(ctx, model.SearchQuery{
		Query:       query,
		SourceID:    sourceID,
		ResultCount: count,
		SearchedAt:  time.Now().UTC(),
	})
	if err != nil {
		zap.L().Warn("aggregate: append search history failed",
			zap.String("query", query),
			zap.String("source", sourceID),
			zap.Error(err),
		)
	}
}

// mergeCandidate folds one candidate into the key-indexed accumulator. On a
// key collision mentions are unioned and the candidate with the longer
// summary text wins as canonical display text.
func mergeCandidate(merged map[string]*model.Brand, order *[]string, c model.Candidate, maxResults int) {
	key := model.BrandKey(c.Title)
	if key == "" {
		return
	}

	mention := model.Mention{SourceID: c.SourceID, URL: c.URL}
	if existing, ok := merged[key]; ok {
		existing.Mentions = model.MergeMentions(existing.Mentions, []model.Mention{mention})
		if len(c.Snippet) > len(existing.Summary) {
			existing.DisplayName = strings.TrimSpace(c.Title)
			existing.Summary = c.Snippet
		}
		if existing.URL == "" {
			existing.URL = c.URL
		}
		return
	}

	if len(*order) >= maxResults {
		return
	}
	merged[key] = &model.Brand{
		Key:          key,
		DisplayName:  strings.TrimSpace(c.Title),
		Summary:      c.Snippet,
		URL:          c.URL,
		SizeTier:     model.SizeUnknown,
		Mentions:     []model.Mention{mention},
		SourceID:     c.SourceID,
		DiscoveredAt: time.Now().UTC(),
	}
	*order = append(*order, key)
}
