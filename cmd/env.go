package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/saribumi/brandreach/internal/enrich"
	"github.com/saribumi/brandreach/internal/outreach"
	"github.com/saribumi/brandreach/internal/source"
	"github.com/saribumi/brandreach/internal/store"
	anthropicpkg "github.com/saribumi/brandreach/pkg/anthropic"
	"github.com/saribumi/brandreach/pkg/pagereader"
	"github.com/saribumi/brandreach/pkg/wagateway"
	"github.com/saribumi/brandreach/pkg/websearch"
)

// initStore opens the configured backend and applies migrations.
// Callers should defer Close.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)

	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "brandreach.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initAdapters builds one search adapter per configured source.
func initAdapters() ([]source.Adapter, error) {
	adapters := make([]source.Adapter, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if s.ID == "" || s.BaseURL == "" {
			return nil, eris.Errorf("source config needs id and base_url, got id=%q base_url=%q", s.ID, s.BaseURL)
		}
		client := websearch.NewClient(s.Key, s.BaseURL)
		adapters = append(adapters, source.NewSearchAdapter(s.ID, client))
	}
	if len(adapters) == 0 {
		return nil, eris.New("no search sources configured (BRANDREACH_SOURCES)")
	}
	return adapters, nil
}

// initFetcher builds the page-text fetcher, or nil when no reader endpoint
// is configured. Discovery without a fetcher scans snippets only.
func initFetcher() source.Fetcher {
	if cfg.Reader.BaseURL == "" {
		zap.L().Debug("reader not configured, page fetch disabled")
		return nil
	}
	return source.NewReaderFetcher(pagereader.NewClient(cfg.Reader.Key, cfg.Reader.BaseURL))
}

// initScheduler wires the template catalog, the gateway session, and the
// outreach policy from config.
func initScheduler(st store.Store) (*outreach.Scheduler, error) {
	if err := cfg.Outreach.Validate(); err != nil {
		return nil, err
	}
	if cfg.Gateway.BaseURL == "" {
		return nil, eris.New("gateway base_url is required (BRANDREACH_GATEWAY_BASE_URL)")
	}

	catalog, err := outreach.LoadCatalog(cfg.Outreach.TemplatesPath)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.Gateway.TimeoutSecs) * time.Second
	session := wagateway.NewClient(cfg.Gateway.Key, cfg.Gateway.BaseURL, cfg.Gateway.SessionID,
		wagateway.WithHTTPClient(&http.Client{Timeout: timeout}))

	return outreach.NewScheduler(st, session, catalog, outreach.Config{
		MinInterval:  cfg.Outreach.MinInterval(),
		Cooldown:     cfg.Outreach.Cooldown(),
		MaxRetries:   cfg.Outreach.MaxRetries,
		BatchSize:    cfg.Outreach.BatchSize,
		RetryBackoff: cfg.Outreach.RetryBackoff(),
		SendTimeout:  time.Duration(cfg.Outreach.SendTimeoutSecs) * time.Second,
	}), nil
}

// initClassifier builds the brand classifier. Without an API key it runs
// on keyword heuristics alone.
func initClassifier() *enrich.Classifier {
	var client anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		client = anthropicpkg.NewClient(cfg.Anthropic.Key)
	} else {
		zap.L().Debug("BRANDREACH_ANTHROPIC_KEY not set, classification uses heuristics only")
	}
	return enrich.NewClassifier(client, cfg.Anthropic.Model)
}
