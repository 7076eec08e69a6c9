package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saribumi/brandreach/internal/aggregate"
	"github.com/saribumi/brandreach/internal/extract"
	"github.com/saribumi/brandreach/internal/model"
	"github.com/saribumi/brandreach/internal/store"
	"github.com/saribumi/brandreach/internal/validate"
)

var discoverMaxResults int

var discoverCmd = &cobra.Command{
	Use:   "discover <topic>",
	Short: "Discover brands for a topic and harvest their contacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		result, err := runDiscovery(ctx, st, args[0], discoverMaxResults)
		if err != nil {
			return err
		}

		if result.SourcesFailed > 0 || result.PagesFailed > 0 {
			exitCode = 3
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// discoverResult summarizes one discovery pass for the CLI and the HTTP API.
type discoverResult struct {
	Topic            string `json:"topic"`
	Brands           int    `json:"brands"`
	ContactsStored   int    `json:"contacts_stored"`
	SourcesAttempted int    `json:"sources_attempted"`
	SourcesFailed    int    `json:"sources_failed"`
	PagesFailed      int    `json:"pages_failed"`
	BrandsClassified int    `json:"brands_classified"`
}

// runDiscovery executes the full discovery flow: fan out searches, persist
// merged brands, scan snippet and page text for contacts, validate and store
// them, then refine brand classification. Per-source and per-page failures
// degrade the result; store failures abort.
func runDiscovery(ctx context.Context, st store.Store, topic string, maxResults int) (*discoverResult, error) {
	adapters, err := initAdapters()
	if err != nil {
		return nil, err
	}
	fetcher := initFetcher()

	if maxResults <= 0 {
		maxResults = cfg.Discover.MaxResults
	}

	agg := aggregate.New(adapters, st, aggregate.Config{
		PerQueryLimit: cfg.Discover.PerQueryLimit,
		Timeout:       time.Duration(cfg.Discover.TimeoutSecs) * time.Second,
		MaxConcurrent: cfg.Discover.MaxConcurrent,
	})

	agr, err := agg.Discover(ctx, topic, maxResults)
	if err != nil {
		return nil, eris.Wrap(err, "discover")
	}

	result := &discoverResult{
		Topic:            topic,
		Brands:           len(agr.Brands),
		SourcesAttempted: agr.Attempted,
		SourcesFailed:    agr.Failed,
	}

	for _, b := range agr.Brands {
		stored, err := st.UpsertBrand(ctx, b)
		if err != nil {
			return nil, eris.Wrapf(err, "upsert brand %s", b.Key)
		}

		text := b.Summary
		if fetcher != nil && b.URL != "" {
			pageText, err := fetcher.Fetch(ctx, b.URL)
			if err != nil {
				result.PagesFailed++
				zap.L().Warn("page fetch failed",
					zap.String("brand", stored.Key),
					zap.String("url", b.URL),
					zap.Error(err),
				)
			} else {
				text = text + "\n" + pageText
			}
		}

		n, err := storeContacts(ctx, st, stored.Key, text)
		if err != nil {
			return nil, err
		}
		result.ContactsStored += n
	}

	// Classification refines category and size tier but never fails the
	// pass; heuristics cover for a missing or erroring API.
	report, err := initClassifier().EnrichAll(ctx, st)
	if err != nil {
		zap.L().Warn("brand classification failed", zap.Error(err))
	} else {
		result.BrandsClassified = report.Classified
	}

	zap.L().Info("discovery complete",
		zap.String("topic", topic),
		zap.Int("brands", result.Brands),
		zap.Int("contacts", result.ContactsStored),
		zap.Int("sources_failed", result.SourcesFailed),
		zap.Int("pages_failed", result.PagesFailed),
	)
	return result, nil
}

// storeContacts extracts, validates, and upserts every contact found in text.
func storeContacts(ctx context.Context, st store.Store, brandKey, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}

	stored := 0
	for _, rc := range extract.Contacts(text) {
		v, ok := validate.Validate(rc)
		if !ok {
			continue
		}
		_, err := st.UpsertContact(ctx, model.Contact{
			BrandKey:     brandKey,
			Channel:      v.Channel,
			Raw:          rc.Value,
			Normalized:   v.Normalized,
			Verdict:      v.Verdict,
			Confidence:   v.Confidence,
			DiscoveredAt: time.Now().UTC(),
		})
		if err != nil {
			return stored, eris.Wrapf(err, "upsert contact for brand %s", brandKey)
		}
		stored++
	}
	return stored, nil
}

func init() {
	discoverCmd.Flags().IntVar(&discoverMaxResults, "max-results", 0, "cap on distinct brands (default from config)")
	rootCmd.AddCommand(discoverCmd)
}
