package main

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saribumi/brandreach/internal/model"
	"github.com/saribumi/brandreach/internal/source"
	"github.com/saribumi/brandreach/internal/store"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts <brand-or-url>",
	Short: "List stored contacts for one brand, with live lookup for new URLs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		brand, err := st.FindBrand(ctx, args[0])
		if err != nil {
			return err
		}
		if brand == nil {
			if !isHTTPURL(args[0]) {
				return eris.Errorf("brand not found: %s", args[0])
			}
			fetcher := initFetcher()
			if fetcher == nil {
				return eris.Errorf("brand not found and reader not configured for live lookup: %s", args[0])
			}
			brand, err = lookupBrandByURL(ctx, st, fetcher, args[0])
			if err != nil {
				return err
			}
		}

		contacts, err := st.ContactsForBrand(ctx, brand.Key)
		if err != nil {
			return err
		}

		out := struct {
			Brand    model.Brand     `json:"brand"`
			Contacts []model.Contact `json:"contacts"`
		}{Brand: *brand, Contacts: contacts}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// lookupBrandByURL is the live path for a URL no discovery pass has seen:
// fetch the page, register the brand under a host-derived name, and harvest
// its contacts before reporting.
func lookupBrandByURL(ctx context.Context, st store.Store, fetcher source.Fetcher, rawURL string) (*model.Brand, error) {
	pageText, err := fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch %s", rawURL)
	}

	brand, err := st.UpsertBrand(ctx, model.Brand{
		DisplayName:  brandNameFromURL(rawURL),
		URL:          rawURL,
		SizeTier:     model.SizeUnknown,
		SourceID:     "live",
		Mentions:     []model.Mention{{SourceID: "live", URL: rawURL}},
		DiscoveredAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "upsert brand for %s", rawURL)
	}

	stored, err := storeContacts(ctx, st, brand.Key, pageText)
	if err != nil {
		return nil, err
	}
	zap.L().Info("live contact lookup complete",
		zap.String("url", rawURL),
		zap.String("brand", brand.Key),
		zap.Int("contacts", stored),
	)
	return brand, nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// brandNameFromURL derives a display name from the host: the first label
// after any www prefix.
func brandNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return host
}

func init() {
	rootCmd.AddCommand(contactsCmd)
}
