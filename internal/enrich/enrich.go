// Package enrich refines brand category and size-tier classification after
// discovery, preferring the Anthropic API and falling back to keyword
// heuristics when no client is configured or a call fails.
package enrich

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/saribumi/brandreach/internal/model"
	"github.com/saribumi/brandreach/pkg/anthropic"
)

// Store is the subset of the persistence interface enrichment needs.
type Store interface {
	ListBrands(ctx context.Context, limit, offset int) ([]model.Brand, error)
	SetBrandClassification(ctx context.Context, key string, category model.Category, tier model.SizeTier) error
}

const systemPrompt = `You classify Indonesian beauty brands. Given a brand name and summary, respond with exactly one line of the form:

category|size_tier

category is one of: skincare, makeup, haircare, bodycare, fragrance, other.
size_tier is one of: micro, small, medium.

UMKM, home-industry and artisan brands are micro. Local brands with an established storefront or reseller program are small. Manufacturers, distributors and incorporated companies (PT, Tbk) are medium. No explanation, just the single line.`

// Classifier assigns category and size tier to discovered brands.
type Classifier struct {
	client anthropic.Client
	model  string
}

// NewClassifier builds a classifier. A nil client means heuristics only.
func NewClassifier(client anthropic.Client, modelID string) *Classifier {
	return &Classifier{client: client, model: modelID}
}

// Classify returns the category and size tier for a brand. Classification
// never fails: API errors degrade to the keyword heuristic.
func (c *Classifier) Classify(ctx context.Context, b model.Brand) (model.Category, model.SizeTier) {
	if c.client == nil {
		return HeuristicCategory(b), HeuristicSizeTier(b)
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: 32,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: "Brand: " + b.DisplayName + "\nSummary: " + b.Summary},
		},
	})
	if err != nil {
		zap.L().Warn("classification call failed, using heuristic",
			zap.String("brand", b.Key),
			zap.Error(err))
		return HeuristicCategory(b), HeuristicSizeTier(b)
	}
	resp.Usage.LogCost(c.model, "enrich")

	category, tier, ok := parseClassification(resp.Text())
	if !ok {
		zap.L().Warn("unparseable classification response, using heuristic",
			zap.String("brand", b.Key),
			zap.String("response", resp.Text()))
		return HeuristicCategory(b), HeuristicSizeTier(b)
	}
	return category, tier
}

// Report summarizes one enrichment pass.
type Report struct {
	Examined   int `json:"examined"`
	Classified int `json:"classified"`
	Failed     int `json:"failed"`
}

// EnrichAll classifies every stored brand still missing a category or size
// tier and writes the result back. Per-brand store failures are counted,
// not fatal.
func (c *Classifier) EnrichAll(ctx context.Context, st Store) (*Report, error) {
	const pageSize = 100

	report := &Report{}
	for offset := 0; ; offset += pageSize {
		brands, err := st.ListBrands(ctx, pageSize, offset)
		if err != nil {
			return report, eris.Wrap(err, "enrich: list brands")
		}
		if len(brands) == 0 {
			return report, nil
		}
		for _, b := range brands {
			if err := ctx.Err(); err != nil {
				return report, eris.Wrap(err, "enrich: cancelled")
			}
			if b.Category != "" && b.SizeTier != model.SizeUnknown && b.SizeTier != "" {
				continue
			}
			report.Examined++

			category, tier := c.Classify(ctx, b)
			if b.Category != "" {
				category = b.Category
			}
			if err := st.SetBrandClassification(ctx, b.Key, category, tier); err != nil {
				zap.L().Warn("classification write failed",
					zap.String("brand", b.Key),
					zap.Error(err))
				report.Failed++
				continue
			}
			report.Classified++
		}
		if len(brands) < pageSize {
			return report, nil
		}
	}
}

func parseClassification(text string) (model.Category, model.SizeTier, bool) {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	parts := strings.Split(line, "|")
	if len(parts) != 2 {
		return "", "", false
	}
	category := model.Category(strings.TrimSpace(strings.ToLower(parts[0])))
	tier := model.SizeTier(strings.TrimSpace(strings.ToLower(parts[1])))

	switch category {
	case model.CategorySkincare, model.CategoryMakeup, model.CategoryHaircare,
		model.CategoryBodycare, model.CategoryFragrance, model.CategoryOther:
	default:
		return "", "", false
	}
	switch tier {
	case model.SizeMicro, model.SizeSmall, model.SizeMedium:
	default:
		return "", "", false
	}
	return category, tier, true
}

var categoryKeywords = []struct {
	category model.Category
	words    []string
}{
	{model.CategorySkincare, []string{"skincare", "serum", "moisturizer", "toner", "masker", "sunscreen", "cleanser", "perawatan kulit", "essence", "facial"}},
	{model.CategoryMakeup, []string{"makeup", "kosmetik", "lipstick", "lipstik", "foundation", "eyeshadow", "blush", "concealer", "cushion"}},
	{model.CategoryHaircare, []string{"hair", "rambut", "shampoo", "sampo", "conditioner"}},
	{model.CategoryBodycare, []string{"body care", "bodycare", "sabun", "lulur", "lotion", "body butter"}},
	{model.CategoryFragrance, []string{"parfum", "perfume", "fragrance", "eau de"}},
}

// HeuristicCategory guesses the product vertical from keywords in the brand
// name and summary.
func HeuristicCategory(b model.Brand) model.Category {
	text := strings.ToLower(b.DisplayName + " " + b.Summary)
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(text, w) {
				return ck.category
			}
		}
	}
	return model.CategoryOther
}

var (
	mediumIndicators = []string{"tbk", "pt.", "group", "corporation", "multinational", "international", "holding", "manufacturer", "distributor", "wholesale", "enterprise"}
	microIndicators  = []string{"umkm", "home", "handmade", "artisan", "rumahan", "homemade"}
)

// HeuristicSizeTier guesses the business size from keywords, defaulting to
// small: the discovery queries target UMKM brands.
func HeuristicSizeTier(b model.Brand) model.SizeTier {
	text := strings.ToLower(b.DisplayName + " " + b.URL + " " + b.Summary)
	for _, w := range mediumIndicators {
		if strings.Contains(text, w) {
			return model.SizeMedium
		}
	}
	for _, w := range microIndicators {
		if strings.Contains(text, w) {
			return model.SizeMicro
		}
	}
	return model.SizeSmall
}
