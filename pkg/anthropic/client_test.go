package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageResponse_Text(t *testing.T) {
	t.Parallel()
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "skincare"},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "|micro"},
	}}
	assert.Equal(t, "skincare|micro", resp.Text())
}

func TestTokenUsage_EstimateCost(t *testing.T) {
	t.Parallel()
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 500_000}

	assert.InDelta(t, 0.80+2.00, u.EstimateCost("claude-haiku-4-5"), 1e-9)
	assert.Zero(t, u.EstimateCost("unknown-model"))
}

func TestTokenUsage_EstimateCost_Cache(t *testing.T) {
	t.Parallel()
	u := TokenUsage{CacheCreationInputTokens: 1_000_000, CacheReadInputTokens: 1_000_000}

	// Cache writes bill at 1.25x input, reads at 0.1x.
	assert.InDelta(t, 0.80*1.25+0.80*0.1, u.EstimateCost("claude-haiku-4-5"), 1e-9)
}

func TestBuildCachedSystemBlocks(t *testing.T) {
	t.Parallel()
	blocks := BuildCachedSystemBlocks("classify brands")

	assert.Len(t, blocks, 1)
	assert.Equal(t, "classify brands", blocks[0].Text)
	assert.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "5m", blocks[0].CacheControl.TTL)
}
