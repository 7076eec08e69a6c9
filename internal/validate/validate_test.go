package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saribumi/brandreach/internal/extract"
	"github.com/saribumi/brandreach/internal/model"
)

func phone(raw string) extract.RawContact {
	return extract.RawContact{Channel: model.ChannelPhone, Value: raw}
}

func TestValidate_Phone_BareLeadingZero(t *testing.T) {
	t.Parallel()

	got, ok := Validate(phone("0812-3456-7890"))
	require.True(t, ok)
	assert.Equal(t, "+6281234567890", got.Normalized)
	assert.Equal(t, model.VerdictValid, got.Verdict)
	assert.Equal(t, 0.6, got.Confidence)
}

func TestValidate_Phone_ExplicitCountryPrefix(t *testing.T) {
	t.Parallel()

	got, ok := Validate(phone("+62 812 3456 7890"))
	require.True(t, ok)
	assert.Equal(t, "+6281234567890", got.Normalized)
	assert.Equal(t, model.VerdictValid, got.Verdict)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestValidate_Phone_BarePrefix62(t *testing.T) {
	t.Parallel()

	got, ok := Validate(phone("6281234567890"))
	require.True(t, ok)
	assert.Equal(t, "+6281234567890", got.Normalized)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestValidate_Phone_OutOfRangeInvalid(t *testing.T) {
	t.Parallel()

	// 14 digits after normalization.
	got, ok := Validate(phone("+62 8123 4567 8901 2"))
	require.True(t, ok)
	assert.Equal(t, model.VerdictInvalid, got.Verdict)
	assert.Equal(t, 0.0, got.Confidence)
}

func TestValidate_Phone_NormalizationIdempotent(t *testing.T) {
	t.Parallel()

	raws := []string{"0812-3456-7890", "+62 812 3456 7890", "62 813-9999-0000", "08221234567"}
	for _, raw := range raws {
		first, ok := Validate(phone(raw))
		require.True(t, ok, raw)

		second, ok := Validate(phone(first.Normalized))
		require.True(t, ok, raw)
		assert.Equal(t, first.Normalized, second.Normalized, raw)
	}
}

func TestValidate_Phone_NoDigitsDiscarded(t *testing.T) {
	t.Parallel()

	_, ok := Validate(phone("++--"))
	assert.False(t, ok)
}

func TestValidate_Email(t *testing.T) {
	t.Parallel()

	got, ok := Validate(extract.RawContact{Channel: model.ChannelEmail, Value: "Contact@Brand.co.id "})
	require.True(t, ok)
	assert.Equal(t, "contact@brand.co.id", got.Normalized)
	assert.Equal(t, model.VerdictValid, got.Verdict)
	assert.Equal(t, 0.9, got.Confidence)
}

func TestValidate_Email_BadShapeInvalid(t *testing.T) {
	t.Parallel()

	tests := []string{"halo@nodot", "a b@brand.id", "halo@@brand.id"}
	for _, raw := range tests {
		got, ok := Validate(extract.RawContact{Channel: model.ChannelEmail, Value: raw})
		require.True(t, ok, raw)
		assert.Equal(t, model.VerdictInvalid, got.Verdict, raw)
		assert.Equal(t, 0.0, got.Confidence, raw)
	}
}

func TestValidate_Email_NoAtDiscarded(t *testing.T) {
	t.Parallel()

	_, ok := Validate(extract.RawContact{Channel: model.ChannelEmail, Value: "not-an-email"})
	assert.False(t, ok)
}

func TestValidate_Social(t *testing.T) {
	t.Parallel()

	got, ok := Validate(extract.RawContact{Channel: model.ChannelSocial, Value: "@SariBumi.Glow"})
	require.True(t, ok)
	assert.Equal(t, "saribumi.glow", got.Normalized)
	assert.Equal(t, model.VerdictValid, got.Verdict)
	assert.Equal(t, 0.5, got.Confidence)
}

func TestValidate_Social_TooShortInvalid(t *testing.T) {
	t.Parallel()

	got, ok := Validate(extract.RawContact{Channel: model.ChannelSocial, Value: "@x"})
	require.True(t, ok)
	assert.Equal(t, model.VerdictInvalid, got.Verdict)
}

func TestValidate_NeverUnknownVerdict(t *testing.T) {
	t.Parallel()

	inputs := []extract.RawContact{
		phone("0812-3456-7890"),
		phone("+62 812 99"),
		{Channel: model.ChannelEmail, Value: "a@b.co"},
		{Channel: model.ChannelEmail, Value: "bad@shape"},
		{Channel: model.ChannelSocial, Value: "@ok_handle"},
	}
	for _, rc := range inputs {
		got, ok := Validate(rc)
		if !ok {
			continue
		}
		assert.Contains(t, []model.Verdict{model.VerdictValid, model.VerdictInvalid}, got.Verdict)
	}
}
