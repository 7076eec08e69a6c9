// Package validate normalizes raw contact strings and assigns verdicts and
// confidence scores. It is pure: no I/O, no mutation, same input always
// yields the same output.
package validate

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/saribumi/brandreach/internal/extract"
	"github.com/saribumi/brandreach/internal/model"
)

// Validated is a normalized contact with its verdict.
type Validated struct {
	Channel    model.Channel
	Normalized string
	Verdict    model.Verdict
	Confidence float64
}

const phoneRegion = "ID"

var emailShape = regexp.MustCompile(`^[a-z0-9._%+\-']+@[a-z0-9\-]+(\.[a-z0-9\-]+)*\.[a-z]{2,}$`)

// Validate normalizes one raw contact. The second return is false when the
// input fails minimal syntactic checks and should be discarded entirely;
// otherwise the verdict is always valid or invalid, never unknown.
func Validate(rc extract.RawContact) (Validated, bool) {
	switch rc.Channel {
	case model.ChannelPhone:
		return validatePhone(rc.Value)
	case model.ChannelEmail:
		return validateEmail(rc.Value)
	case model.ChannelSocial:
		return validateSocial(rc.Value)
	default:
		return Validated{}, false
	}
}

// validatePhone collapses any recognized prefix to canonical +62 form and
// scores by how explicit the original was:
//
//	1.0  original carried a 62 country prefix and lands on 12-13 digits
//	0.6  bare leading-zero form (ambiguous local vs mobile), or a country
//	     prefix with a short but in-range digit count
//	0.0  digit count outside [10,13] -> invalid
func validatePhone(raw string) (Validated, bool) {
	stripped := stripSeparators(raw)
	if digitCount(stripped) == 0 {
		return Validated{}, false
	}

	hadCountryPrefix := strings.HasPrefix(stripped, "+62") || strings.HasPrefix(stripped, "62")
	normalized := canonicalPhone(stripped)

	digits := digitCount(normalized)
	if digits < 10 || digits > 13 {
		return Validated{
			Channel:    model.ChannelPhone,
			Normalized: normalized,
			Verdict:    model.VerdictInvalid,
			Confidence: 0,
		}, true
	}

	confidence := 0.6
	if hadCountryPrefix && digits >= 12 && digits <= 13 {
		confidence = 1.0
	}
	return Validated{
		Channel:    model.ChannelPhone,
		Normalized: normalized,
		Verdict:    model.VerdictValid,
		Confidence: confidence,
	}, true
}

// canonicalPhone maps a separator-free phone string onto +62 form. Where the
// result parses as a real number, libphonenumber's E.164 rendering is the
// canonical value; the rule-based form is the fallback.
func canonicalPhone(stripped string) string {
	var normalized string
	switch {
	case strings.HasPrefix(stripped, "+62"):
		normalized = stripped
	case strings.HasPrefix(stripped, "62"):
		normalized = "+" + stripped
	case strings.HasPrefix(stripped, "0"):
		normalized = "+62" + stripped[1:]
	default:
		normalized = "+62" + stripped
	}

	if num, err := phonenumbers.Parse(normalized, phoneRegion); err == nil {
		if phonenumbers.IsPossibleNumber(num) {
			return phonenumbers.Format(num, phonenumbers.E164)
		}
	}
	return normalized
}

func validateEmail(raw string) (Validated, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" || !strings.Contains(normalized, "@") {
		return Validated{}, false
	}

	verdict := model.VerdictInvalid
	confidence := 0.0
	if emailShape.MatchString(normalized) && strings.Contains(strings.SplitN(normalized, "@", 2)[1], ".") {
		verdict = model.VerdictValid
		confidence = 0.9
	}
	return Validated{
		Channel:    model.ChannelEmail,
		Normalized: normalized,
		Verdict:    verdict,
		Confidence: confidence,
	}, true
}

// validateSocial keeps the confidence fixed at 0.5: a handle is inherently
// ambiguous proof of reachability regardless of its content.
func validateSocial(raw string) (Validated, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.TrimPrefix(normalized, "@")
	if normalized == "" {
		return Validated{}, false
	}

	verdict := model.VerdictValid
	confidence := 0.5
	if len(normalized) < 2 || strings.ContainsAny(normalized, " \t\n") {
		verdict = model.VerdictInvalid
		confidence = 0
	}
	return Validated{
		Channel:    model.ChannelSocial,
		Normalized: normalized,
		Verdict:    verdict,
		Confidence: confidence,
	}, true
}

func stripSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
