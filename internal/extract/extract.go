// Package extract scans candidate text for raw contact strings. It is pure
// text-to-candidates: page fetching belongs to source adapters, and
// deduplication belongs to the validator, which operates on normalized values.
package extract

import (
	"regexp"
	"strings"

	"github.com/saribumi/brandreach/internal/model"
)

// RawContact is an unvalidated contact string with a channel guess.
type RawContact struct {
	Channel model.Channel
	Value   string
}

var (
	// Indonesian mobile formats: +62/62/leading-0 prefix, digits optionally
	// separated by spaces or hyphens.
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\+62[\s\-]?[0-9][0-9\s\-]{7,14}[0-9]`),
		// The leading boundary excludes '+' (pattern above owns it) and '/'
		// (wa.me links are handled separately).
		regexp.MustCompile(`(^|[^+0-9/])(62[\s\-]?8[0-9\s\-]{7,13}[0-9])`),
		regexp.MustCompile(`(^|[^0-9])(0[0-9][0-9\s\-]{7,13}[0-9])`),
	}

	waLinkPattern = regexp.MustCompile(`wa\.me/(\+?[0-9]{9,15})`)

	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// @handle tokens; the leading boundary keeps email domains out.
	handlePattern = regexp.MustCompile(`(^|[^A-Za-z0-9._%+\-])@([A-Za-z0-9_.]{2,30})`)

	// Profile URLs without an @ token; tiktok-style /@handle URLs are
	// already caught by handlePattern.
	socialURLPattern = regexp.MustCompile(`(?:instagram\.com|facebook\.com)/([A-Za-z0-9_.]{2,30})`)
)

// platformKeywords mark text regions where an @handle token is likely a
// social contact rather than stray punctuation.
var platformKeywords = []string{
	"instagram", "ig", "tiktok", "facebook", "fb", "twitter", "follow", "dm",
}

// Contacts scans one text blob and returns every raw contact occurrence,
// in document order per channel. No deduplication.
func Contacts(text string) []RawContact {
	if text == "" {
		return nil
	}

	var out []RawContact
	out = append(out, phones(text)...)
	out = append(out, emails(text)...)
	out = append(out, handles(text)...)
	return out
}

// FromCandidate scans a candidate's title and snippet plus optional fetched
// page text.
func FromCandidate(c model.Candidate, pageText string) []RawContact {
	out := Contacts(c.Title + "\n" + c.Snippet)
	if pageText != "" {
		out = append(out, Contacts(pageText)...)
	}
	return out
}

func phones(text string) []RawContact {
	var out []RawContact
	emit := func(raw string) {
		raw = strings.TrimSpace(raw)
		// Total-digit window gate; out-of-window strings never reach the
		// validator.
		n := digitCount(raw)
		if n < 9 || n > 13 {
			return
		}
		out = append(out, RawContact{Channel: model.ChannelPhone, Value: raw})
	}

	for _, match := range phonePatterns[0].FindAllString(text, -1) {
		emit(match)
	}
	for _, groups := range phonePatterns[1].FindAllStringSubmatch(text, -1) {
		emit(groups[2])
	}
	for _, groups := range phonePatterns[2].FindAllStringSubmatch(text, -1) {
		emit(groups[2])
	}
	for _, groups := range waLinkPattern.FindAllStringSubmatch(text, -1) {
		emit(groups[1])
	}
	return out
}

func emails(text string) []RawContact {
	var out []RawContact
	for _, match := range emailPattern.FindAllString(text, -1) {
		out = append(out, RawContact{Channel: model.ChannelEmail, Value: match})
	}
	return out
}

func handles(text string) []RawContact {
	var out []RawContact

	for _, groups := range handlePattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := groups[4], groups[5]
		handle := text[start:end]
		if nearPlatformKeyword(text, start) {
			out = append(out, RawContact{Channel: model.ChannelSocial, Value: "@" + handle})
		}
	}
	for _, groups := range socialURLPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, RawContact{Channel: model.ChannelSocial, Value: "@" + groups[1]})
	}
	return out
}

// nearPlatformKeyword checks the window preceding an @handle for a known
// platform keyword.
func nearPlatformKeyword(text string, pos int) bool {
	start := pos - 60
	if start < 0 {
		start = 0
	}
	window := strings.ToLower(text[start:pos])
	for _, kw := range platformKeywords {
		if strings.Contains(window, kw) {
			return true
		}
	}
	return false
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
