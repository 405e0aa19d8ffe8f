package extractor

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/ingestlab/telecorpus/pkg/model"
)

var nonDigits = regexp.MustCompile(`[^\d+]`)

// normalize implements spec.md §4.I step 2's per-type normalization:
// lowercasing URLs' host, E.164 normalization for phones where
// possible, stripping whitespace for crypto addresses, and lowering
// email local/domain.
func normalize(detType model.DetectionType, matched string) string {
	switch detType {
	case model.DetectionEmail:
		return strings.ToLower(strings.TrimSpace(matched))
	case model.DetectionPhone:
		return normalizePhone(matched)
	case model.DetectionCrypto:
		return strings.Join(strings.Fields(matched), "")
	case model.DetectionURL:
		return normalizeURLHost(matched)
	case model.DetectionInviteLink, model.DetectionTelegramLink, model.DetectionTelegramUsername:
		return strings.ToLower(strings.TrimSpace(matched))
	default:
		return strings.TrimSpace(matched)
	}
}

// normalizePhone strips everything but leading + and digits, giving a
// best-effort E.164 shape without a full libphonenumber dependency
// (spec.md only asks for normalization "where possible", not strict
// validation).
func normalizePhone(raw string) string {
	s := nonDigits.ReplaceAllString(raw, "")
	if s == "" {
		return s
	}
	if !strings.HasPrefix(s, "+") {
		s = "+" + s
	}
	return s
}

// normalizeURLHost lowercases the host component only, leaving path,
// query, and fragment case as observed (spec.md: "lowercasing URLs'
// host").
func normalizeURLHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// context returns the ±K characters of text around the byte range
// [start,end), per spec.md §4.I step 2. Offsets are converted from
// bytes (regexp match indices) to runes so multi-byte characters aren't
// split.
func context(text string, start, end, k int) (before, after string) {
	runes := []rune(text)
	startRune := len([]rune(text[:start]))
	endRune := len([]rune(text[:end]))

	beforeStart := startRune - k
	if beforeStart < 0 {
		beforeStart = 0
	}
	afterEnd := endRune + k
	if afterEnd > len(runes) {
		afterEnd = len(runes)
	}
	return string(runes[beforeStart:startRune]), string(runes[endRune:afterEnd])
}
