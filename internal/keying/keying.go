// Package keying produces the deterministic grouping keys the risk engine
// aggregates exposure by. Two keys are derived per market and scan instant:
//
//   - window key: a coarse bucket of time-to-resolution, from a closed set
//     of six labels
//   - assumption key: a short hash over normalized market attributes, built
//     so that different markets sharing the same underlying thesis collide
//     on purpose and count against one cap
package keying

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/Wackazakka/polymarket-no-carry-lab-sub000/pkg/types"
)

// Window key labels. WindowUnknown covers missing or already-past end times.
const (
	Window0To72H    = "W0_0_72H"
	Window3To7D     = "W1_3_7D"
	Window8To30D    = "W2_8_30D"
	Window31To180D  = "W3_31_180D"
	Window180DPlus  = "W4_180D_PLUS"
	WindowUnknown   = "W_UNKNOWN"
	assumptionLabel = "a1_"
)

// Thesis labels used in the assumption key payload.
const (
	ThesisNoCarryBaseline = "NO_CARRY_BASELINE"
	ThesisNoCarryCapture  = "NO_CARRY_CAPTURE"
	ThesisCarry           = "carry"
)

// WindowKey buckets the hours between now and the market's end time.
// Same (end, now) always yields the same label.
func WindowKey(end, now time.Time) string {
	if end.IsZero() {
		return WindowUnknown
	}
	hoursLeft := end.Sub(now).Hours()
	switch {
	case hoursLeft <= 0:
		return WindowUnknown
	case hoursLeft <= 72:
		return Window0To72H
	case hoursLeft <= 168:
		return Window3To7D
	case hoursLeft <= 720:
		return Window8To30D
	case hoursLeft <= 4320:
		return Window31To180D
	default:
		return Window180DPlus
	}
}

// ThesisLabel maps an EV mode to the assumption-key thesis component.
func ThesisLabel(mode types.StrategyMode) string {
	if mode == types.ModeCapture {
		return ThesisNoCarryCapture
	}
	return ThesisNoCarryBaseline
}

// AssumptionKey hashes the normalized payload
// category|primary_entity|secondary|thesis_label|window_key into a short
// stable identifier. Collisions across markets with the same entity and
// window are intended: they share correlated risk.
func AssumptionKey(category, primaryEntity, secondary, thesisLabel, windowKey string) string {
	parts := []string{
		normalize(category),
		normalize(primaryEntity),
		normalize(secondary),
		normalize(thesisLabel),
		normalize(windowKey),
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return assumptionLabel + hex.EncodeToString(sum[:])[:12]
}

// ForMarket derives both keys for a NO-side market evaluation at a scan
// instant. Carry plans use CarryKeys instead.
func ForMarket(m types.NormalizedMarket, mode types.StrategyMode, now time.Time) (assumptionKey, windowKey string) {
	windowKey = WindowKey(m.EndDate, now)
	entity, secondary := PrimaryEntity(m.Question, m.Outcomes)
	assumptionKey = AssumptionKey(m.Category, entity, secondary, ThesisLabel(mode), windowKey)
	return assumptionKey, windowKey
}

// Carry window buckets, keyed by whole days to resolution.
const (
	CarryWindowLe7D  = "C0_LE_7D"
	CarryWindowLe30D = "C1_LE_30D"
	CarryWindowGt30D = "C2_GT_30D"
)

// CarryWindowKey buckets a carry candidate by days to resolution.
func CarryWindowKey(tDays float64) string {
	switch {
	case tDays <= 7:
		return CarryWindowLe7D
	case tDays <= 30:
		return CarryWindowLe30D
	default:
		return CarryWindowGt30D
	}
}

// CarryAssumptionKey hashes (category, endDateIso, "carry") for YES-side
// resolution-carry plans. Markets in one category resolving at the same
// instant share the group.
func CarryAssumptionKey(category, endDateISO string) string {
	parts := []string{normalize(category), normalize(endDateISO), ThesisCarry}
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return assumptionLabel + hex.EncodeToString(sum[:])[:12]
}

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9 ]+`)
	spaces     = regexp.MustCompile(`\s+`)
	electionRe = regexp.MustCompile(`(?i)\b([a-z]+)\s+(\d{4})\s+(?:presidential\s+)?election\b`)
	sportsVsRe = regexp.MustCompile(`(?i)\b(.+?)\s+vs\.?\s+(.+?)\b`)
	sportsWin  = regexp.MustCompile(`(?i)\bwill\s+(.+?)\s+(?:win|beat)\s+(.+?)[\s?]`)
	macroRe    = regexp.MustCompile(`(?i)\b([a-z ]+?)\s+(cpi|inflation|rate cut|rate hike|recession|gdp)\b`)
)

// normalize lowercases, trims, collapses internal whitespace, and strips
// non-alphanumerics so cosmetic differences never split a risk group.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnum.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// PrimaryEntity extracts a coarse (entity, secondary) pair from the question
// text. Heuristic by design: election patterns first, then sports matchups,
// then macro indicators, then outcome names, then a question prefix.
func PrimaryEntity(question string, outcomes []string) (string, string) {
	q := strings.TrimSpace(question)

	if m := electionRe.FindStringSubmatch(q); m != nil {
		return m[1] + " " + m[2] + " election", ""
	}
	if m := sportsWin.FindStringSubmatch(q); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	if m := sportsVsRe.FindStringSubmatch(q); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	if m := macroRe.FindStringSubmatch(q); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	if len(outcomes) >= 2 && outcomes[0] != "Yes" && outcomes[0] != "No" {
		return outcomes[0], outcomes[1]
	}

	// Fallback: the first handful of question words.
	words := strings.Fields(q)
	if len(words) > 10 {
		words = words[:10]
	}
	return strings.Join(words, " "), ""
}
