package market

import (
	"regexp"
	"strconv"
	"strings"
)

// Strike extraction handles the dollar formats seen in market questions:
// $65,000 / $65k / $65.5k / $65000. Patterns are tried in order; the first
// match wins.
var (
	strikeCommaRe = regexp.MustCompile(`\$([0-9]{1,3}(?:,[0-9]{3})+)`)
	strikeKRe     = regexp.MustCompile(`\$([0-9]+(?:\.[0-9]+)?)\s*k\b`)
	strikePlainRe = regexp.MustCompile(`\$([0-9]+(?:,?[0-9]{3})*(?:\.[0-9]+)?)`)
)

// ParseThresholdQuestion extracts the strike price and direction from a
// price threshold question. Direction is true for above/over questions,
// false for below/under.
//
//	"Will BTC be above $65,000 at 3pm ET?" → (65000, true, true)
//	"Will Bitcoin be below $60k?"          → (60000, false, true)
//
// ok is false when the question carries no direction keyword or no
// parseable dollar amount.
func ParseThresholdQuestion(question string) (strike float64, above bool, ok bool) {
	q := strings.ToLower(question)

	isAbove := strings.Contains(q, "above") || strings.Contains(q, "over")
	isBelow := strings.Contains(q, "below") || strings.Contains(q, "under")
	if !isAbove && !isBelow {
		return 0, false, false
	}

	for _, re := range []*regexp.Regexp{strikeCommaRe, strikeKRe, strikePlainRe} {
		loc := re.FindStringSubmatchIndex(q)
		if loc == nil {
			continue
		}

		raw := strings.ReplaceAll(q[loc[2]:loc[3]], ",", "")
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}

		// A k right after the match scales to thousands; so does a bare
		// sub-1000 value in a question that mentions k at all.
		tail := q[loc[1]:]
		if len(tail) > 2 {
			tail = tail[:2]
		}
		if strings.Contains(tail, "k") {
			value *= 1000
		} else if value < 1000 && strings.Contains(q, "k") {
			value *= 1000
		}

		return value, isAbove, true
	}

	return 0, false, false
}
