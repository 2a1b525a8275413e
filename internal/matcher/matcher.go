// Package matcher resolves a free-text target value against a candidate
// option set for dropdowns and comboboxes. It is purely heuristic per
// call and carries no state across invocations.
package matcher

import (
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/xkilldash9x/applyflow/api/schemas"
)

// DefaultCutoff is the fuzzy score (0-100) a best candidate must reach.
const DefaultCutoff = 70

// Match resolves target against candidates and returns the winning
// option's value. Resolution order: exact case-insensitive equality of
// the target with any candidate's display text or raw value, then
// weighted-ratio fuzzy matching against display texts accepting only the
// single highest score at or above cutoff. A false return is the normal
// no-match outcome, not an error.
func Match(target string, candidates []schemas.SelectOption, cutoff int) (string, bool) {
	target = strings.TrimSpace(target)
	if target == "" || len(candidates) == 0 {
		return "", false
	}

	lowered := strings.ToLower(target)
	for _, c := range candidates {
		if strings.ToLower(strings.TrimSpace(c.Text)) == lowered {
			return c.Value, true
		}
		if strings.ToLower(strings.TrimSpace(c.Value)) == lowered {
			return c.Value, true
		}
	}

	bestScore := -1
	bestValue := ""
	for _, c := range candidates {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		score := fuzzy.WRatio(target, text)
		if score > bestScore {
			bestScore = score
			bestValue = c.Value
		}
	}

	if bestScore >= cutoff {
		return bestValue, true
	}
	return "", false
}
