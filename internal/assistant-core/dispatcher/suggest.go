package dispatcher

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

const (
	SuggestionCutoff = 0.6
	MaxSuggestions   = 3
)

// Suggest returns up to MaxSuggestions of keys whose similarity to name is at
// least SuggestionCutoff, most similar first.
func Suggest(name string, keys []string) []string {
	type scored struct {
		key   string
		score float64
	}
	needle := strings.ToLower(name)
	var matches []scored
	for _, k := range keys {
		s := levenshtein.Similarity(needle, strings.ToLower(k), nil)
		if s >= SuggestionCutoff {
			matches = append(matches, scored{key: k, score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].key < matches[j].key
	})
	if len(matches) > MaxSuggestions {
		matches = matches[:MaxSuggestions]
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.key)
	}
	return out
}
