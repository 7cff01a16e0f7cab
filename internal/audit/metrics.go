// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"fmt"
	"maps"
	"slices"

	"github.com/agext/levenshtein"
)

// messageOrder is the order findings are summarized in.
var messageOrder = []string{
	MessageUnresolved,
	MessageMissingDefault,
	MessageMissingNamed,
	MessageParseFailure,
	MessageJSONParseFailed,
	MessageLoadFailure,
}

// maxSuggestionDistance bounds "did you mean" suggestions.
const maxSuggestionDistance = 2

// Summary captures module and finding counts for a run.
type Summary struct {
	TotalModules      int            `json:"totalModules"`
	CountsByState     map[string]int `json:"countsByState"`
	CountsByMessage   map[string]int `json:"countsByMessage"`
	FilesWithProblems int            `json:"filesWithProblems"`
}

// ComputeSummary counts modules per state and findings per message.
func ComputeSummary(res *Result) Summary {
	s := Summary{
		TotalModules:    len(res.Modules),
		CountsByState:   make(map[string]int),
		CountsByMessage: make(map[string]int),
	}
	for c := StateDiscovered; c <= StateLinked; c++ {
		s.CountsByState[c.String()] = 0
	}
	for _, msg := range messageOrder {
		s.CountsByMessage[msg] = 0
	}
	for _, m := range res.Modules {
		s.CountsByState[m.State.String()]++
	}
	files := make(map[string]bool)
	for _, f := range res.Findings {
		s.CountsByMessage[f.Message]++
		files[f.Filename] = true
	}
	s.FilesWithProblems = len(files)
	return s
}

func sortedNames(names map[string]bool) []string {
	return slices.Sorted(maps.Keys(names))
}

// didYouMean returns a suggestion suffix naming the closest candidate, or "".
func didYouMean(name string, candidates []string) string {
	best, bestDist := "", maxSuggestionDistance+1
	for _, c := range candidates {
		if d := levenshtein.Distance(name, c, nil); d < bestDist {
			best, bestDist = c, d
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf(". Did you mean %q?", best)
}
