package matcher

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"guarddog/internal/model"
)

// MatchResult is one occurrence of a pattern in a piece of text.
// Start and End are byte offsets of this occurrence; Position is the
// character offset of the first occurrence of Span in the text.
type MatchResult struct {
	PatternName string `json:"pattern"`
	Type        string `json:"type"`
	Span        string `json:"-"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Position    int    `json:"position"`
	Path        string `json:"path,omitempty"`
}

// Match evaluates every pattern independently against the full text and
// returns all non-overlapping matches of each, pattern by pattern in the
// given order, left to right within a pattern. A substring matched by two
// patterns is reported twice.
func Match(text string, patterns []model.PatternRule) []MatchResult {
	var results []MatchResult
	for _, p := range patterns {
		results = append(results, MatchPattern(text, p)...)
	}
	return results
}

// MatchPattern returns all non-overlapping matches of a single pattern.
func MatchPattern(text string, p model.PatternRule) []MatchResult {
	if p.Pattern == nil || text == "" {
		return nil
	}

	locs := p.Pattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	results := make([]MatchResult, 0, len(locs))
	for _, loc := range locs {
		if loc[0] == loc[1] {
			continue
		}
		span := text[loc[0]:loc[1]]
		first := strings.Index(text, span)
		results = append(results, MatchResult{
			PatternName: p.Name,
			Type:        p.Type(),
			Span:        span,
			Start:       loc[0],
			End:         loc[1],
			Position:    utf8.RuneCountInString(text[:first]),
		})
	}
	return results
}

// TextAt is a string found at Path inside a decoded JSON document
type TextAt struct {
	Path string
	Text string
}

// Strings walks a decoded JSON value (maps, slices, scalars) and returns
// every string leaf with its path. Map keys are visited in sorted order.
func Strings(value interface{}) []TextAt {
	var out []TextAt
	walk(value, "", &out)
	return out
}

func walk(value interface{}, path string, out *[]TextAt) {
	switch v := value.(type) {
	case string:
		*out = append(*out, TextAt{Path: path, Text: v})
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			next := k
			if path != "" {
				next = path + "." + k
			}
			walk(v[k], next, out)
		}
	case []interface{}:
		for i, item := range v {
			walk(item, fmt.Sprintf("%s[%d]", path, i), out)
		}
	}
}

// MatchJSON matches every string leaf of a decoded JSON value, tagging each
// result with the leaf's path.
func MatchJSON(value interface{}, patterns []model.PatternRule) []MatchResult {
	var results []MatchResult
	for _, leaf := range Strings(value) {
		for _, m := range Match(leaf.Text, patterns) {
			m.Path = leaf.Path
			results = append(results, m)
		}
	}
	return results
}
