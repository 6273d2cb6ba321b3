package knowledge

import (
	"strings"
	"unicode"

	"github.com/zulandar/concierge/internal/models"
)

// Result describes the outcome of matching text against a tenant's entries.
type Result struct {
	Matched    bool
	Entry      *models.KnowledgeEntry // best candidate, set even on a miss
	Keyword    string                 // keyword that short-circuited, if any
	Score      float64                // best similarity; 1 for a keyword hit
	Normalized string
}

// Answer returns the matched entry's answer, or "" on a miss.
func (r Result) Answer() string {
	if !r.Matched || r.Entry == nil {
		return ""
	}
	return r.Entry.Answer
}

// Normalize lowercases s, drops everything that is not a letter, digit,
// underscore or space, and collapses runs of whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity scores the character overlap of input against candidate: the
// number of runes of the shorter string that occur anywhere in the longer
// one, divided by the length of the longer one. On equal lengths the
// candidate is treated as the longer string.
func Similarity(input, candidate string) float64 {
	a, b := []rune(input), []rune(candidate)
	shorter, longer := a, b
	if len(a) > len(b) {
		shorter, longer = b, a
	}
	if len(longer) == 0 {
		return 0
	}

	present := make(map[rune]struct{}, len(longer))
	for _, r := range longer {
		present[r] = struct{}{}
	}
	hits := 0
	for _, r := range shorter {
		if _, ok := present[r]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(longer))
}

// MatchEntries runs the keyword pass and then the similarity pass over
// entries in the order given. The first keyword hit wins outright; otherwise
// the highest score wins if it reaches threshold, ties going to the earlier
// entry.
func MatchEntries(entries []models.KnowledgeEntry, text string, threshold float64) Result {
	res := Result{Normalized: Normalize(text)}
	if len(entries) == 0 {
		return res
	}

	for i := range entries {
		for _, kw := range entries[i].KeywordList() {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if strings.Contains(res.Normalized, kw) {
				res.Matched = true
				res.Entry = &entries[i]
				res.Keyword = kw
				res.Score = 1
				return res
			}
		}
	}

	best := -1.0
	for i := range entries {
		score := Similarity(res.Normalized, Normalize(entries[i].Question))
		if score > best {
			best = score
			res.Entry = &entries[i]
		}
	}
	res.Score = best
	res.Matched = best >= threshold
	return res
}
