package keyword

import (
	"sort"
	"strings"
	"sync"
)

// Suggestion represents a spelling suggestion with its score.
type Suggestion struct {
	Term      string  // The suggested term
	Distance  int     // Edit distance from the original term
	Frequency int     // Document frequency (popularity)
	Score     float64 // Combined score for ranking
}

// SpellCheckResult contains the result of spell checking a query.
type SpellCheckResult struct {
	OriginalQuery   string
	CorrectedQuery  string
	HasCorrections  bool
	MisspelledTerms []string
}

// SpellChecker suggests indexed terms close to unknown query terms.
type SpellChecker struct {
	dictionary     TermDictionary
	maxDistance    int
	minTermLen     int
	maxSuggestions int

	mu    sync.RWMutex
	terms map[string]int // nil until loaded
}

// SpellCheckerOption is a functional option for configuring SpellChecker.
type SpellCheckerOption func(*SpellChecker)

// WithMaxDistance sets the maximum edit distance for suggestions.
func WithMaxDistance(d int) SpellCheckerOption {
	return func(s *SpellChecker) {
		if d > 0 {
			s.maxDistance = d
		}
	}
}

// WithMaxSuggestions sets the maximum number of suggestions to return per term.
func WithMaxSuggestions(n int) SpellCheckerOption {
	return func(s *SpellChecker) {
		if n > 0 {
			s.maxSuggestions = n
		}
	}
}

// NewSpellChecker creates a new SpellChecker with the given dictionary.
func NewSpellChecker(dict TermDictionary, opts ...SpellCheckerOption) *SpellChecker {
	s := &SpellChecker{
		dictionary:     dict,
		maxDistance:    2,
		minTermLen:     3,
		maxSuggestions: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invalidate drops the cached dictionary; it is reloaded on next use.
func (s *SpellChecker) Invalidate() {
	s.mu.Lock()
	s.terms = nil
	s.mu.Unlock()
}

func (s *SpellChecker) loadTerms() (map[string]int, error) {
	s.mu.RLock()
	terms := s.terms
	s.mu.RUnlock()
	if terms != nil {
		return terms, nil
	}
	terms, err := s.dictionary.Terms()
	if err != nil {
		return nil, err
	}
	if terms == nil {
		terms = map[string]int{}
	}
	s.mu.Lock()
	s.terms = terms
	s.mu.Unlock()
	return terms, nil
}

// Check replaces each unknown query term with its best suggestion.
func (s *SpellChecker) Check(query string) (*SpellCheckResult, error) {
	terms, err := s.loadTerms()
	if err != nil {
		return nil, err
	}
	words := tokenizeQuery(query)
	result := &SpellCheckResult{OriginalQuery: query}
	corrected := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := terms[w]; ok || len([]rune(w)) < s.minTermLen {
			corrected = append(corrected, w)
			continue
		}
		suggestions := s.suggest(terms, w)
		if len(suggestions) == 0 {
			corrected = append(corrected, w)
			continue
		}
		result.HasCorrections = true
		result.MisspelledTerms = append(result.MisspelledTerms, w)
		corrected = append(corrected, suggestions[0].Term)
	}
	result.CorrectedQuery = strings.Join(corrected, " ")
	return result, nil
}

// Suggest returns spelling suggestions for a single term, best first.
func (s *SpellChecker) Suggest(term string) ([]Suggestion, error) {
	terms, err := s.loadTerms()
	if err != nil {
		return nil, err
	}
	return s.suggest(terms, strings.ToLower(term)), nil
}

func (s *SpellChecker) suggest(terms map[string]int, term string) []Suggestion {
	var out []Suggestion
	termLen := len([]rune(term))
	for dictTerm, freq := range terms {
		if dictTerm == term {
			continue
		}
		lenDiff := len([]rune(dictTerm)) - termLen
		if lenDiff < 0 {
			lenDiff = -lenDiff
		}
		if lenDiff > s.maxDistance {
			continue
		}
		d := EditDistance(term, dictTerm)
		if d > s.maxDistance {
			continue
		}
		out = append(out, Suggestion{
			Term:      dictTerm,
			Distance:  d,
			Frequency: freq,
			Score:     float64(freq) / float64(d+1),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Term < out[j].Term
	})
	if len(out) > s.maxSuggestions {
		out = out[:s.maxSuggestions]
	}
	return out
}
