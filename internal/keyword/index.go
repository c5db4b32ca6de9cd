// Package keyword provides bottle name lookup over an in-memory Bleve index, with
// typo-tolerant "did you mean" suggestions built from the indexed name terms.
package keyword

// SearchOptions optional parameters for name search. Nil means use defaults.
type SearchOptions struct {
	// Fuzzy enables fuzzy matching for typo tolerance.
	Fuzzy bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 1 when Fuzzy is true.
	Fuzziness int
}

// NameResult is a single name search hit.
type NameResult struct {
	ID    string
	Score float64
}

// TermDictionary provides the indexed terms for spell checking.
// This interface allows dependency injection for testing.
type TermDictionary interface {
	// Terms returns every indexed term with its document frequency.
	Terms() (map[string]int, error)
}
