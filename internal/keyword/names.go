package keyword

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/bottlematch/internal/models"
	"github.com/hyperjump/bottlematch/pkg/utils"
)

const nameField = "name"

type nameDoc struct {
	Name string `json:"name"`
}

// NameIndex indexes bottle display names in memory. It is rebuilt from the store's
// metadata at startup and kept current by the indexer.
type NameIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	spell *SpellChecker
}

// NewNameIndex creates an empty in-memory name index.
func NewNameIndex() (*NameIndex, error) {
	idx, err := newMemIndex()
	if err != nil {
		return nil, err
	}
	n := &NameIndex{index: idx}
	n.spell = NewSpellChecker(n)
	return n, nil
}

func newMemIndex() (bleve.Index, error) {
	idx, err := bleve.NewMemOnly(nameMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return idx, nil
}

func nameMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming): distillery names are proper
	// nouns and stemming mangles them.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(nameField, textFieldMapping)
	im.AddDocumentMapping("bottle", docMapping)
	im.DefaultType = "bottle"
	im.DefaultMapping = docMapping
	return im
}

// Index adds or replaces the name for id.
func (n *NameIndex) Index(ctx context.Context, id, name string) error {
	n.mu.RLock()
	err := n.index.Index(id, nameDoc{Name: utils.HumanizeName(name)})
	n.mu.RUnlock()
	n.spell.Invalidate()
	return err
}

// Delete removes id from the index.
func (n *NameIndex) Delete(ctx context.Context, id string) error {
	n.mu.RLock()
	err := n.index.Delete(id)
	n.mu.RUnlock()
	n.spell.Invalidate()
	return err
}

// Rebuild replaces the index contents with bottles.
func (n *NameIndex) Rebuild(ctx context.Context, bottles []models.Bottle) error {
	idx, err := newMemIndex()
	if err != nil {
		return err
	}
	batch := idx.NewBatch()
	for _, b := range bottles {
		if err := batch.Index(b.ID, nameDoc{Name: utils.HumanizeName(b.Name)}); err != nil {
			_ = idx.Close()
			return fmt.Errorf("index %q: %w", b.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return fmt.Errorf("Bleve batch failed: %w", err)
	}

	n.mu.Lock()
	old := n.index
	n.index = idx
	n.mu.Unlock()
	n.spell.Invalidate()
	return old.Close()
}

// Search runs a match query over names and returns up to limit results, best first.
// With opts.Fuzzy each query term may be misspelled by up to opts.Fuzziness edits.
func (n *NameIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]NameResult, error) {
	query = utils.HumanizeName(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}
	var q blevequery.Query
	if opts != nil && opts.Fuzzy {
		fuzziness := opts.Fuzziness
		if fuzziness <= 0 {
			fuzziness = 1
		}
		q = buildFuzzyQuery(query, fuzziness)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(nameField)
		q = mq
	}
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	n.mu.RLock()
	results, err := n.index.Search(req)
	n.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]NameResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = NameResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// Suggest returns a corrected query when some of its terms are not indexed but close to
// indexed terms.
func (n *NameIndex) Suggest(query string) (string, bool) {
	res, err := n.spell.Check(utils.HumanizeName(query))
	if err != nil || !res.HasCorrections {
		return "", false
	}
	return res.CorrectedQuery, true
}

// Terms returns the name field dictionary with document frequencies.
func (n *NameIndex) Terms() (map[string]int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	dict, err := n.index.FieldDict(nameField)
	if err != nil {
		return nil, err
	}
	defer dict.Close()
	terms := make(map[string]int)
	for {
		entry, err := dict.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		terms[entry.Term] = int(entry.Count)
	}
	return terms, nil
}

// DocCount returns the number of indexed names.
func (n *NameIndex) DocCount() (uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.index.DocCount()
}

// Close closes the Bleve index.
func (n *NameIndex) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index.Close()
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries, one per query term.
func buildFuzzyQuery(queryStr string, fuzziness int) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(nameField)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}
