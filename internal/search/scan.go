package search

import (
	"strings"

	"github.com/hyperjump/bottlematch/internal/models"
	"github.com/hyperjump/bottlematch/pkg/utils"
)

// scanNames is the name lookup used without a name index: a case-insensitive substring
// match over humanized names, in listing order.
func (e *Engine) scanNames(query string) []models.BottleMatch {
	q := strings.ToLower(utils.HumanizeName(query))
	out := make([]models.BottleMatch, 0)
	for _, m := range e.store.ListAll() {
		if strings.Contains(strings.ToLower(utils.HumanizeName(m.Name)), q) {
			out = append(out, m)
		}
	}
	return out
}
