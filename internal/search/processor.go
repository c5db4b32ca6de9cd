package search

import "github.com/hyperjump/bottlematch/internal/config"

// ClampTopK resolves a requested match count: k <= 0 uses the configured default and
// values above the configured maximum are capped.
func ClampTopK(k int, cfg *config.SearchConfig) int {
	if k <= 0 {
		k = cfg.DefaultTopK
	}
	if cfg.MaxTopK > 0 && k > cfg.MaxTopK {
		k = cfg.MaxTopK
	}
	return k
}
