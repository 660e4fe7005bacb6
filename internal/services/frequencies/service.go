// Package frequencies serves frequency queries through the incremental
// cache: hit when fresh, recompute and repopulate when missing or stale.
package frequencies

import (
	"context"
	"log/slog"

	"varfreq/internal/domain"
	"varfreq/internal/freq"
	"varfreq/internal/freqcache"
	"varfreq/internal/ports"
)

type Service struct {
	agg      *freq.Aggregator
	cache    *freqcache.Cache
	versions ports.VersionStore
	log      *slog.Logger
}

func New(agg *freq.Aggregator, cache *freqcache.Cache, versions ports.VersionStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{agg: agg, cache: cache, versions: versions, log: log}
}

// Frequency returns the cached result when it matches the locus's current
// data version, otherwise computes and caches a fresh one. A cancelled
// computation is never written back.
func (s *Service) Frequency(ctx context.Context, locus domain.Locus, allele domain.Allele, sc domain.Scope, authorized []domain.Scope) (domain.FrequencyResult, error) {
	current, err := s.versions.Version(ctx, locus)
	if err != nil {
		return domain.FrequencyResult{}, err
	}
	if res, ok := s.cache.Get(locus, allele, sc, current); ok {
		return res, nil
	}

	res, err := s.agg.Frequency(ctx, locus, allele, sc, authorized)
	if err != nil {
		return domain.FrequencyResult{}, err
	}
	if !s.cache.Put(ctx, res) {
		s.log.Debug("cache put refused", "locus", locus.String(), "version", res.DataVersion)
	}
	return res, nil
}
