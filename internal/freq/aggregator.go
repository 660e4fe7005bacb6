// Package freq computes observed/total allele copy counts over a resolved
// scope. The aggregator is stateless per request: it combines the ploidy
// model, coverage resolver, pool accountant, and scope resolver into one
// consistent FrequencyResult for a single data version.
package freq

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"varfreq/internal/coverage"
	"varfreq/internal/domain"
	"varfreq/internal/metrics"
	"varfreq/internal/ploidy"
	"varfreq/internal/pool"
	"varfreq/internal/ports"
	"varfreq/internal/scope"
)

// maxParallel bounds concurrent per-sample work for one aggregation. Large
// scopes shard across goroutines; a cancelled context stops the whole group.
const maxParallel = 8

// tally accumulates one shard's contributions.
type tally struct {
	observed          int
	total             int
	samples           int
	observedHet       int
	observedHom       int
	approximate       bool
	coverageFallbacks int
}

func (t *tally) merge(o tally) {
	t.observed += o.observed
	t.total += o.total
	t.samples += o.samples
	t.observedHet += o.observedHet
	t.observedHom += o.observedHom
	t.approximate = t.approximate || o.approximate
	t.coverageFallbacks += o.coverageFallbacks
}

type Aggregator struct {
	scopes   *scope.Resolver
	coverage *coverage.Resolver
	ploidy   *ploidy.Model
	pools    *pool.Accountant
	obs      ports.ObservationStore
	versions ports.VersionStore
}

func NewAggregator(scopes *scope.Resolver, cov *coverage.Resolver, model *ploidy.Model, pools *pool.Accountant, obs ports.ObservationStore, versions ports.VersionStore) *Aggregator {
	return &Aggregator{scopes: scopes, coverage: cov, ploidy: model, pools: pools, obs: obs, versions: versions}
}

// Frequency computes the result for one (locus, allele, scope). It either
// returns a full result consistent for the data version it observed at
// start, or fails as a whole; there are no partial results.
func (a *Aggregator) Frequency(ctx context.Context, locus domain.Locus, allele domain.Allele, sc domain.Scope, authorized []domain.Scope) (domain.FrequencyResult, error) {
	start := time.Now()
	defer func() {
		metrics.AggregationDuration.WithLabelValues(scopeKindLabel(sc)).Observe(time.Since(start).Seconds())
	}()

	version, err := a.versions.Version(ctx, locus)
	if err != nil {
		return domain.FrequencyResult{}, err
	}

	samples, err := a.scopes.EligibleSamples(ctx, sc, authorized)
	if err != nil {
		return domain.FrequencyResult{}, err
	}

	res := domain.FrequencyResult{
		Locus:       locus,
		Allele:      allele,
		ScopeKey:    sc.Key(),
		DataVersion: version,
	}
	if len(samples) == 0 {
		// Distinguished from "allele never observed despite coverage":
		// HasData stays false so callers do not read 0/0 as frequency zero.
		return res, nil
	}

	ids := make([]string, len(samples))
	for i, s := range samples {
		ids[i] = s.ID
	}
	observations, err := a.obs.ObservationsAt(ctx, locus, allele, ids, version)
	if err != nil {
		return domain.FrequencyResult{}, err
	}

	shards := shardSamples(samples, maxParallel)
	tallies := make([]tally, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i, shard := range shards {
		g.Go(func() error {
			for _, s := range shard {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := a.addSample(gctx, &tallies[i], s, locus, version, observations); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.FrequencyResult{}, err
	}

	var sum tally
	for _, t := range tallies {
		sum.merge(t)
	}

	res.ObservedCopies = sum.observed
	res.TotalCopies = sum.total
	res.SampleCount = sum.samples
	res.Approximate = sum.approximate
	res.CoverageFallbacks = sum.coverageFallbacks
	res.HasData = sum.total > 0
	if !sc.Anonymized() {
		res.ObservedHet = sum.observedHet
		res.ObservedHom = sum.observedHom
	}
	return res, nil
}

// addSample folds one sample's contribution into the shard tally,
// dispatching on the sample kind.
func (a *Aggregator) addSample(ctx context.Context, t *tally, s domain.Sample, locus domain.Locus, version uint64, observations map[string]domain.Observation) error {
	switch s.Kind {
	case domain.Individual:
		covered, fallback, err := a.coverage.Covered(ctx, s, locus, version)
		if err != nil {
			return err
		}
		if !covered {
			return nil
		}
		// Covered individuals count as contributing samples even at zero
		// ploidy (a female sample on Y was still measured there).
		t.samples++
		if fallback {
			t.coverageFallbacks++
		}
		copies, err := a.ploidy.Copies(locus.Chromosome, s.Sex)
		if err != nil {
			return err
		}
		if copies == 0 {
			return nil
		}
		t.total += copies
		if o, ok := observations[s.ID]; ok {
			observed := observedCopies(o, copies)
			t.observed += observed
			switch o.Zygosity {
			case domain.Homozygous:
				t.observedHom += observed
			default:
				t.observedHet += observed
			}
		}
		return nil

	case domain.PoolKnownRatio, domain.PoolUnknownRatio:
		var o *domain.Observation
		if obs, ok := observations[s.ID]; ok {
			o = &obs
		}
		c, err := a.pools.Contribution(s, locus, o)
		if err != nil {
			return err
		}
		if c.Total == 0 {
			return nil
		}
		t.total += c.Total
		t.observed += c.Observed
		t.samples++
		t.approximate = t.approximate || c.Approximate
		// Zygosity is unresolvable inside a pool; the het/hom split only
		// covers individuals and pools are left out of it.
		return nil

	default:
		return domain.ConfigurationError{Reason: "unhandled sample kind"}
	}
}

// observedCopies derives an individual's observed contribution: an explicit
// recorded count wins, homozygous observations carry full ploidy, anything
// else carries one copy. Always capped by the sample's total contribution.
func observedCopies(o domain.Observation, copies int) int {
	observed := o.Copies
	if observed == 0 {
		if o.Zygosity == domain.Homozygous {
			observed = copies
		} else {
			observed = 1
		}
	}
	if observed > copies {
		observed = copies
	}
	return observed
}

func shardSamples(samples []domain.Sample, shards int) [][]domain.Sample {
	if len(samples) < shards {
		shards = len(samples)
	}
	out := make([][]domain.Sample, 0, shards)
	size := (len(samples) + shards - 1) / shards
	for begin := 0; begin < len(samples); begin += size {
		end := begin + size
		if end > len(samples) {
			end = len(samples)
		}
		out = append(out, samples[begin:end])
	}
	return out
}

func scopeKindLabel(sc domain.Scope) string {
	switch sc.Kind {
	case domain.OwnerGroup:
		return "group"
	case domain.SharedAnonymized:
		return "shared"
	case domain.PublicDataset:
		return "public"
	default:
		return "invalid"
	}
}
