package frequencies

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varfreq/internal/adapters/memory"
	"varfreq/internal/config"
	"varfreq/internal/coverage"
	"varfreq/internal/domain"
	"varfreq/internal/freq"
	"varfreq/internal/freqcache"
	"varfreq/internal/ploidy"
	"varfreq/internal/pool"
	"varfreq/internal/scope"
	"varfreq/internal/workers/importrunner"
)

type fixture struct {
	store     *memory.Store
	cache     *freqcache.Cache
	service   *Service
	processor *importrunner.Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	cache := freqcache.New()
	model, err := ploidy.New(config.DefaultEngineConfig())
	require.NoError(t, err)
	agg := freq.NewAggregator(
		scope.NewResolver(store),
		coverage.NewResolver(store),
		model,
		pool.NewAccountant(model, 2),
		store,
		store,
	)
	return &fixture{
		store:   store,
		cache:   cache,
		service: New(agg, cache, store, nil),
		processor: &importrunner.Processor{
			Imports:  store,
			Samples:  store,
			Obs:      store,
			Cov:      store,
			Versions: store,
			Cache:    cache,
			Locks:    freqcache.NewLockSet(),
		},
	}
}

func (f *fixture) runImport(t *testing.T, batch domain.ImportBatch) {
	t.Helper()
	ctx := context.Background()
	id, err := f.store.CreateImport(ctx, batch, nil)
	require.NoError(t, err)
	require.NoError(t, importrunner.ProcessInline(ctx, f.store, f.processor, id))
}

var (
	locus    = domain.Locus{Chromosome: "5", Position: 1234}
	allele   = domain.Allele{Reference: "T", Observed: "G"}
	labScope = domain.Scope{Kind: domain.OwnerGroup, Group: "lab"}
	auth     = []domain.Scope{labScope}
)

func carrierBatch(sampleID string) domain.ImportBatch {
	return domain.ImportBatch{
		Samples: []domain.Sample{{
			ID: sampleID, GroupID: "lab", Kind: domain.Individual,
			Sex: domain.Female, CoveragePolicy: domain.AssumeCovered,
		}},
		Observations: []domain.Observation{
			{SampleID: sampleID, Locus: locus, Allele: allele, Zygosity: domain.Heterozygous},
		},
	}
}

func TestIdempotentQueryHitsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.runImport(t, carrierBatch("s1"))

	first, err := f.service.Frequency(ctx, locus, allele, labScope, auth)
	require.NoError(t, err)
	assert.True(t, first.HasData)
	assert.Equal(t, 1, f.cache.Len())

	second, err := f.service.Frequency(ctx, locus, allele, labScope, auth)
	require.NoError(t, err)
	assert.Equal(t, first, second, "no intervening import: bit-identical result")
}

func TestImportInvalidatesExactlyTouchedLocus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.runImport(t, carrierBatch("s1"))

	before, err := f.service.Frequency(ctx, locus, allele, labScope, auth)
	require.NoError(t, err)
	assert.Equal(t, 1, before.ObservedCopies)

	otherLocus := domain.Locus{Chromosome: "5", Position: 9999}
	otherBefore, err := f.service.Frequency(ctx, otherLocus, allele, labScope, auth)
	require.NoError(t, err)

	// Second carrier at the first locus only. No new samples or regions, so
	// only that locus's version moves.
	f.runImport(t, domain.ImportBatch{
		Observations: []domain.Observation{
			{SampleID: "s1", Locus: locus, Allele: allele, Zygosity: domain.Homozygous, Copies: 2},
		},
	})

	after, err := f.service.Frequency(ctx, locus, allele, labScope, auth)
	require.NoError(t, err)
	assert.NotEqual(t, before.DataVersion, after.DataVersion, "stale read after import is forbidden")
	assert.Greater(t, after.ObservedCopies, before.ObservedCopies)

	otherAfter, err := f.service.Frequency(ctx, otherLocus, allele, labScope, auth)
	require.NoError(t, err)
	assert.Equal(t, otherBefore, otherAfter, "unrelated locus unaffected")
}

func TestCancelledComputationIsNotCached(t *testing.T) {
	f := newFixture(t)
	f.runImport(t, carrierBatch("s1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.service.Frequency(ctx, locus, allele, labScope, auth)
	require.Error(t, err)
	assert.Zero(t, f.cache.Len(), "write-after-cancel is forbidden")
}

func TestWithdrawalExcludesSampleFromFutureResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.runImport(t, carrierBatch("s1"))
	f.runImport(t, carrierBatch("s2"))

	before, err := f.service.Frequency(ctx, locus, allele, labScope, auth)
	require.NoError(t, err)
	assert.Equal(t, 2, before.SampleCount)

	require.NoError(t, f.store.DeactivateSample(ctx, "s2"))
	require.NoError(t, f.store.BumpGlobal(ctx))

	after, err := f.service.Frequency(ctx, locus, allele, labScope, auth)
	require.NoError(t, err)
	assert.Equal(t, 1, after.SampleCount)
	assert.Equal(t, 2, after.TotalCopies)
}

func TestAuthorizationFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.runImport(t, carrierBatch("s1"))

	_, err := f.service.Frequency(context.Background(), locus, allele, labScope, nil)
	var verr domain.ScopeAuthorizationViolation
	assert.ErrorAs(t, err, &verr)
}
