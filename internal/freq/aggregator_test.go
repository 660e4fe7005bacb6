package freq

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varfreq/internal/adapters/memory"
	"varfreq/internal/config"
	"varfreq/internal/coverage"
	"varfreq/internal/domain"
	"varfreq/internal/ploidy"
	"varfreq/internal/pool"
	"varfreq/internal/scope"
)

type fixture struct {
	store *memory.Store
	agg   *Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	model, err := ploidy.New(config.DefaultEngineConfig())
	require.NoError(t, err)
	agg := NewAggregator(
		scope.NewResolver(store),
		coverage.NewResolver(store),
		model,
		pool.NewAccountant(model, 2),
		store,
		store,
	)
	return &fixture{store: store, agg: agg}
}

func (f *fixture) addIndividual(t *testing.T, group string, sex domain.Sex, policy domain.CoveragePolicy) string {
	t.Helper()
	id, err := f.store.CreateSample(context.Background(), domain.Sample{
		GroupID:        group,
		Sex:            sex,
		Kind:           domain.Individual,
		CoveragePolicy: policy,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) observe(t *testing.T, sampleID string, locus domain.Locus, allele domain.Allele, z domain.Zygosity, copies int) {
	t.Helper()
	require.NoError(t, f.store.PutObservations(context.Background(), []domain.Observation{
		{SampleID: sampleID, Locus: locus, Allele: allele, Zygosity: z, Copies: copies},
	}))
}

var (
	alleleAT = domain.Allele{Reference: "A", Observed: "T"}
	labScope = domain.Scope{Kind: domain.OwnerGroup, Group: "lab"}
)

func authorized() []domain.Scope { return []domain.Scope{labScope} }

func TestYChromosomeScenario(t *testing.T) {
	f := newFixture(t)
	locus := domain.Locus{Chromosome: "Y", Position: 2655180}

	var males []string
	for i := 0; i < 3; i++ {
		males = append(males, f.addIndividual(t, "lab", domain.Male, domain.AssumeCovered))
	}
	for i := 0; i < 2; i++ {
		f.addIndividual(t, "lab", domain.Female, domain.AssumeCovered)
	}
	f.observe(t, males[0], locus, alleleAT, domain.Heterozygous, 0)

	res, err := f.agg.Frequency(context.Background(), locus, alleleAT, labScope, authorized())
	require.NoError(t, err)
	assert.Equal(t, 1, res.ObservedCopies)
	assert.Equal(t, 3, res.TotalCopies)
	assert.Equal(t, 5, res.SampleCount)
	assert.True(t, res.HasData)
}

func TestPoolScenario(t *testing.T) {
	f := newFixture(t)
	locus := domain.Locus{Chromosome: "1", Position: 100}

	poolID, err := f.store.CreateSample(context.Background(), domain.Sample{
		GroupID:        "lab",
		Kind:           domain.PoolUnknownRatio,
		PoolSize:       500,
		CoveragePolicy: domain.AssumeCovered,
	})
	require.NoError(t, err)
	f.observe(t, poolID, locus, alleleAT, domain.UnknownZygosity, 37)

	res, err := f.agg.Frequency(context.Background(), locus, alleleAT, labScope, authorized())
	require.NoError(t, err)
	assert.Equal(t, 37, res.ObservedCopies)
	assert.Equal(t, 1000, res.TotalCopies)
	assert.True(t, res.Approximate)
	assert.Equal(t, 1, res.SampleCount)
}

func TestZeroEligibleSamples(t *testing.T) {
	f := newFixture(t)
	locus := domain.Locus{Chromosome: "1", Position: 100}

	res, err := f.agg.Frequency(context.Background(), locus, alleleAT, labScope, authorized())
	require.NoError(t, err)
	assert.Zero(t, res.TotalCopies)
	assert.Zero(t, res.ObservedCopies)
	assert.False(t, res.HasData)
}

func TestCoverageGatesContribution(t *testing.T) {
	f := newFixture(t)
	locus := domain.Locus{Chromosome: "7", Position: 117559590}

	covered := f.addIndividual(t, "lab", domain.Female, domain.TrackedCoverage)
	uncovered := f.addIndividual(t, "lab", domain.Female, domain.TrackedCoverage)
	require.NoError(t, f.store.PutRegions(context.Background(), []domain.CoverageRegion{
		{SampleID: covered, Chromosome: "7", Begin: 117559000, End: 117560000},
		{SampleID: uncovered, Chromosome: "7", Begin: 1, End: 1000},
	}))
	// The uncovered sample even has an observation; without coverage at the
	// locus it must contribute nothing at all.
	f.observe(t, uncovered, locus, alleleAT, domain.Heterozygous, 0)
	f.observe(t, covered, locus, alleleAT, domain.Homozygous, 0)

	res, err := f.agg.Frequency(context.Background(), locus, alleleAT, labScope, authorized())
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalCopies, "only the covered diploid sample")
	assert.Equal(t, 2, res.ObservedCopies, "homozygous carries full ploidy")
	assert.Equal(t, 1, res.SampleCount)
	assert.Zero(t, res.CoverageFallbacks)
	assert.Equal(t, 2, res.ObservedHom)
	assert.Zero(t, res.ObservedHet)
}

func TestUnknownSexExcludedOnSexChromosomes(t *testing.T) {
	f := newFixture(t)
	locus := domain.Locus{Chromosome: "X", Position: 5000}

	f.addIndividual(t, "lab", domain.UnknownSex, domain.AssumeCovered)
	f.addIndividual(t, "lab", domain.Male, domain.AssumeCovered)

	res, err := f.agg.Frequency(context.Background(), locus, alleleAT, labScope, authorized())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalCopies, "unknown-sex sample excluded under the exclude policy")
	assert.Equal(t, 2, res.CoverageFallbacks)
}

func TestObservedNeverExceedsTotal(t *testing.T) {
	f := newFixture(t)
	locus := domain.Locus{Chromosome: "X", Position: 5000}

	male := f.addIndividual(t, "lab", domain.Male, domain.AssumeCovered)
	// Recorded copies exceed a male's single X; the contribution is capped.
	f.observe(t, male, locus, alleleAT, domain.Homozygous, 2)

	res, err := f.agg.Frequency(context.Background(), locus, alleleAT, labScope, authorized())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalCopies)
	assert.Equal(t, 1, res.ObservedCopies)
	assert.LessOrEqual(t, res.ObservedCopies, res.TotalCopies)
}

func TestAnonymizedScopesAreIndistinguishable(t *testing.T) {
	// Two different sample compositions that sum to the same totals must
	// produce identical outputs under a shared anonymized scope.
	locus := domain.Locus{Chromosome: "2", Position: 1000}
	shared := domain.Scope{Kind: domain.SharedAnonymized, Groups: []string{"g1", "g2"}}
	auth := []domain.Scope{shared}

	build := func(t *testing.T, hetCarriers, homCarriers int) domain.FrequencyResult {
		f := newFixture(t)
		for i := 0; i < hetCarriers; i++ {
			id := f.addIndividual(t, "g1", domain.Female, domain.AssumeCovered)
			f.observe(t, id, locus, alleleAT, domain.Heterozygous, 0)
		}
		for i := 0; i < homCarriers; i++ {
			id := f.addIndividual(t, "g2", domain.Female, domain.AssumeCovered)
			f.observe(t, id, locus, alleleAT, domain.Homozygous, 0)
		}
		// Pad both compositions to the same covered sample count.
		for f1 := hetCarriers + homCarriers; f1 < 4; f1++ {
			f.addIndividual(t, "g1", domain.Female, domain.AssumeCovered)
		}
		res, err := f.agg.Frequency(context.Background(), locus, alleleAT, shared, auth)
		require.NoError(t, err)
		return res
	}

	// 2 het carriers (2 copies) vs 1 hom carrier (2 copies): same sums.
	a := build(t, 2, 0)
	b := build(t, 0, 1)
	assert.Equal(t, a, b, "anonymized outputs must not leak composition")
	assert.Zero(t, a.ObservedHet)
	assert.Zero(t, a.ObservedHom)
}

func TestScopeViolationPropagates(t *testing.T) {
	f := newFixture(t)
	locus := domain.Locus{Chromosome: "1", Position: 1}

	_, err := f.agg.Frequency(context.Background(), locus, alleleAT, labScope, nil)
	var verr domain.ScopeAuthorizationViolation
	assert.ErrorAs(t, err, &verr)
}

func TestCancelledContextAborts(t *testing.T) {
	f := newFixture(t)
	locus := domain.Locus{Chromosome: "1", Position: 1}
	for i := 0; i < 50; i++ {
		f.addIndividual(t, "lab", domain.Female, domain.AssumeCovered)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.agg.Frequency(ctx, locus, alleleAT, labScope, authorized())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLargeScopeParallelAggregation(t *testing.T) {
	f := newFixture(t)
	locus := domain.Locus{Chromosome: "12", Position: 333}

	carriers := 0
	for i := 0; i < 500; i++ {
		id := f.addIndividual(t, "lab", domain.Female, domain.AssumeCovered)
		if i%10 == 0 {
			f.observe(t, id, locus, alleleAT, domain.Heterozygous, 0)
			carriers++
		}
	}

	res, err := f.agg.Frequency(context.Background(), locus, alleleAT, labScope, authorized())
	require.NoError(t, err)
	assert.Equal(t, 1000, res.TotalCopies)
	assert.Equal(t, carriers, res.ObservedCopies)
	assert.Equal(t, 500, res.SampleCount)
}

func TestMixedIndividualsAndPools(t *testing.T) {
	f := newFixture(t)
	locus := domain.Locus{Chromosome: "3", Position: 42}

	ind := f.addIndividual(t, "lab", domain.Male, domain.AssumeCovered)
	f.observe(t, ind, locus, alleleAT, domain.Heterozygous, 0)

	poolID, err := f.store.CreateSample(context.Background(), domain.Sample{
		GroupID:     "lab",
		Kind:        domain.PoolKnownRatio,
		PoolSize:    10,
		PoolFemales: 5,
		PoolMales:   5,
	})
	require.NoError(t, err)
	f.observe(t, poolID, locus, alleleAT, domain.UnknownZygosity, 3)

	res, err := f.agg.Frequency(context.Background(), locus, alleleAT, labScope, authorized())
	require.NoError(t, err)
	// Individual male: 2 copies on an autosome; pool: 10*2 = 20.
	assert.Equal(t, 22, res.TotalCopies)
	assert.Equal(t, 4, res.ObservedCopies)
	assert.Equal(t, 2, res.SampleCount)
	assert.False(t, res.Approximate, "known ratio and no coverage assumptions on the pool")
}

func TestObservedTotalInvariantAcrossRandomishFixtures(t *testing.T) {
	f := newFixture(t)
	locus := domain.Locus{Chromosome: "X", Position: 7}
	sexes := []domain.Sex{domain.Female, domain.Male, domain.UnknownSex}
	zygs := []domain.Zygosity{domain.Heterozygous, domain.Homozygous, domain.UnknownZygosity}
	for i := 0; i < 60; i++ {
		id := f.addIndividual(t, "lab", sexes[i%len(sexes)], domain.AssumeCovered)
		if i%2 == 0 {
			f.observe(t, id, locus, alleleAT, zygs[i%len(zygs)], i%3)
		}
	}

	res, err := f.agg.Frequency(context.Background(), locus, alleleAT, labScope, authorized())
	require.NoError(t, err)
	assert.LessOrEqual(t, res.ObservedCopies, res.TotalCopies,
		fmt.Sprintf("observed %d must never exceed total %d", res.ObservedCopies, res.TotalCopies))
}
