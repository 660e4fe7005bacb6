package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varfreq/internal/config"
	"varfreq/internal/domain"
	"varfreq/internal/ploidy"
)

func newAccountant(t *testing.T) *Accountant {
	t.Helper()
	model, err := ploidy.New(config.DefaultEngineConfig())
	require.NoError(t, err)
	return NewAccountant(model, 2)
}

func obsWithCopies(n int) *domain.Observation {
	return &domain.Observation{Copies: n}
}

func TestUnknownRatioUsesDefaultAndFlagsApproximate(t *testing.T) {
	a := newAccountant(t)
	s := domain.Sample{Name: "study-1", Kind: domain.PoolUnknownRatio, PoolSize: 500}

	c, err := a.Contribution(s, domain.Locus{Chromosome: "1", Position: 100}, obsWithCopies(37))
	require.NoError(t, err)
	assert.Equal(t, 37, c.Observed)
	assert.Equal(t, 1000, c.Total)
	assert.True(t, c.Approximate)
}

func TestKnownMixedRatioIsSexWeighted(t *testing.T) {
	a := newAccountant(t)
	s := domain.Sample{Kind: domain.PoolKnownRatio, PoolSize: 100, PoolFemales: 60, PoolMales: 40}

	// X: 60*2 + 40*1 = 160
	c, err := a.Contribution(s, domain.Locus{Chromosome: "X", Position: 100}, nil)
	require.NoError(t, err)
	assert.Equal(t, 160, c.Total)
	assert.Zero(t, c.Observed)
	assert.False(t, c.Approximate, "fully known ratio without coverage assumptions is exact")

	// Y: 60*0 + 40*1 = 40
	c, err = a.Contribution(s, domain.Locus{Chromosome: "Y", Position: 100}, nil)
	require.NoError(t, err)
	assert.Equal(t, 40, c.Total)
}

func TestCoveredFractionScalesDownward(t *testing.T) {
	a := newAccountant(t)
	s := domain.Sample{Kind: domain.PoolKnownRatio, PoolSize: 100, PoolFemales: 50, PoolMales: 50, CoveredFraction: 0.5}

	c, err := a.Contribution(s, domain.Locus{Chromosome: "1", Position: 100}, obsWithCopies(120))
	require.NoError(t, err)
	assert.Equal(t, 100, c.Total, "200 copies scaled to the covered half")
	assert.Equal(t, 100, c.Observed, "observed capped at scaled total")
	assert.True(t, c.Approximate)
}

func TestObservationWithoutCopyCountIsOneCarrier(t *testing.T) {
	a := newAccountant(t)
	s := domain.Sample{Kind: domain.PoolUnknownRatio, PoolSize: 10}

	c, err := a.Contribution(s, domain.Locus{Chromosome: "1", Position: 100}, obsWithCopies(0))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Observed)
}

func TestMissingSizeFailsRecord(t *testing.T) {
	a := newAccountant(t)
	s := domain.Sample{Name: "broken", Kind: domain.PoolUnknownRatio}

	_, err := a.Contribution(s, domain.Locus{Chromosome: "1", Position: 100}, nil)
	var perr domain.InsufficientPoolMetadataError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Error(), "broken")
}

func TestObservedNeverExceedsTotal(t *testing.T) {
	a := newAccountant(t)
	s := domain.Sample{Kind: domain.PoolUnknownRatio, PoolSize: 5}

	c, err := a.Contribution(s, domain.Locus{Chromosome: "1", Position: 100}, obsWithCopies(99))
	require.NoError(t, err)
	assert.Equal(t, 10, c.Total)
	assert.Equal(t, 10, c.Observed)
}

func TestUnconfiguredChromosomePropagates(t *testing.T) {
	a := newAccountant(t)
	s := domain.Sample{Kind: domain.PoolKnownRatio, PoolSize: 10, PoolFemales: 5, PoolMales: 5}

	_, err := a.Contribution(s, domain.Locus{Chromosome: "chrNope", Position: 1}, nil)
	var cerr domain.ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}
