package coverage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varfreq/internal/domain"
)

func region(begin, end int64) domain.CoverageRegion {
	return domain.CoverageRegion{SampleID: "s1", Chromosome: "1", Begin: begin, End: end}
}

func TestIndexContains(t *testing.T) {
	idx := NewIndex([]domain.CoverageRegion{region(100, 200), region(500, 600)})
	tests := []struct {
		pos  int64
		want bool
	}{
		{99, false},
		{100, true},
		{199, true},
		{200, false}, // half-open
		{350, false},
		{500, true},
		{599, true},
		{600, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, idx.Contains(tt.pos), "position %d", tt.pos)
	}
}

func TestIndexMergesOverlappingAndAdjacent(t *testing.T) {
	idx := NewIndex([]domain.CoverageRegion{
		region(100, 200),
		region(150, 250),
		region(250, 300), // adjacent to previous end
		region(400, 450),
	})
	assert.Equal(t, 2, idx.Len())
	assert.True(t, idx.Contains(225))
	assert.True(t, idx.Contains(299))
	assert.False(t, idx.Contains(300))
	assert.False(t, idx.Contains(350))
}

func TestIndexEmpty(t *testing.T) {
	assert.False(t, NewIndex(nil).Contains(1))
}

type stubCoverageStore struct {
	regions []domain.CoverageRegion
	calls   int
}

func (s *stubCoverageStore) RegionsFor(_ context.Context, sampleID, chromosome string, _ uint64) ([]domain.CoverageRegion, error) {
	s.calls++
	var out []domain.CoverageRegion
	for _, r := range s.regions {
		if r.SampleID == sampleID && r.Chromosome == chromosome {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubCoverageStore) PutRegions(context.Context, []domain.CoverageRegion) error { return nil }

func TestResolverTrackedCoverage(t *testing.T) {
	store := &stubCoverageStore{regions: []domain.CoverageRegion{region(100, 200)}}
	r := NewResolver(store)
	sample := domain.Sample{ID: "s1", CoveragePolicy: domain.TrackedCoverage}

	covered, fallback, err := r.Covered(context.Background(), sample, domain.Locus{Chromosome: "1", Position: 150}, 1)
	require.NoError(t, err)
	assert.True(t, covered)
	assert.False(t, fallback)

	covered, _, err = r.Covered(context.Background(), sample, domain.Locus{Chromosome: "1", Position: 250}, 1)
	require.NoError(t, err)
	assert.False(t, covered)

	covered, _, err = r.Covered(context.Background(), sample, domain.Locus{Chromosome: "2", Position: 150}, 1)
	require.NoError(t, err)
	assert.False(t, covered, "no regions on another chromosome")
}

func TestResolverPolicies(t *testing.T) {
	store := &stubCoverageStore{}
	r := NewResolver(store)
	locus := domain.Locus{Chromosome: "1", Position: 5}

	covered, fallback, err := r.Covered(context.Background(), domain.Sample{CoveragePolicy: domain.AssumeCovered}, locus, 1)
	require.NoError(t, err)
	assert.True(t, covered)
	assert.True(t, fallback, "assumed coverage must be flagged for provenance")

	covered, fallback, err = r.Covered(context.Background(), domain.Sample{CoveragePolicy: domain.AssumeUncovered}, locus, 1)
	require.NoError(t, err)
	assert.False(t, covered)
	assert.False(t, fallback)

	assert.Zero(t, store.calls, "policy answers must not touch the store")
}
