package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varfreq/internal/domain"
)

func TestVersionMonotone(t *testing.T) {
	s := New()
	ctx := context.Background()
	locus := domain.Locus{Chromosome: "1", Position: 10}

	v, err := s.Version(ctx, locus)
	require.NoError(t, err)
	assert.Zero(t, v)

	for want := uint64(1); want <= 3; want++ {
		got, err := s.Bump(ctx, locus)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	other, err := s.Version(ctx, domain.Locus{Chromosome: "2", Position: 10})
	require.NoError(t, err)
	assert.Zero(t, other, "versions are per locus")
}

func TestChromosomeAndGlobalEpochs(t *testing.T) {
	s := New()
	ctx := context.Background()
	onChr1 := domain.Locus{Chromosome: "1", Position: 10}
	onChr2 := domain.Locus{Chromosome: "2", Position: 10}

	require.NoError(t, s.BumpChromosome(ctx, "1"))
	v1, err := s.Version(ctx, onChr1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v1, "chromosome epoch raises every locus on it")
	v2, err := s.Version(ctx, onChr2)
	require.NoError(t, err)
	assert.Zero(t, v2, "other chromosomes unaffected")

	require.NoError(t, s.BumpGlobal(ctx))
	v1, err = s.Version(ctx, onChr1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v1)
	v2, err = s.Version(ctx, onChr2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v2, "global epoch raises everything")

	_, err = s.Bump(ctx, onChr1)
	require.NoError(t, err)
	base, err := s.BaseVersion(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), base, "base excludes locus counters")
}

func TestObservationsAtRespectsValidityAndSampleSet(t *testing.T) {
	s := New()
	ctx := context.Background()
	locus := domain.Locus{Chromosome: "1", Position: 10}
	allele := domain.Allele{Reference: "A", Observed: "T"}

	require.NoError(t, s.PutObservations(ctx, []domain.Observation{
		{SampleID: "a", Locus: locus, Allele: allele, ValidFrom: 1},
		{SampleID: "b", Locus: locus, Allele: allele, ValidFrom: 2},
		{SampleID: "c", Locus: locus, Allele: allele, ValidFrom: 1, ValidTo: 2},
		{SampleID: "d", Locus: locus, Allele: allele, ValidFrom: 1},
	}))

	got, err := s.ObservationsAt(ctx, locus, allele, []string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "b")
	assert.NotContains(t, got, "c", "validity closed at version 2")
	assert.NotContains(t, got, "d", "not in the eligible set")

	got, err = s.ObservationsAt(ctx, locus, allele, []string{"a", "b", "c"}, 1)
	require.NoError(t, err)
	assert.NotContains(t, got, "b", "not yet valid at version 1")
	assert.Contains(t, got, "c")
}

func TestDeactivateSample(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.CreateSample(ctx, domain.Sample{GroupID: "g1"})
	require.NoError(t, err)

	require.NoError(t, s.DeactivateSample(ctx, id))
	got, err := s.GetSample(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Deactivated)

	assert.ErrorIs(t, s.DeactivateSample(ctx, "missing"), domain.ErrNotFound)
}

func TestImportJobLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	importID, err := s.CreateImport(ctx, domain.ImportBatch{}, nil)
	require.NoError(t, err)

	job, found, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, importID, job.ImportID)

	st, err := s.ImportStatus(ctx, importID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportRunning, st.Status)

	_, found, err = s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.False(t, found, "job already claimed")

	require.NoError(t, s.MarkCompleted(ctx, job.ID))
	st, err = s.ImportStatus(ctx, importID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportCompleted, st.Status)
	assert.Equal(t, 1.0, st.Progress)
}
