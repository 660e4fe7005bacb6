package ports

import (
	"context"

	"varfreq/internal/domain"
)

// SampleStore manages samples and pools. Samples are immutable after import
// except for deactivation (withdrawal).
type SampleStore interface {
	CreateSample(ctx context.Context, s domain.Sample) (id string, err error)
	GetSample(ctx context.Context, id string) (domain.Sample, error)
	ListByGroup(ctx context.Context, groupID string) ([]domain.Sample, error)
	ListPublic(ctx context.Context, dataset string) ([]domain.Sample, error)
	DeactivateSample(ctx context.Context, id string) error
}

// ObservationStore is the append-only record of variant observations,
// supporting point lookup by locus restricted to an eligible sample set,
// as of a data version.
type ObservationStore interface {
	ObservationsAt(ctx context.Context, locus domain.Locus, allele domain.Allele, sampleIDs []string, asOf uint64) (map[string]domain.Observation, error)
	PutObservations(ctx context.Context, obs []domain.Observation) error
	// LociOf lists distinct loci a sample has observations at; withdrawal
	// uses it to invalidate affected cache entries.
	LociOf(ctx context.Context, sampleID string) ([]domain.Locus, error)
}

// CoverageStore holds per-sample coverage intervals, indexed for
// containment lookup per sample and chromosome.
type CoverageStore interface {
	RegionsFor(ctx context.Context, sampleID, chromosome string, asOf uint64) ([]domain.CoverageRegion, error)
	PutRegions(ctx context.Context, regions []domain.CoverageRegion) error
}

// VersionStore tracks the monotone data version per locus. The version is
// the sum of a per-locus counter, a per-chromosome epoch, and a global
// epoch: observation imports bump the locus counter, coverage imports bump
// the chromosome epoch (a region touches more loci than can be enumerated),
// and sample creation or withdrawal bumps the global epoch (an
// assume-covered sample changes totals everywhere). Epoch bumps invalidate
// lazily: cached entries fail the version comparison on their next read.
type VersionStore interface {
	Version(ctx context.Context, locus domain.Locus) (uint64, error)
	// BaseVersion returns the epoch component shared by every locus on the
	// chromosome (chromosome epoch plus global epoch, no locus counter).
	// Imports stamp coverage regions ValidFrom relative to it so the regions
	// become live together with the chromosome epoch bump.
	BaseVersion(ctx context.Context, chromosome string) (uint64, error)
	Bump(ctx context.Context, locus domain.Locus) (uint64, error)
	BumpChromosome(ctx context.Context, chromosome string) error
	BumpGlobal(ctx context.Context) error
}
