// Package importer is the engine-side boundary of the import pipeline: it
// validates handed-over batches, queues them for background processing, and
// handles sample withdrawal. File parsing and annotation happen upstream.
package importer

import (
	"context"
	"fmt"
	"log/slog"

	"varfreq/internal/domain"
	"varfreq/internal/freqcache"
	"varfreq/internal/ploidy"
	"varfreq/internal/ports"
)

type Service struct {
	imports  ports.ImportStore
	samples  ports.SampleStore
	obs      ports.ObservationStore
	versions ports.VersionStore
	cache    *freqcache.Cache
	locks    *freqcache.LockSet
	ploidy   *ploidy.Model
	log      *slog.Logger
}

func New(imports ports.ImportStore, samples ports.SampleStore, obs ports.ObservationStore, versions ports.VersionStore, cache *freqcache.Cache, locks *freqcache.LockSet, model *ploidy.Model, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{imports: imports, samples: samples, obs: obs, versions: versions, cache: cache, locks: locks, ploidy: model, log: log}
}

// Enqueue validates the batch record by record and queues what survives.
// Invalid records (a pool without a size, an observation on an unconfigured
// chromosome) are rejected individually and never abort the batch.
func (s *Service) Enqueue(ctx context.Context, batch domain.ImportBatch) (string, []domain.RejectedRecord, error) {
	clean, rejected := s.validate(batch)
	importID, err := s.imports.CreateImport(ctx, clean, rejected)
	if err != nil {
		return "", nil, fmt.Errorf("create import: %w", err)
	}
	s.log.Info("import queued",
		"import_id", importID,
		"samples", len(clean.Samples),
		"observations", len(clean.Observations),
		"regions", len(clean.Regions),
		"rejected", len(rejected))
	return importID, rejected, nil
}

func (s *Service) validate(batch domain.ImportBatch) (domain.ImportBatch, []domain.RejectedRecord) {
	var clean domain.ImportBatch
	var rejected []domain.RejectedRecord
	droppedSamples := make(map[string]struct{})

	for i, sample := range batch.Samples {
		if sample.Kind != domain.Individual && sample.PoolSize <= 0 {
			err := domain.InsufficientPoolMetadataError{Sample: sample.Name}
			rejected = append(rejected, domain.RejectedRecord{Kind: "sample", Index: i, Reason: err.Error()})
			if sample.ID != "" {
				droppedSamples[sample.ID] = struct{}{}
			}
			continue
		}
		if sample.Kind == domain.PoolKnownRatio &&
			(sample.PoolFemales < 0 || sample.PoolMales < 0 || sample.PoolFemales+sample.PoolMales != sample.PoolSize) {
			rejected = append(rejected, domain.RejectedRecord{Kind: "sample", Index: i,
				Reason: fmt.Sprintf("pool %q: females %d + males %d do not sum to size %d",
					sample.Name, sample.PoolFemales, sample.PoolMales, sample.PoolSize)})
			if sample.ID != "" {
				droppedSamples[sample.ID] = struct{}{}
			}
			continue
		}
		clean.Samples = append(clean.Samples, sample)
	}
	for i, o := range batch.Observations {
		if !s.ploidy.Configured(o.Locus.Chromosome) {
			rejected = append(rejected, domain.RejectedRecord{Kind: "observation", Index: i,
				Reason: fmt.Sprintf("chromosome %q has no ploidy mapping", o.Locus.Chromosome)})
			continue
		}
		if _, dropped := droppedSamples[o.SampleID]; dropped {
			rejected = append(rejected, domain.RejectedRecord{Kind: "observation", Index: i,
				Reason: fmt.Sprintf("sample %s was rejected", o.SampleID)})
			continue
		}
		clean.Observations = append(clean.Observations, o)
	}
	for i, r := range batch.Regions {
		if r.End <= r.Begin {
			rejected = append(rejected, domain.RejectedRecord{Kind: "region", Index: i,
				Reason: fmt.Sprintf("empty interval [%d, %d)", r.Begin, r.End)})
			continue
		}
		if _, dropped := droppedSamples[r.SampleID]; dropped {
			rejected = append(rejected, domain.RejectedRecord{Kind: "region", Index: i,
				Reason: fmt.Sprintf("sample %s was rejected", r.SampleID)})
			continue
		}
		clean.Regions = append(clean.Regions, r)
	}
	return clean, rejected
}

// Status reports an import's lifecycle state.
func (s *Service) Status(ctx context.Context, importID string) (domain.ImportStatus, error) {
	return s.imports.ImportStatus(ctx, importID)
}

// Withdraw soft-deletes a sample and invalidates every locus it contributed
// observations to. Historical results already emitted are not retroactively
// altered; future aggregations exclude the sample.
func (s *Service) Withdraw(ctx context.Context, sampleID string) error {
	if err := s.samples.DeactivateSample(ctx, sampleID); err != nil {
		return err
	}
	// A withdrawn sample stops contributing everywhere (its assumed coverage
	// included), so the global epoch moves; loci it observably touched are
	// dropped from the cache eagerly on top of that.
	if err := s.versions.BumpGlobal(ctx); err != nil {
		return fmt.Errorf("bump global epoch: %w", err)
	}
	loci, err := s.obs.LociOf(ctx, sampleID)
	if err != nil {
		return err
	}
	for _, locus := range loci {
		unlock := s.locks.Lock(locus)
		version, err := s.versions.Version(ctx, locus)
		if err != nil {
			unlock()
			return fmt.Errorf("version of %s: %w", locus, err)
		}
		s.cache.Invalidate(locus, version)
		unlock()
	}
	s.log.Info("sample withdrawn", "sample_id", sampleID, "loci", len(loci))
	return nil
}
