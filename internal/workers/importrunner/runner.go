// Package importrunner runs background workers that claim queued imports and
// commit them: write the batch, bump data versions, and invalidate cached
// frequencies before the new data becomes visible to readers.
package importrunner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"varfreq/internal/domain"
	"varfreq/internal/freqcache"
	"varfreq/internal/metrics"
	"varfreq/internal/ports"
)

// BatchProcessor commits the batch behind an import id.
type BatchProcessor interface {
	Process(ctx context.Context, importID string) error
}

// Processor is the real commit path. Per locus it holds the exclusive
// section across write, version bump, and invalidation so a reader can never
// observe the new version before the stale cache entries are gone.
type Processor struct {
	Imports  ports.ImportStore
	Samples  ports.SampleStore
	Obs      ports.ObservationStore
	Cov      ports.CoverageStore
	Versions ports.VersionStore
	Cache    *freqcache.Cache
	Locks    *freqcache.LockSet
	Log      *slog.Logger
}

func (p *Processor) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

func (p *Processor) Process(ctx context.Context, importID string) error {
	batch, err := p.Imports.GetBatch(ctx, importID)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}

	for _, s := range batch.Samples {
		if _, err := p.Samples.CreateSample(ctx, s); err != nil {
			return fmt.Errorf("create sample %s: %w", s.Name, err)
		}
	}
	_ = p.Imports.UpdateImportProgress(ctx, importID, 0.25)

	// Coverage regions land first, stamped ValidFrom just past the current
	// epoch base so they become live together with the chromosome epoch bump
	// below rather than immediately on write.
	if len(batch.Regions) > 0 {
		bases := make(map[string]uint64)
		for i := range batch.Regions {
			chrom := batch.Regions[i].Chromosome
			base, ok := bases[chrom]
			if !ok {
				base, err = p.Versions.BaseVersion(ctx, chrom)
				if err != nil {
					return fmt.Errorf("base version of %s: %w", chrom, err)
				}
				bases[chrom] = base
			}
			batch.Regions[i].ValidFrom = base + 1
		}
		if err := p.Cov.PutRegions(ctx, batch.Regions); err != nil {
			return fmt.Errorf("put regions: %w", err)
		}
	}
	_ = p.Imports.UpdateImportProgress(ctx, importID, 0.5)

	// Observations commit per locus under the exclusive section: the new
	// records carry ValidFrom = current+1, so they are invisible until the
	// bump publishes that version, and the invalidation inside the same
	// section happens before any reader can see it.
	byLocus := make(map[domain.Locus][]domain.Observation)
	for _, o := range batch.Observations {
		byLocus[o.Locus] = append(byLocus[o.Locus], o)
	}
	loci := make([]domain.Locus, 0, len(byLocus))
	for locus := range byLocus {
		loci = append(loci, locus)
	}
	sort.Slice(loci, func(i, j int) bool { return loci[i].String() < loci[j].String() })

	for i, locus := range loci {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.commitLocus(ctx, locus, byLocus[locus]); err != nil {
			return err
		}
		_ = p.Imports.UpdateImportProgress(ctx, importID, 0.5+0.5*float64(i+1)/float64(len(loci)))
	}

	chromosomes := make(map[string]struct{})
	for _, r := range batch.Regions {
		chromosomes[r.Chromosome] = struct{}{}
	}
	for chrom := range chromosomes {
		if err := p.Versions.BumpChromosome(ctx, chrom); err != nil {
			return fmt.Errorf("bump chromosome %s: %w", chrom, err)
		}
	}
	if len(batch.Samples) > 0 {
		if err := p.Versions.BumpGlobal(ctx); err != nil {
			return fmt.Errorf("bump global epoch: %w", err)
		}
	}

	p.logger().Info("import committed",
		"import_id", importID,
		"loci", len(loci),
		"regions", len(batch.Regions),
		"samples", len(batch.Samples))
	return nil
}

func (p *Processor) commitLocus(ctx context.Context, locus domain.Locus, obs []domain.Observation) error {
	unlock := p.Locks.Lock(locus)
	defer unlock()

	current, err := p.Versions.Version(ctx, locus)
	if err != nil {
		return fmt.Errorf("version of %s: %w", locus, err)
	}
	for i := range obs {
		obs[i].ValidFrom = current + 1
	}
	if err := p.Obs.PutObservations(ctx, obs); err != nil {
		return fmt.Errorf("put observations at %s: %w", locus, err)
	}
	published, err := p.Versions.Bump(ctx, locus)
	if err != nil {
		return fmt.Errorf("bump %s: %w", locus, err)
	}
	p.Cache.Invalidate(locus, published)
	return nil
}

// Run starts worker goroutines that claim import jobs and process them.
func Run(ctx context.Context, queue ports.ImportJobQueue, processor BatchProcessor, concurrency int, pollInterval time.Duration, log *slog.Logger) {
	if concurrency < 1 {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	jobsCh := make(chan ports.ImportJob, concurrency)

	// dispatcher loop
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(jobsCh)
				return
			case <-ticker.C:
				for {
					job, found, err := queue.ClaimNext(ctx)
					if err != nil {
						log.Error("job claim failed", "err", err)
						break
					}
					if !found {
						break
					}
					jobsCh <- job
				}
			}
		}
	}()

	// workers
	for i := 0; i < concurrency; i++ {
		go func(idx int) {
			for job := range jobsCh {
				if err := processor.Process(ctx, job.ImportID); err != nil {
					_ = queue.MarkFailed(ctx, job.ID, err.Error())
					metrics.ImportJobs.WithLabelValues("failed").Inc()
					log.Error("import failed", "worker", idx, "import_id", job.ImportID, "err", err)
					continue
				}
				if err := queue.MarkCompleted(ctx, job.ID); err != nil {
					log.Error("import completion failed", "worker", idx, "job_id", job.ID, "err", err)
					continue
				}
				metrics.ImportJobs.WithLabelValues("completed").Inc()
			}
		}(i)
	}
}

// ProcessInline commits a specific import synchronously using the same
// processor logic as the background workers.
func ProcessInline(ctx context.Context, queue ports.ImportJobQueue, processor BatchProcessor, importID string) error {
	jobID, err := queue.StartJobForImport(ctx, importID)
	if err != nil {
		return err
	}
	if err := processor.Process(ctx, importID); err != nil {
		_ = queue.MarkFailed(ctx, jobID, err.Error())
		metrics.ImportJobs.WithLabelValues("failed").Inc()
		return err
	}
	if err := queue.MarkCompleted(ctx, jobID); err != nil {
		return err
	}
	metrics.ImportJobs.WithLabelValues("completed").Inc()
	return nil
}
