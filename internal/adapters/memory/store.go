// Package memory is an in-process store implementing every repository port.
// It backs tests and local development; the postgres and sqlite adapters are
// the durable equivalents.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"varfreq/internal/domain"
	"varfreq/internal/ports"
)

type importRecord struct {
	status domain.ImportStatus
	batch  domain.ImportBatch
}

type jobRecord struct {
	id       string
	importID string
	status   string
	queuedAt time.Time
}

type Store struct {
	mu           sync.RWMutex
	samples      map[string]domain.Sample
	observations []domain.Observation
	regions      []domain.CoverageRegion
	versions     map[domain.Locus]uint64
	chromEpochs  map[string]uint64
	globalEpoch  uint64
	imports      map[string]*importRecord
	jobs         []*jobRecord
	now          func() time.Time
}

func New() *Store {
	return &Store{
		samples:     make(map[string]domain.Sample),
		versions:    make(map[domain.Locus]uint64),
		chromEpochs: make(map[string]uint64),
		imports:     make(map[string]*importRecord),
		now:         time.Now,
	}
}

var (
	_ ports.SampleStore      = (*Store)(nil)
	_ ports.ObservationStore = (*Store)(nil)
	_ ports.CoverageStore    = (*Store)(nil)
	_ ports.VersionStore     = (*Store)(nil)
	_ ports.ImportStore      = (*Store)(nil)
	_ ports.ImportJobQueue   = (*Store)(nil)
)

// SampleStore

func (s *Store) CreateSample(_ context.Context, sample domain.Sample) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	if _, exists := s.samples[sample.ID]; exists {
		return "", fmt.Errorf("sample %s already exists", sample.ID)
	}
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = s.now()
	}
	s.samples[sample.ID] = sample
	return sample.ID, nil
}

func (s *Store) GetSample(_ context.Context, id string) (domain.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.samples[id]
	if !ok {
		return domain.Sample{}, domain.ErrNotFound
	}
	return sample, nil
}

func (s *Store) ListByGroup(_ context.Context, groupID string) ([]domain.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Sample
	for _, sample := range s.samples {
		if sample.GroupID == groupID {
			out = append(out, sample)
		}
	}
	return out, nil
}

func (s *Store) ListPublic(_ context.Context, dataset string) ([]domain.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Sample
	for _, sample := range s.samples {
		if sample.Public && (dataset == "" || sample.Dataset == dataset) {
			out = append(out, sample)
		}
	}
	return out, nil
}

func (s *Store) DeactivateSample(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample, ok := s.samples[id]
	if !ok {
		return domain.ErrNotFound
	}
	sample.Deactivated = true
	s.samples[id] = sample
	return nil
}

// ObservationStore

func (s *Store) ObservationsAt(_ context.Context, locus domain.Locus, allele domain.Allele, sampleIDs []string, asOf uint64) (map[string]domain.Observation, error) {
	wanted := make(map[string]struct{}, len(sampleIDs))
	for _, id := range sampleIDs {
		wanted[id] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Observation)
	for _, o := range s.observations {
		if o.Locus != locus || o.Allele != allele {
			continue
		}
		if !liveAt(o.ValidFrom, o.ValidTo, asOf) {
			continue
		}
		if _, ok := wanted[o.SampleID]; !ok {
			continue
		}
		out[o.SampleID] = o
	}
	return out, nil
}

func (s *Store) PutObservations(_ context.Context, obs []domain.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations = append(s.observations, obs...)
	return nil
}

func (s *Store) LociOf(_ context.Context, sampleID string) ([]domain.Locus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[domain.Locus]struct{})
	var out []domain.Locus
	for _, o := range s.observations {
		if o.SampleID != sampleID {
			continue
		}
		if _, ok := seen[o.Locus]; ok {
			continue
		}
		seen[o.Locus] = struct{}{}
		out = append(out, o.Locus)
	}
	return out, nil
}

// CoverageStore

func (s *Store) RegionsFor(_ context.Context, sampleID, chromosome string, asOf uint64) ([]domain.CoverageRegion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CoverageRegion
	for _, r := range s.regions {
		if r.SampleID == sampleID && r.Chromosome == chromosome && liveAt(r.ValidFrom, r.ValidTo, asOf) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) PutRegions(_ context.Context, regions []domain.CoverageRegion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = append(s.regions, regions...)
	return nil
}

// VersionStore

func (s *Store) Version(_ context.Context, locus domain.Locus) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[locus] + s.chromEpochs[locus.Chromosome] + s.globalEpoch, nil
}

func (s *Store) BaseVersion(_ context.Context, chromosome string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chromEpochs[chromosome] + s.globalEpoch, nil
}

func (s *Store) Bump(_ context.Context, locus domain.Locus) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[locus]++
	return s.versions[locus] + s.chromEpochs[locus.Chromosome] + s.globalEpoch, nil
}

func (s *Store) BumpChromosome(_ context.Context, chromosome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chromEpochs[chromosome]++
	return nil
}

func (s *Store) BumpGlobal(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalEpoch++
	return nil
}

// ImportStore

func (s *Store) CreateImport(_ context.Context, batch domain.ImportBatch, rejected []domain.RejectedRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.imports[id] = &importRecord{
		status: domain.ImportStatus{
			ID:        id,
			Status:    domain.ImportQueued,
			Rejected:  rejected,
			CreatedAt: s.now(),
		},
		batch: batch,
	}
	s.jobs = append(s.jobs, &jobRecord{id: uuid.NewString(), importID: id, status: domain.ImportQueued, queuedAt: s.now()})
	return id, nil
}

func (s *Store) GetBatch(_ context.Context, importID string) (domain.ImportBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.imports[importID]
	if !ok {
		return domain.ImportBatch{}, domain.ErrNotFound
	}
	return rec.batch, nil
}

func (s *Store) ImportStatus(_ context.Context, importID string) (domain.ImportStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.imports[importID]
	if !ok {
		return domain.ImportStatus{}, domain.ErrNotFound
	}
	return rec.status, nil
}

func (s *Store) UpdateImportProgress(_ context.Context, importID string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.imports[importID]
	if !ok {
		return domain.ErrNotFound
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	rec.status.Progress = progress
	return nil
}

// ImportJobQueue

func (s *Store) ClaimNext(_ context.Context) (ports.ImportJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.status != domain.ImportQueued {
			continue
		}
		job.status = domain.ImportRunning
		if rec, ok := s.imports[job.importID]; ok {
			rec.status.Status = domain.ImportRunning
		}
		return ports.ImportJob{ID: job.id, ImportID: job.importID}, true, nil
	}
	return ports.ImportJob{}, false, nil
}

func (s *Store) StartJobForImport(_ context.Context, importID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.importID == importID && job.status == domain.ImportQueued {
			job.status = domain.ImportRunning
			if rec, ok := s.imports[importID]; ok {
				rec.status.Status = domain.ImportRunning
			}
			return job.id, nil
		}
	}
	return "", domain.ErrNotFound
}

func (s *Store) MarkCompleted(_ context.Context, jobID string) error {
	return s.finishJob(jobID, domain.ImportCompleted, "")
}

func (s *Store) MarkFailed(_ context.Context, jobID string, reason string) error {
	return s.finishJob(jobID, domain.ImportFailed, reason)
}

func (s *Store) finishJob(jobID, status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.id != jobID {
			continue
		}
		job.status = status
		if rec, ok := s.imports[job.importID]; ok {
			rec.status.Status = status
			rec.status.Error = reason
			if status == domain.ImportCompleted {
				rec.status.Progress = 1
			}
		}
		return nil
	}
	return domain.ErrNotFound
}

func liveAt(validFrom, validTo, asOf uint64) bool {
	if validFrom > asOf {
		return false
	}
	return validTo == 0 || asOf < validTo
}
