package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"varfreq/internal/domain"
	"varfreq/internal/ports"
)

var (
	_ ports.SampleStore      = (*DB)(nil)
	_ ports.ObservationStore = (*DB)(nil)
	_ ports.CoverageStore    = (*DB)(nil)
	_ ports.VersionStore     = (*DB)(nil)
)

// SampleStore

func (db *DB) CreateSample(ctx context.Context, s domain.Sample) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO samples (id, group_id, name, sex, kind, pool_size, pool_females, pool_males,
		                     covered_fraction, coverage_policy, public, dataset)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, s.ID, s.GroupID, s.Name, s.Sex, s.Kind, s.PoolSize, s.PoolFemales, s.PoolMales,
		s.CoveredFraction, s.CoveragePolicy, s.Public, s.Dataset)
	return s.ID, err
}

const sampleColumns = `id, group_id, name, sex, kind, pool_size, pool_females, pool_males,
	covered_fraction, coverage_policy, public, dataset, deactivated, created_at`

func scanSample(row pgx.Row) (domain.Sample, error) {
	var s domain.Sample
	err := row.Scan(&s.ID, &s.GroupID, &s.Name, &s.Sex, &s.Kind, &s.PoolSize, &s.PoolFemales,
		&s.PoolMales, &s.CoveredFraction, &s.CoveragePolicy, &s.Public, &s.Dataset,
		&s.Deactivated, &s.CreatedAt)
	return s, err
}

func (db *DB) GetSample(ctx context.Context, id string) (domain.Sample, error) {
	s, err := scanSample(db.Pool.QueryRow(ctx, `SELECT `+sampleColumns+` FROM samples WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Sample{}, domain.ErrNotFound
	}
	return s, err
}

func (db *DB) ListByGroup(ctx context.Context, groupID string) ([]domain.Sample, error) {
	rows, err := db.Pool.Query(ctx, `SELECT `+sampleColumns+` FROM samples WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, err
	}
	return collectSamples(rows)
}

func (db *DB) ListPublic(ctx context.Context, dataset string) ([]domain.Sample, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+sampleColumns+` FROM samples
		WHERE public AND ($1 = '' OR dataset = $1)
	`, dataset)
	if err != nil {
		return nil, err
	}
	return collectSamples(rows)
}

func collectSamples(rows pgx.Rows) ([]domain.Sample, error) {
	defer rows.Close()
	var out []domain.Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (db *DB) DeactivateSample(ctx context.Context, id string) error {
	tag, err := db.Pool.Exec(ctx, `UPDATE samples SET deactivated = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ObservationStore

func (db *DB) ObservationsAt(ctx context.Context, locus domain.Locus, allele domain.Allele, sampleIDs []string, asOf uint64) (map[string]domain.Observation, error) {
	if len(sampleIDs) == 0 {
		return map[string]domain.Observation{}, nil
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT sample_id, zygosity, copies, valid_from, valid_to
		FROM observations
		WHERE chromosome = $1 AND position = $2 AND reference = $3 AND observed = $4
		  AND sample_id = ANY($5)
		  AND valid_from <= $6 AND (valid_to = 0 OR valid_to > $6)
		ORDER BY id
	`, locus.Chromosome, locus.Position, allele.Reference, allele.Observed, sampleIDs, int64(asOf))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]domain.Observation)
	for rows.Next() {
		o := domain.Observation{Locus: locus, Allele: allele}
		var validFrom, validTo int64
		if err := rows.Scan(&o.SampleID, &o.Zygosity, &o.Copies, &validFrom, &validTo); err != nil {
			return nil, err
		}
		o.ValidFrom, o.ValidTo = uint64(validFrom), uint64(validTo)
		// later records supersede earlier ones for the same sample
		out[o.SampleID] = o
	}
	return out, rows.Err()
}

func (db *DB) PutObservations(ctx context.Context, obs []domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range obs {
		batch.Queue(`
			INSERT INTO observations (sample_id, chromosome, position, reference, observed, zygosity, copies, valid_from, valid_to)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, o.SampleID, o.Locus.Chromosome, o.Locus.Position, o.Allele.Reference, o.Allele.Observed,
			o.Zygosity, o.Copies, int64(o.ValidFrom), int64(o.ValidTo))
	}
	return db.Pool.SendBatch(ctx, batch).Close()
}

func (db *DB) LociOf(ctx context.Context, sampleID string) ([]domain.Locus, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT DISTINCT chromosome, position FROM observations WHERE sample_id = $1
	`, sampleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Locus
	for rows.Next() {
		var l domain.Locus
		if err := rows.Scan(&l.Chromosome, &l.Position); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CoverageStore

func (db *DB) RegionsFor(ctx context.Context, sampleID, chromosome string, asOf uint64) ([]domain.CoverageRegion, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT begin_pos, end_pos, valid_from, valid_to
		FROM coverage_regions
		WHERE sample_id = $1 AND chromosome = $2
		  AND valid_from <= $3 AND (valid_to = 0 OR valid_to > $3)
	`, sampleID, chromosome, int64(asOf))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CoverageRegion
	for rows.Next() {
		r := domain.CoverageRegion{SampleID: sampleID, Chromosome: chromosome}
		var validFrom, validTo int64
		if err := rows.Scan(&r.Begin, &r.End, &validFrom, &validTo); err != nil {
			return nil, err
		}
		r.ValidFrom, r.ValidTo = uint64(validFrom), uint64(validTo)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) PutRegions(ctx context.Context, regions []domain.CoverageRegion) error {
	if len(regions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range regions {
		batch.Queue(`
			INSERT INTO coverage_regions (sample_id, chromosome, begin_pos, end_pos, valid_from, valid_to)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, r.SampleID, r.Chromosome, r.Begin, r.End, int64(r.ValidFrom), int64(r.ValidTo))
	}
	return db.Pool.SendBatch(ctx, batch).Close()
}

// VersionStore. The version of a locus is the sum of its counter, its
// chromosome's epoch, and the global epoch.

func (db *DB) Version(ctx context.Context, locus domain.Locus) (uint64, error) {
	var version int64
	err := db.Pool.QueryRow(ctx, `
		SELECT COALESCE((SELECT counter FROM locus_versions WHERE chromosome = $1 AND position = $2), 0)
		     + COALESCE((SELECT epoch FROM chromosome_epochs WHERE chromosome = $1), 0)
		     + (SELECT epoch FROM global_epoch WHERE id = 1)
	`, locus.Chromosome, locus.Position).Scan(&version)
	return uint64(version), err
}

func (db *DB) BaseVersion(ctx context.Context, chromosome string) (uint64, error) {
	var base int64
	err := db.Pool.QueryRow(ctx, `
		SELECT COALESCE((SELECT epoch FROM chromosome_epochs WHERE chromosome = $1), 0)
		     + (SELECT epoch FROM global_epoch WHERE id = 1)
	`, chromosome).Scan(&base)
	return uint64(base), err
}

func (db *DB) Bump(ctx context.Context, locus domain.Locus) (uint64, error) {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO locus_versions (chromosome, position, counter) VALUES ($1, $2, 1)
		ON CONFLICT (chromosome, position) DO UPDATE SET counter = locus_versions.counter + 1
	`, locus.Chromosome, locus.Position)
	if err != nil {
		return 0, err
	}
	return db.Version(ctx, locus)
}

func (db *DB) BumpChromosome(ctx context.Context, chromosome string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO chromosome_epochs (chromosome, epoch) VALUES ($1, 1)
		ON CONFLICT (chromosome) DO UPDATE SET epoch = chromosome_epochs.epoch + 1
	`, chromosome)
	return err
}

func (db *DB) BumpGlobal(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `UPDATE global_epoch SET epoch = epoch + 1 WHERE id = 1`)
	return err
}
