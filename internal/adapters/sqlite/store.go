// Package sqlite is a single-file durable adapter over modernc.org/sqlite,
// suitable for single-node deployments and integration tests without a
// Postgres server. It mirrors the postgres adapter's schema in SQLite terms.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"varfreq/internal/domain"
	"varfreq/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS samples (
	id               TEXT PRIMARY KEY,
	group_id         TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	sex              INTEGER NOT NULL DEFAULT 0,
	kind             INTEGER NOT NULL DEFAULT 0,
	pool_size        INTEGER NOT NULL DEFAULT 0,
	pool_females     INTEGER NOT NULL DEFAULT 0,
	pool_males       INTEGER NOT NULL DEFAULT 0,
	covered_fraction REAL NOT NULL DEFAULT 0,
	coverage_policy  INTEGER NOT NULL DEFAULT 0,
	public           INTEGER NOT NULL DEFAULT 0,
	dataset          TEXT NOT NULL DEFAULT '',
	deactivated      INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS observations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	sample_id  TEXT NOT NULL,
	chromosome TEXT NOT NULL,
	position   INTEGER NOT NULL,
	reference  TEXT NOT NULL,
	observed   TEXT NOT NULL,
	zygosity   INTEGER NOT NULL DEFAULT 0,
	copies     INTEGER NOT NULL DEFAULT 0,
	valid_from INTEGER NOT NULL DEFAULT 0,
	valid_to   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS observations_locus_idx ON observations (chromosome, position, reference, observed);
CREATE INDEX IF NOT EXISTS observations_sample_idx ON observations (sample_id);
CREATE TABLE IF NOT EXISTS coverage_regions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	sample_id  TEXT NOT NULL,
	chromosome TEXT NOT NULL,
	begin_pos  INTEGER NOT NULL,
	end_pos    INTEGER NOT NULL,
	valid_from INTEGER NOT NULL DEFAULT 0,
	valid_to   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS coverage_regions_sample_idx ON coverage_regions (sample_id, chromosome);
CREATE TABLE IF NOT EXISTS locus_versions (
	chromosome TEXT NOT NULL,
	position   INTEGER NOT NULL,
	counter    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (chromosome, position)
);
CREATE TABLE IF NOT EXISTS chromosome_epochs (
	chromosome TEXT PRIMARY KEY,
	epoch      INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS global_epoch (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	epoch INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO global_epoch (id, epoch) VALUES (1, 0);
CREATE TABLE IF NOT EXISTS imports (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'queued',
	progress    REAL NOT NULL DEFAULT 0,
	batch       TEXT NOT NULL,
	rejected    TEXT NOT NULL DEFAULT '[]',
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	started_at  TIMESTAMP,
	finished_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS import_jobs (
	id          TEXT PRIMARY KEY,
	import_id   TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'queued',
	attempts    INTEGER NOT NULL DEFAULT 0,
	queued_at   TIMESTAMP NOT NULL,
	started_at  TIMESTAMP,
	finished_at TIMESTAMP
);
`

type Store struct {
	db *sql.DB
}

var (
	_ ports.SampleStore      = (*Store)(nil)
	_ ports.ObservationStore = (*Store)(nil)
	_ ports.CoverageStore    = (*Store)(nil)
	_ ports.VersionStore     = (*Store)(nil)
	_ ports.ImportStore      = (*Store)(nil)
	_ ports.ImportJobQueue   = (*Store)(nil)
)

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	// modernc sqlite is not safe for concurrent writers on one connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SampleStore

func (s *Store) CreateSample(ctx context.Context, sample domain.Sample) (string, error) {
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO samples (id, group_id, name, sex, kind, pool_size, pool_females, pool_males,
		                     covered_fraction, coverage_policy, public, dataset, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sample.ID, sample.GroupID, sample.Name, int(sample.Sex), int(sample.Kind), sample.PoolSize,
		sample.PoolFemales, sample.PoolMales, sample.CoveredFraction, int(sample.CoveragePolicy),
		sample.Public, sample.Dataset, sample.CreatedAt)
	return sample.ID, err
}

const sampleColumns = `id, group_id, name, sex, kind, pool_size, pool_females, pool_males,
	covered_fraction, coverage_policy, public, dataset, deactivated, created_at`

func scanSample(row interface{ Scan(...any) error }) (domain.Sample, error) {
	var out domain.Sample
	var sex, kind, policy int
	err := row.Scan(&out.ID, &out.GroupID, &out.Name, &sex, &kind, &out.PoolSize, &out.PoolFemales,
		&out.PoolMales, &out.CoveredFraction, &policy, &out.Public, &out.Dataset,
		&out.Deactivated, &out.CreatedAt)
	out.Sex = domain.Sex(sex)
	out.Kind = domain.SampleKind(kind)
	out.CoveragePolicy = domain.CoveragePolicy(policy)
	return out, err
}

func (s *Store) GetSample(ctx context.Context, id string) (domain.Sample, error) {
	out, err := scanSample(s.db.QueryRowContext(ctx, `SELECT `+sampleColumns+` FROM samples WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Sample{}, domain.ErrNotFound
	}
	return out, err
}

func (s *Store) ListByGroup(ctx context.Context, groupID string) ([]domain.Sample, error) {
	return s.listSamples(ctx, `SELECT `+sampleColumns+` FROM samples WHERE group_id = ?`, groupID)
}

func (s *Store) ListPublic(ctx context.Context, dataset string) ([]domain.Sample, error) {
	return s.listSamples(ctx, `SELECT `+sampleColumns+` FROM samples WHERE public AND (? = '' OR dataset = ?)`, dataset, dataset)
}

func (s *Store) listSamples(ctx context.Context, query string, args ...any) ([]domain.Sample, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

func (s *Store) DeactivateSample(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE samples SET deactivated = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ObservationStore

func (s *Store) ObservationsAt(ctx context.Context, locus domain.Locus, allele domain.Allele, sampleIDs []string, asOf uint64) (map[string]domain.Observation, error) {
	out := make(map[string]domain.Observation)
	if len(sampleIDs) == 0 {
		return out, nil
	}
	query := `
		SELECT sample_id, zygosity, copies, valid_from, valid_to
		FROM observations
		WHERE chromosome = ? AND position = ? AND reference = ? AND observed = ?
		  AND valid_from <= ? AND (valid_to = 0 OR valid_to > ?)
		  AND sample_id IN (?` + strings.Repeat(",?", len(sampleIDs)-1) + `)
		ORDER BY id`
	args := []any{locus.Chromosome, locus.Position, allele.Reference, allele.Observed, int64(asOf), int64(asOf)}
	for _, id := range sampleIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		o := domain.Observation{Locus: locus, Allele: allele}
		var zygosity int
		var validFrom, validTo int64
		if err := rows.Scan(&o.SampleID, &zygosity, &o.Copies, &validFrom, &validTo); err != nil {
			return nil, err
		}
		o.Zygosity = domain.Zygosity(zygosity)
		o.ValidFrom, o.ValidTo = uint64(validFrom), uint64(validTo)
		out[o.SampleID] = o
	}
	return out, rows.Err()
}

func (s *Store) PutObservations(ctx context.Context, obs []domain.Observation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, o := range obs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO observations (sample_id, chromosome, position, reference, observed, zygosity, copies, valid_from, valid_to)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, o.SampleID, o.Locus.Chromosome, o.Locus.Position, o.Allele.Reference, o.Allele.Observed,
			int(o.Zygosity), o.Copies, int64(o.ValidFrom), int64(o.ValidTo)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) LociOf(ctx context.Context, sampleID string) ([]domain.Locus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT chromosome, position FROM observations WHERE sample_id = ?
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

func (s *Store) RegionsFor(ctx context.Context, sampleID, chromosome string, asOf uint64) ([]domain.CoverageRegion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT begin_pos, end_pos, valid_from, valid_to
		FROM coverage_regions
		WHERE sample_id = ? AND chromosome = ?
		  AND valid_from <= ? AND (valid_to = 0 OR valid_to > ?)
	`, sampleID, chromosome, int64(asOf), int64(asOf))
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

func (s *Store) PutRegions(ctx context.Context, regions []domain.CoverageRegion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, r := range regions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO coverage_regions (sample_id, chromosome, begin_pos, end_pos, valid_from, valid_to)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.SampleID, r.Chromosome, r.Begin, r.End, int64(r.ValidFrom), int64(r.ValidTo)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// VersionStore

func (s *Store) Version(ctx context.Context, locus domain.Locus) (uint64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT counter FROM locus_versions WHERE chromosome = ? AND position = ?), 0)
		     + COALESCE((SELECT epoch FROM chromosome_epochs WHERE chromosome = ?), 0)
		     + (SELECT epoch FROM global_epoch WHERE id = 1)
	`, locus.Chromosome, locus.Position, locus.Chromosome).Scan(&version)
	return uint64(version), err
}

func (s *Store) BaseVersion(ctx context.Context, chromosome string) (uint64, error) {
	var base int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT epoch FROM chromosome_epochs WHERE chromosome = ?), 0)
		     + (SELECT epoch FROM global_epoch WHERE id = 1)
	`, chromosome).Scan(&base)
	return uint64(base), err
}

func (s *Store) Bump(ctx context.Context, locus domain.Locus) (uint64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locus_versions (chromosome, position, counter) VALUES (?, ?, 1)
		ON CONFLICT (chromosome, position) DO UPDATE SET counter = counter + 1
	`, locus.Chromosome, locus.Position)
	if err != nil {
		return 0, err
	}
	return s.Version(ctx, locus)
}

func (s *Store) BumpChromosome(ctx context.Context, chromosome string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chromosome_epochs (chromosome, epoch) VALUES (?, 1)
		ON CONFLICT (chromosome) DO UPDATE SET epoch = epoch + 1
	`, chromosome)
	return err
}

func (s *Store) BumpGlobal(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE global_epoch SET epoch = epoch + 1 WHERE id = 1`)
	return err
}

// ImportStore

func (s *Store) CreateImport(ctx context.Context, batch domain.ImportBatch, rejected []domain.RejectedRecord) (string, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return "", err
	}
	if rejected == nil {
		rejected = []domain.RejectedRecord{}
	}
	rejectedJSON, err := json.Marshal(rejected)
	if err != nil {
		return "", err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	importID := uuid.NewString()
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO imports (id, batch, rejected, created_at) VALUES (?, ?, ?, ?)
	`, importID, string(payload), string(rejectedJSON), now); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO import_jobs (id, import_id, queued_at) VALUES (?, ?, ?)
	`, uuid.NewString(), importID, now); err != nil {
		return "", err
	}
	return importID, tx.Commit()
}

func (s *Store) GetBatch(ctx context.Context, importID string) (domain.ImportBatch, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT batch FROM imports WHERE id = ?`, importID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ImportBatch{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ImportBatch{}, err
	}
	var batch domain.ImportBatch
	if err := json.Unmarshal([]byte(payload), &batch); err != nil {
		return domain.ImportBatch{}, err
	}
	return batch, nil
}

func (s *Store) ImportStatus(ctx context.Context, importID string) (domain.ImportStatus, error) {
	st := domain.ImportStatus{ID: importID}
	var rejectedJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT status, progress, rejected, error, created_at FROM imports WHERE id = ?
	`, importID).Scan(&st.Status, &st.Progress, &rejectedJSON, &st.Error, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ImportStatus{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ImportStatus{}, err
	}
	if err := json.Unmarshal([]byte(rejectedJSON), &st.Rejected); err != nil {
		return domain.ImportStatus{}, err
	}
	return st, nil
}

func (s *Store) UpdateImportProgress(ctx context.Context, importID string, progress float64) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE imports SET progress = ? WHERE id = ?`, progress, importID)
	return err
}

// ImportJobQueue. SQLite has no SKIP LOCKED; the single-connection pool
// serializes claimants, so a plain read-then-update transaction is safe.

func (s *Store) ClaimNext(ctx context.Context) (ports.ImportJob, bool, error) {
	var job ports.ImportJob
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return job, false, err
	}
	defer tx.Rollback()
	err = tx.QueryRowContext(ctx, `
		SELECT id, import_id FROM import_jobs WHERE status = 'queued' ORDER BY queued_at LIMIT 1
	`).Scan(&job.ID, &job.ImportID)
	if errors.Is(err, sql.ErrNoRows) {
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}
	if err := s.startJob(ctx, tx, job.ID, job.ImportID); err != nil {
		return job, false, err
	}
	return job, true, tx.Commit()
}

func (s *Store) StartJobForImport(ctx context.Context, importID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	var jobID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM import_jobs WHERE import_id = ? AND status = 'queued'
	`, importID).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if err := s.startJob(ctx, tx, jobID, importID); err != nil {
		return "", err
	}
	return jobID, tx.Commit()
}

func (s *Store) startJob(ctx context.Context, tx *sql.Tx, jobID, importID string) error {
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE import_jobs SET status='running', started_at=?, attempts=attempts+1 WHERE id=?
	`, now, jobID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE imports SET status='running', started_at=COALESCE(started_at, ?) WHERE id=?
	`, now, importID)
	return err
}

func (s *Store) MarkCompleted(ctx context.Context, jobID string) error {
	return s.finishJob(ctx, jobID, domain.ImportCompleted, "")
}

func (s *Store) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return s.finishJob(ctx, jobID, domain.ImportFailed, reason)
}

func (s *Store) finishJob(ctx context.Context, jobID, status, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var importID string
	err = tx.QueryRowContext(ctx, `SELECT import_id FROM import_jobs WHERE id = ?`, jobID).Scan(&importID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE import_jobs SET status=?, finished_at=? WHERE id=?
	`, status, now, jobID); err != nil {
		return err
	}
	query := `UPDATE imports SET status=?, error=?, finished_at=? WHERE id=?`
	if status == domain.ImportCompleted {
		query = `UPDATE imports SET status=?, error=?, finished_at=?, progress=1 WHERE id=?`
	}
	if _, err := tx.ExecContext(ctx, query, status, reason, now, importID); err != nil {
		return err
	}
	return tx.Commit()
}
