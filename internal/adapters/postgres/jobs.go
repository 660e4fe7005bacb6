package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"varfreq/internal/domain"
	"varfreq/internal/ports"
)

var (
	_ ports.ImportStore    = (*DB)(nil)
	_ ports.ImportJobQueue = (*DB)(nil)
)

// ImportStore

func (db *DB) CreateImport(ctx context.Context, batch domain.ImportBatch, rejected []domain.RejectedRecord) (string, error) {
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

	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	var importID string
	if err = tx.QueryRow(ctx, `
		INSERT INTO imports (batch, rejected) VALUES ($1, $2) RETURNING id
	`, payload, rejectedJSON).Scan(&importID); err != nil {
		return "", err
	}
	if _, err = tx.Exec(ctx, `INSERT INTO import_jobs (import_id) VALUES ($1)`, importID); err != nil {
		return "", err
	}
	return importID, nil
}

func (db *DB) GetBatch(ctx context.Context, importID string) (domain.ImportBatch, error) {
	var payload []byte
	err := db.Pool.QueryRow(ctx, `SELECT batch FROM imports WHERE id = $1`, importID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ImportBatch{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ImportBatch{}, err
	}
	var batch domain.ImportBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return domain.ImportBatch{}, err
	}
	return batch, nil
}

func (db *DB) ImportStatus(ctx context.Context, importID string) (domain.ImportStatus, error) {
	st := domain.ImportStatus{ID: importID}
	var rejectedJSON []byte
	err := db.Pool.QueryRow(ctx, `
		SELECT status, progress, rejected, error, created_at FROM imports WHERE id = $1
	`, importID).Scan(&st.Status, &st.Progress, &rejectedJSON, &st.Error, &st.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ImportStatus{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ImportStatus{}, err
	}
	if err := json.Unmarshal(rejectedJSON, &st.Rejected); err != nil {
		return domain.ImportStatus{}, err
	}
	return st, nil
}

func (db *DB) UpdateImportProgress(ctx context.Context, importID string, progress float64) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	_, err := db.Pool.Exec(ctx, `UPDATE imports SET progress = $2 WHERE id = $1`, importID, progress)
	return err
}

// ImportJobQueue

// ClaimNext selects the next queued job using SKIP LOCKED and marks it running.
func (db *DB) ClaimNext(ctx context.Context) (job ports.ImportJob, found bool, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		SELECT id, import_id FROM import_jobs
		WHERE status = 'queued'
		ORDER BY queued_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&job.ID, &job.ImportID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE import_jobs SET status='running', started_at=now(), attempts=attempts+1 WHERE id=$1
	`, job.ID); err != nil {
		return job, false, err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE imports SET status='running', started_at=COALESCE(started_at, now()) WHERE id=$1
	`, job.ImportID); err != nil {
		return job, false, err
	}
	return job, true, nil
}

// StartJobForImport marks the job for a specific import as running and
// returns the job id. Used by the blocking import path.
func (db *DB) StartJobForImport(ctx context.Context, importID string) (jobID string, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		SELECT id FROM import_jobs
		WHERE import_id = $1 AND status = 'queued'
		FOR UPDATE SKIP LOCKED
	`, importID).Scan(&jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = domain.ErrNotFound
		return "", err
	}
	if err != nil {
		return "", err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE import_jobs SET status='running', started_at=now(), attempts=attempts+1 WHERE id=$1
	`, jobID); err != nil {
		return "", err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE imports SET status='running', started_at=COALESCE(started_at, now()) WHERE id=$1
	`, importID); err != nil {
		return "", err
	}
	return jobID, nil
}

func (db *DB) MarkCompleted(ctx context.Context, jobID string) error {
	return db.finishJob(ctx, jobID, domain.ImportCompleted, "")
}

func (db *DB) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return db.finishJob(ctx, jobID, domain.ImportFailed, reason)
}

func (db *DB) finishJob(ctx context.Context, jobID, status, reason string) (err error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	var importID string
	if err = tx.QueryRow(ctx, `SELECT import_id FROM import_jobs WHERE id=$1`, jobID).Scan(&importID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrNotFound
		}
		return err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE import_jobs SET status=$2, finished_at=now() WHERE id=$1
	`, jobID, status); err != nil {
		return err
	}
	progress := `progress`
	if status == domain.ImportCompleted {
		progress = `1`
	}
	if _, err = tx.Exec(ctx, `
		UPDATE imports SET status=$2, error=$3, progress=`+progress+`, finished_at=now() WHERE id=$1
	`, importID, status, reason); err != nil {
		return err
	}
	return nil
}
