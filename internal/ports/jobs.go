package ports

import (
	"context"

	"varfreq/internal/domain"
)

type ImportJob struct {
	ID       string
	ImportID string
}

// ImportStore persists import batches and their externally visible status.
type ImportStore interface {
	CreateImport(ctx context.Context, batch domain.ImportBatch, rejected []domain.RejectedRecord) (importID string, err error)
	GetBatch(ctx context.Context, importID string) (domain.ImportBatch, error)
	ImportStatus(ctx context.Context, importID string) (domain.ImportStatus, error)
	UpdateImportProgress(ctx context.Context, importID string, progress float64) error
}

// ImportJobQueue supports claiming and updating import jobs.
type ImportJobQueue interface {
	ClaimNext(ctx context.Context) (job ImportJob, found bool, err error)
	StartJobForImport(ctx context.Context, importID string) (jobID string, err error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
}
