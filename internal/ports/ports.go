package ports

import (
	"context"

	"varfreq/internal/domain"
)

// Frequencies answers frequency queries for authorized scopes.
type Frequencies interface {
	Frequency(ctx context.Context, locus domain.Locus, allele domain.Allele, scope domain.Scope, authorized []domain.Scope) (domain.FrequencyResult, error)
}

// Importer accepts validated batches and tracks their progress.
type Importer interface {
	Enqueue(ctx context.Context, batch domain.ImportBatch) (importID string, rejected []domain.RejectedRecord, err error)
	Status(ctx context.Context, importID string) (domain.ImportStatus, error)
	Withdraw(ctx context.Context, sampleID string) error
}
