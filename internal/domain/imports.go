package domain

import "time"

// Import statuses follow the job lifecycle: queued -> running -> completed|failed.
const (
	ImportQueued    = "queued"
	ImportRunning   = "running"
	ImportCompleted = "completed"
	ImportFailed    = "failed"
)

// ImportBatch is the unit handed over by the import pipeline once records
// are parsed and annotated. Samples may be created in the same batch the
// observations referencing them arrive in.
type ImportBatch struct {
	Samples      []Sample
	Observations []Observation
	Regions      []CoverageRegion
}

// RejectedRecord reports a single record dropped during validation. A
// rejected record never aborts the rest of the batch.
type RejectedRecord struct {
	Kind   string // sample|observation|region
	Index  int
	Reason string
}

// ImportStatus is the externally visible state of an import.
type ImportStatus struct {
	ID        string
	Status    string
	Progress  float64
	Error     string
	Rejected  []RejectedRecord
	CreatedAt time.Time
}
