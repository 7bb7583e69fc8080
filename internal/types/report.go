package types

import "time"

// FailureReason classifies why a single record could not be restored.
type FailureReason string

const (
	ReasonUnresolvedReference FailureReason = "unresolved_reference"
	ReasonValidation          FailureReason = "validation"
)

// FailedRecord describes one record that was skipped during restore.
type FailedRecord struct {
	Type   string        `json:"type"`
	Key    string        `json:"key"` // natural key, or "id=N" / "#index" when absent
	Reason FailureReason `json:"reason"`
	Detail string        `json:"detail,omitempty"`
}

// TypeCount tallies per-type restore outcomes.
type TypeCount struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
}

// RestoreReport is the aggregate result of a restore operation.
// Always produced on non-structural runs, even when every record
// failed; immutable once returned.
type RestoreReport struct {
	OperationID  string               `json:"operation_id"`
	Mode         Mode                 `json:"mode"`
	DryRun       bool                 `json:"dry_run,omitempty"`
	TotalRecords int                  `json:"total_records"`
	Created      int                  `json:"created"`
	Updated      int                  `json:"updated"`
	Skipped      int                  `json:"skipped"`
	Failed       []FailedRecord       `json:"failed,omitempty"`
	PerType      map[string]TypeCount `json:"per_type"`
	Warnings     []string             `json:"warnings,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   time.Time            `json:"finished_at"`
}

// Succeeded is the number of records that were created, updated, or
// found already up to date.
func (r *RestoreReport) Succeeded() int {
	return r.Created + r.Updated + r.Skipped
}

// Clean reports whether every record restored without failure.
func (r *RestoreReport) Clean() bool {
	return len(r.Failed) == 0
}
