package restore

import (
	"time"

	"github.com/grafton-io/grafton/internal/types"
)

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeUpdated
	outcomeSkipped
	outcomeFailed
)

// event is one per-record restore outcome. A record's event may be
// downgraded to outcomeFailed by a later pass (many-to-many or
// self-link resolution), so events are mutable until the report is
// built.
type event struct {
	typeName string
	key      string
	outcome  outcome
	reason   types.FailureReason
	detail   string
}

// buildReport aggregates per-record events into the final report.
// Pure aggregation, no I/O.
func buildReport(operationID string, mode types.Mode, dryRun bool, events []event, warnings []string, started, finished time.Time) *types.RestoreReport {
	report := &types.RestoreReport{
		OperationID:  operationID,
		Mode:         mode,
		DryRun:       dryRun,
		TotalRecords: len(events),
		PerType:      make(map[string]types.TypeCount),
		Warnings:     warnings,
		StartedAt:    started,
		FinishedAt:   finished,
	}
	for _, ev := range events {
		tc := report.PerType[ev.typeName]
		tc.Attempted++
		switch ev.outcome {
		case outcomeCreated:
			report.Created++
			tc.Succeeded++
		case outcomeUpdated:
			report.Updated++
			tc.Succeeded++
		case outcomeSkipped:
			report.Skipped++
			tc.Succeeded++
		case outcomeFailed:
			report.Failed = append(report.Failed, types.FailedRecord{
				Type:   ev.typeName,
				Key:    ev.key,
				Reason: ev.reason,
				Detail: ev.detail,
			})
		}
		report.PerType[ev.typeName] = tc
	}
	return report
}
