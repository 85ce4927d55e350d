// Package listener turns provider status notifications into report updates.
//
// Notifications arrive over a push subscription and are redelivered until
// acknowledged, so handling is idempotent: re-processing a terminal
// notification must not flip statuses back or re-send email.
package listener

import (
	"context"

	"github.com/nemadiversity/pipeline/internal/entity"
	"github.com/nemadiversity/pipeline/internal/notify"
	"github.com/nemadiversity/pipeline/internal/pipeline"
	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

// Outcome tells the transport what to answer the push delivery.
type Outcome int

const (
	// Ack: done with this message, do not redeliver.
	Ack Outcome = iota
	// Nack: not terminal yet or transiently failed, redeliver later.
	Nack
)

type Listener struct {
	log          *logger.Logger
	reports      entity.ReportStore
	execs        entity.ExecutionStore
	cloudRun     pipeline.Runner
	lifesciences pipeline.Runner
	notifier     notify.Notifier
}

func New(
	log *logger.Logger,
	reports entity.ReportStore,
	execs entity.ExecutionStore,
	cloudRun, lifesciences pipeline.Runner,
	notifier notify.Notifier,
) *Listener {
	return &Listener{
		log:          log.With("service", "StatusListener"),
		reports:      reports,
		execs:        execs,
		cloudRun:     cloudRun,
		lifesciences: lifesciences,
		notifier:     notifier,
	}
}

// Handle processes one notification for the given operation name.
func (l *Listener) Handle(ctx context.Context, operationName string) (Outcome, error) {
	execID, err := pipeline.ParseOperationName(operationName)
	if err != nil {
		l.log.Warn("dropping malformed operation name", "operation", operationName, "error", err)
		return Ack, nil
	}

	jobName := l.jobNameFor(ctx, execID)
	kind, dataID, err := pipeline.SplitJobName(jobName)
	if err != nil {
		// A job this service never declared; drop rather than loop forever.
		l.log.Warn("dropping notification for unknown job", "job", jobName, "operation", operationName)
		return Ack, nil
	}

	runner := pipeline.RunnerForOperation(operationName, l.cloudRun, l.lifesciences)
	st, err := runner.Status(ctx, operationName)
	if err != nil {
		l.log.Error("failed to read execution status", "operation", operationName, "error", err)
		return Nack, err
	}
	if !st.Done {
		return Nack, nil
	}

	l.updateExecutionRecord(ctx, execID, jobName, operationName, runner.Backend(), kind, dataID, st.Error)

	newStatus := entity.StatusComplete
	if st.Error != "" {
		newStatus = entity.StatusError
	}
	if err := l.updateReports(ctx, kind, dataID, operationName, newStatus, st.Error); err != nil {
		return Nack, err
	}
	return Ack, nil
}

// jobNameFor prefers the audit record's job name; executions recorded before
// the audit trail existed fall back to parsing the execution ID.
func (l *Listener) jobNameFor(ctx context.Context, execID string) string {
	if record, err := l.execs.Get(ctx, execID); err == nil && record.JobName != "" {
		return record.JobName
	}
	return pipeline.JobNameFromExecutionID(execID)
}

func (l *Listener) updateExecutionRecord(ctx context.Context, execID, jobName, operationName, backend, kind, dataID, errMsg string) {
	record, err := l.execs.Get(ctx, execID)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			l.log.Error("failed to load execution record", "execution", execID, "error", err)
			return
		}
		record = &entity.ExecutionRecord{
			ID:            execID,
			JobName:       jobName,
			OperationName: operationName,
			Backend:       backend,
			ReportKind:    kind,
			DataID:        dataID,
		}
	}
	record.Done = true
	record.Error = errMsg
	if err := l.execs.Save(ctx, record); err != nil {
		l.log.Error("failed to save execution record", "execution", execID, "error", err)
	}
}

// updateReports moves every report sharing the finished job's data to the
// terminal status. COMPLETE never downgrades to ERROR, and email goes out
// only when a report actually transitions.
func (l *Listener) updateReports(ctx context.Context, kind, dataID, operationName string, newStatus entity.JobStatus, errMsg string) error {
	reports, err := l.reports.FindByDataID(ctx, kind, dataID)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		l.log.Warn("no reports for finished job", "kind", kind, "data_id", dataID)
		return nil
	}

	for _, r := range reports {
		if r.Status == newStatus {
			continue
		}
		if r.Status == entity.StatusComplete {
			l.log.Warn("ignoring status downgrade",
				"kind", kind, "id", r.ID, "have", r.Status, "incoming", newStatus)
			continue
		}

		r.Status = newStatus
		if errMsg != "" {
			r.ErrorMessage = errMsg
		}
		if r.OperationName == "" {
			r.OperationName = operationName
		}
		if err := l.reports.Save(ctx, r); err != nil {
			return err
		}
		l.log.Info("report finished", "kind", kind, "id", r.ID, "status", newStatus)

		if l.notifier != nil {
			if err := l.notifier.JobFinished(ctx, r); err != nil {
				l.log.Error("failed to notify report owner", "kind", kind, "id", r.ID, "error", err)
			}
		}
	}
	return nil
}
