package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nemadiversity/pipeline/internal/clients/gcp"
	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

// Runner starts provider executions and reads their status.
type Runner interface {
	// Start declares the job and starts one execution. runIfExists permits
	// reusing a job declaration that already exists.
	Start(ctx context.Context, spec gcp.JobSpec, runIfExists bool) (opName, execName string, err error)
	Status(ctx context.Context, operationName string) (gcp.ExecutionStatus, error)
	Cancel(ctx context.Context, operationName string) error
	Backend() string
}

const (
	BackendCloudRun     = "cloud_run"
	BackendLifesciences = "lifesciences"
)

// Transient transport failures (dropped connections during the TLS
// handshake) get a flat 20s pause and at most three attempts end to end.
const (
	transportRetryInterval = 20 * time.Second
	transportRetryMax      = 2 // retries after the first attempt
)

// A job declared moments ago can reject its first run request; those get
// base-2 exponential backoff starting at one second. Eight attempts wait
// 1+2+...+64 = 127s in total, enough to outlast declare-to-run propagation.
const (
	runRetryMax          = 7 // retries after the first attempt
	runRetryInitialDelay = time.Second
)

func newRunBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = runRetryInitialDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0
	return b
}

type cloudRunRunner struct {
	log *logger.Logger
	svc gcp.CloudRunService
}

func NewCloudRunRunner(log *logger.Logger, svc gcp.CloudRunService) Runner {
	return &cloudRunRunner{log: log.With("runner", BackendCloudRun), svc: svc}
}

func (cr *cloudRunRunner) Backend() string { return BackendCloudRun }

func (cr *cloudRunRunner) Start(ctx context.Context, spec gcp.JobSpec, runIfExists bool) (string, string, error) {
	var opName, execName string

	attempt := func() error {
		if err := cr.svc.CreateOrUpdateJob(ctx, spec); err != nil {
			if gcp.IsAlreadyExists(err) {
				if !runIfExists {
					return backoff.Permanent(fmt.Errorf("job %q already exists: %w", spec.Name, err))
				}
				cr.log.Warn("job already declared, running existing declaration", "job", spec.Name)
			} else if isTransportError(err) {
				cr.log.Warn("transient error declaring job, will retry", "job", spec.Name, "error", err)
				return err
			} else {
				return backoff.Permanent(err)
			}
		}

		op, exec, err := cr.runWithBackoff(ctx, spec.Name)
		if err != nil {
			return backoff.Permanent(err)
		}
		opName, execName = op, exec
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(transportRetryInterval), transportRetryMax),
		ctx,
	)
	if err := backoff.Retry(attempt, policy); err != nil {
		return "", "", err
	}
	return opName, execName, nil
}

// runWithBackoff retries the run request while the freshly declared job is
// still propagating; the provider answers InvalidArgument until it settles.
func (cr *cloudRunRunner) runWithBackoff(ctx context.Context, jobName string) (string, string, error) {
	var opName, execName string

	run := func() error {
		op, exec, err := cr.svc.RunJob(ctx, jobName)
		if err != nil {
			if gcp.IsInvalidArgument(err) {
				cr.log.Warn("job not ready to run yet, backing off", "job", jobName, "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		opName, execName = op, exec
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newRunBackOff(), runRetryMax),
		ctx,
	)
	if err := backoff.Retry(run, policy); err != nil {
		return "", "", fmt.Errorf("failed to start execution of %q: %w", jobName, err)
	}
	return opName, execName, nil
}

func (cr *cloudRunRunner) Status(ctx context.Context, operationName string) (gcp.ExecutionStatus, error) {
	return cr.svc.GetExecutionStatus(ctx, operationName)
}

func (cr *cloudRunRunner) Cancel(ctx context.Context, operationName string) error {
	return cr.svc.CancelExecution(ctx, operationName)
}

func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "broken pipe")
}

// lifesciencesRunner answers status for operations started under the
// retired backend. It cannot start anything new.
type lifesciencesRunner struct {
	log *logger.Logger
	svc gcp.LifesciencesService
}

func NewLifesciencesRunner(log *logger.Logger, svc gcp.LifesciencesService) Runner {
	return &lifesciencesRunner{log: log.With("runner", BackendLifesciences), svc: svc}
}

func (lr *lifesciencesRunner) Backend() string { return BackendLifesciences }

func (lr *lifesciencesRunner) Start(ctx context.Context, spec gcp.JobSpec, runIfExists bool) (string, string, error) {
	return "", "", fmt.Errorf("the lifesciences backend is read only")
}

func (lr *lifesciencesRunner) Status(ctx context.Context, operationName string) (gcp.ExecutionStatus, error) {
	return lr.svc.GetOperationStatus(ctx, operationName)
}

func (lr *lifesciencesRunner) Cancel(ctx context.Context, operationName string) error {
	return fmt.Errorf("the lifesciences backend is read only")
}

// RunnerForOperation picks the backend an operation name belongs to.
// Cloud Run names route through /jobs/<job>/executions/, Life Sciences
// names through /operations/.
func RunnerForOperation(operationName string, cloudRun, lifesciences Runner) Runner {
	if strings.Contains(operationName, "/operations/") {
		return lifesciences
	}
	return cloudRun
}
