package gcp

import (
	"context"
	"fmt"
	"time"

	run "cloud.google.com/go/run/apiv2"
	"cloud.google.com/go/run/apiv2/runpb"
	"google.golang.org/genproto/googleapis/api"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

// JobSpec is everything needed to declare a Cloud Run job for one pipeline
// container.
type JobSpec struct {
	Name           string
	Image          string
	Command        []string
	Args           []string
	Env            map[string]string
	TimeoutSeconds int64
	TaskCount      int32
	MaxRetries     int32
	CPU            string
	Memory         string
	ServiceAccount string
}

// ExecutionStatus is the condensed view of a provider-side execution.
type ExecutionStatus struct {
	Done  bool
	Error string
}

type CloudRunService interface {
	// CreateOrUpdateJob declares the job, overwriting a previous declaration
	// with the same name.
	CreateOrUpdateJob(ctx context.Context, spec JobSpec) error
	// RunJob starts an execution of a declared job and returns the long
	// running operation name and the execution name.
	RunJob(ctx context.Context, jobName string) (opName, execName string, err error)
	GetExecutionStatus(ctx context.Context, execName string) (ExecutionStatus, error)
	// CancelExecution is best effort; a finished execution cannot be
	// cancelled and that is not an error.
	CancelExecution(ctx context.Context, execName string) error
}

type cloudRunService struct {
	log        *logger.Logger
	jobs       *run.JobsClient
	executions *run.ExecutionsClient
	projectID  string
	region     string
}

func NewCloudRunService(log *logger.Logger, projectID, region string) (CloudRunService, error) {
	serviceLog := log.With("service", "CloudRunService")

	ctx := context.Background()
	opts := ClientOptionsFromEnv()
	jobs, err := run.NewJobsClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud run jobs client: %w", err)
	}
	executions, err := run.NewExecutionsClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud run executions client: %w", err)
	}

	return &cloudRunService{
		log:        serviceLog,
		jobs:       jobs,
		executions: executions,
		projectID:  projectID,
		region:     region,
	}, nil
}

func (cs *cloudRunService) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", cs.projectID, cs.region)
}

func (cs *cloudRunService) jobPath(jobName string) string {
	return cs.parent() + "/jobs/" + jobName
}

func (cs *cloudRunService) buildJob(spec JobSpec) *runpb.Job {
	env := make([]*runpb.EnvVar, 0, len(spec.Env))
	for name, value := range spec.Env {
		env = append(env, &runpb.EnvVar{
			Name:   name,
			Values: &runpb.EnvVar_Value{Value: value},
		})
	}

	taskCount := spec.TaskCount
	if taskCount == 0 {
		taskCount = 1
	}

	return &runpb.Job{
		Name:        cs.jobPath(spec.Name),
		LaunchStage: api.LaunchStage_BETA,
		Template: &runpb.ExecutionTemplate{
			TaskCount: taskCount,
			Template: &runpb.TaskTemplate{
				Retries: &runpb.TaskTemplate_MaxRetries{MaxRetries: spec.MaxRetries},
				Timeout: durationpb.New(time.Duration(spec.TimeoutSeconds) * time.Second),
				Containers: []*runpb.Container{{
					Name:    spec.Name,
					Image:   spec.Image,
					Command: spec.Command,
					Args:    spec.Args,
					Env:     env,
					Resources: &runpb.ResourceRequirements{
						Limits: map[string]string{
							"cpu":    spec.CPU,
							"memory": spec.Memory,
						},
						StartupCpuBoost: false,
					},
				}},
				ServiceAccount: spec.ServiceAccount,
			},
		},
	}
}

func (cs *cloudRunService) CreateOrUpdateJob(ctx context.Context, spec JobSpec) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	job := cs.buildJob(spec)

	op, err := cs.jobs.UpdateJob(ctx, &runpb.UpdateJobRequest{
		Job:          job,
		AllowMissing: true,
	})
	if err != nil {
		// Some launch stages reject allowMissing; fall back to an explicit
		// create when the job was never declared.
		if !IsNotFound(err) {
			return fmt.Errorf("failed to update job %q: %w", spec.Name, err)
		}
		createOp, createErr := cs.jobs.CreateJob(ctx, &runpb.CreateJobRequest{
			Parent: cs.parent(),
			Job:    job,
			JobId:  spec.Name,
		})
		if createErr != nil {
			return fmt.Errorf("failed to create job %q: %w", spec.Name, createErr)
		}
		if _, err := createOp.Wait(ctx); err != nil {
			return fmt.Errorf("failed waiting for job %q create: %w", spec.Name, err)
		}
		return nil
	}
	if _, err := op.Wait(ctx); err != nil {
		return fmt.Errorf("failed waiting for job %q update: %w", spec.Name, err)
	}
	return nil
}

func (cs *cloudRunService) RunJob(ctx context.Context, jobName string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	op, err := cs.jobs.RunJob(ctx, &runpb.RunJobRequest{Name: cs.jobPath(jobName)})
	if err != nil {
		return "", "", fmt.Errorf("failed to run job %q: %w", jobName, err)
	}

	execName := ""
	if meta, err := op.Metadata(); err == nil && meta != nil {
		execName = meta.GetName()
	}
	cs.log.Info("started cloud run execution", "job", jobName, "execution", execName)
	return op.Name(), execName, nil
}

func (cs *cloudRunService) GetExecutionStatus(ctx context.Context, execName string) (ExecutionStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	exec, err := cs.executions.GetExecution(ctx, &runpb.GetExecutionRequest{Name: execName})
	if err != nil {
		return ExecutionStatus{}, fmt.Errorf("failed to get execution %q: %w", execName, err)
	}
	return statusFromConditions(exec.GetConditions()), nil
}

// statusFromConditions reduces a condition list to done/error. An execution
// is done when the Completed condition has succeeded; any failed condition
// carries the error message.
func statusFromConditions(conditions []*runpb.Condition) ExecutionStatus {
	st := ExecutionStatus{}
	for _, c := range conditions {
		if c.GetState() == runpb.Condition_CONDITION_FAILED {
			st.Done = true
			st.Error = c.GetMessage()
		}
		if c.GetType() == "Completed" && c.GetState() == runpb.Condition_CONDITION_SUCCEEDED {
			st.Done = true
		}
	}
	return st
}

func (cs *cloudRunService) CancelExecution(ctx context.Context, execName string) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if _, err := cs.executions.CancelExecution(ctx, &runpb.CancelExecutionRequest{Name: execName}); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to cancel execution %q: %w", execName, err)
	}
	return nil
}

// gRPC status helpers shared by callers that map provider errors to retry
// decisions.

func IsNotFound(err error) bool        { return statusCode(err) == codes.NotFound }
func IsAlreadyExists(err error) bool   { return statusCode(err) == codes.AlreadyExists }
func IsInvalidArgument(err error) bool { return statusCode(err) == codes.InvalidArgument }

func statusCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	return codes.Unknown
}
