package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nemadiversity/pipeline/internal/clients/gcp"
	"github.com/nemadiversity/pipeline/internal/entity"
	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

// Config carries the deployment identifiers jobs are declared under.
type Config struct {
	ProjectID          string
	ProjectNumber      string
	Region             string
	Zone               string
	ServiceAccountName string
	PubSubTopic        string
	// TaskHandlerBaseURL is the public base URL of this service; queued
	// tasks POST back to <base>/task/start/<queue>.
	TaskHandlerBaseURL string
}

func (c Config) ServiceAccountEmail() string {
	return fmt.Sprintf("%s@%s.iam.gserviceaccount.com", c.ServiceAccountName, c.ProjectID)
}

// Deps bundles the gateways every job kind draws on.
type Deps struct {
	Log          *logger.Logger
	Blobs        gcp.StorageService
	Reports      entity.ReportStore
	Execs        entity.ExecutionStore
	Users        entity.UserStore
	Strains      entity.StrainStore
	Queue        gcp.QueueService
	Publish      gcp.PublishService
	CloudRun     Runner
	Lifesciences Runner
	Layout       entity.Layout
	Species      *entity.SpeciesRegistry
	Containers   *entity.ContainerRegistry
	Config       Config
}

// Service creates and looks up pipelines across all job kinds.
type Service struct {
	d *Deps
}

func NewService(d *Deps) *Service {
	return &Service{d: d}
}

// Pipeline binds one report to its kind's behavior.
type Pipeline struct {
	d      *Deps
	desc   *Descriptor
	Report *entity.Report
}

// Create parses a submission, persists a CREATED report, and uploads its
// input files. A live prior submission of the same data by the same owner
// fails with DuplicateDataError before anything is written.
func (s *Service) Create(ctx context.Context, sub *Submission) (*Pipeline, error) {
	desc, err := Lookup(sub.Kind)
	if err != nil {
		return nil, err
	}

	container, err := s.d.Containers.Resolve(sub.Kind, sub.ContainerVersion)
	if err != nil {
		return nil, err
	}

	parsed, err := desc.Parse(ctx, s.d, sub)
	if err != nil {
		return nil, err
	}

	if !sub.NoCache {
		prior, err := s.d.Reports.FindLiveSubmission(ctx, sub.Kind, parsed.DataID, sub.Owner, container)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return nil, &apperrors.DuplicateDataError{
				Kind:     sub.Kind,
				ReportID: prior.ID,
				DataID:   parsed.DataID,
			}
		}
	}

	report := &entity.Report{
		Kind:       sub.Kind,
		ID:         newReportID(),
		DataID:     parsed.DataID,
		Status:     entity.StatusCreated,
		Owner:      sub.Owner,
		OwnerEmail: sub.Email,
		Container:  container,
		Fields:     entity.Props{},
	}
	for k, v := range sub.Fields {
		report.Fields[k] = v
	}
	for k, v := range parsed.Fields {
		report.Fields[k] = v
	}
	if report.OwnerEmail == "" {
		if user, err := s.d.Users.Get(ctx, sub.Owner); err == nil {
			report.OwnerEmail = user.Email
		}
	}
	if desc.CompletesOnCreate {
		report.Status = entity.StatusComplete
	}

	if err := s.d.Reports.Save(ctx, report); err != nil {
		return nil, err
	}
	for _, f := range parsed.Files {
		key := s.d.Layout.InputKey(report, f.Name)
		if err := s.d.Blobs.UploadBytes(ctx, s.d.Layout.PrivateBucket, key, f.Content); err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", f.Name, err)
		}
	}

	s.d.Log.Info("created report",
		"kind", report.Kind, "id", report.ID, "data_id", report.DataID, "owner", report.Owner)
	return &Pipeline{d: s.d, desc: desc, Report: report}, nil
}

// Lookup loads an existing report into a pipeline.
func (s *Service) Lookup(ctx context.Context, kind, id string) (*Pipeline, error) {
	desc, err := Lookup(kind)
	if err != nil {
		return nil, err
	}
	report, err := s.d.Reports.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return &Pipeline{d: s.d, desc: desc, Report: report}, nil
}

func newReportID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ScheduleOptions relax the schedule guards: Force permits re-scheduling a
// report that already left CREATED, NoCache skips the finished-output probe.
type ScheduleOptions struct {
	Force   bool
	NoCache bool
}

// Schedule enqueues the report's task. When results for its cache identity
// already exist the report completes immediately and CachedDataError is
// returned instead.
func (p *Pipeline) Schedule(ctx context.Context, opts ScheduleOptions) error {
	r := p.Report

	if !p.desc.Schedulable() {
		return &apperrors.UnschedulableJobTypeError{Kind: r.Kind}
	}
	if !opts.Force && r.Status != entity.StatusCreated {
		return &apperrors.JobAlreadyScheduledError{ReportID: r.ID, Status: string(r.Status)}
	}

	if !opts.NoCache && p.desc.OutputFile != "" {
		key := p.d.Layout.OutputKey(r, p.desc.OutputFile)
		if p.d.Blobs.Exists(ctx, p.d.Layout.PrivateBucket, key) {
			r.Status = entity.StatusComplete
			if err := p.d.Reports.Save(ctx, r); err != nil {
				return err
			}
			p.d.Log.Info("results already cached, skipping schedule",
				"kind", r.Kind, "id", r.ID, "data_id", r.DataID)
			return &apperrors.CachedDataError{Kind: r.Kind, ReportID: r.ID, DataID: r.DataID}
		}
	}

	task, err := TaskFromReport(r)
	if err != nil {
		return err
	}
	target := strings.TrimRight(p.d.Config.TaskHandlerBaseURL, "/") + "/task/start/" + p.desc.Queue

	if err := p.d.Queue.Enqueue(ctx, p.desc.Queue, target, r.ID, task); err != nil {
		r.Status = entity.StatusError
		r.ErrorMessage = err.Error()
		if saveErr := p.d.Reports.Save(ctx, r); saveErr != nil {
			p.d.Log.Error("failed to record schedule failure", "id", r.ID, "error", saveErr)
		}
		return &apperrors.PipelineRunError{ReportID: r.ID, Err: err}
	}

	r.Status = entity.StatusSubmitted
	return p.d.Reports.Save(ctx, r)
}

// Run declares the provider job and starts an execution. On success the
// report moves to RUNNING with its operation recorded; on failure it moves
// to ERROR and a terminal execution record is written so the audit trail
// still shows the attempt.
func (p *Pipeline) Run(ctx context.Context, runIfExists bool) error {
	r := p.Report
	jobName := JobName(r.Kind, r.DataID)

	if open, err := p.d.Execs.FindByJobName(ctx, jobName); err == nil {
		for _, e := range open {
			if !e.Done {
				p.d.Log.Warn("job already has an open execution",
					"job", jobName, "execution", e.ID)
			}
		}
	}

	env, err := p.desc.Environment(p.d, r)
	if err != nil {
		return p.failRun(ctx, jobName, nil, err)
	}
	params := p.desc.RunParams(r)
	spec := gcp.JobSpec{
		Name:           jobName,
		Image:          r.Container.URI(),
		Command:        p.desc.Command(r),
		Env:            env,
		TimeoutSeconds: params.TimeoutSeconds,
		TaskCount:      params.TaskCount,
		MaxRetries:     params.MaxRetries,
		CPU:            params.CPU,
		Memory:         params.Memory,
		ServiceAccount: p.d.Config.ServiceAccountEmail(),
	}

	opName, execName, err := p.d.CloudRun.Start(ctx, spec, runIfExists)
	if err != nil {
		return p.failRun(ctx, jobName, env, err)
	}

	operationName := execName
	if operationName == "" {
		operationName = opName
	}
	execID, err := ParseOperationName(operationName)
	if err != nil {
		execID = jobName + "-" + shortID()
	}

	record := &entity.ExecutionRecord{
		ID:            execID,
		JobName:       jobName,
		OperationName: operationName,
		Backend:       BackendCloudRun,
		ReportKind:    r.Kind,
		DataID:        r.DataID,
		Username:      r.Owner,
		Environment:   env,
	}
	if err := p.d.Execs.Save(ctx, record); err != nil {
		p.d.Log.Error("failed to save execution record", "execution", execID, "error", err)
	}

	r.Status = entity.StatusRunning
	r.OperationName = operationName
	if err := p.d.Reports.Save(ctx, r); err != nil {
		return err
	}

	p.publishStarted(ctx, record)
	return nil
}

func (p *Pipeline) failRun(ctx context.Context, jobName string, env map[string]string, cause error) error {
	r := p.Report

	record := &entity.ExecutionRecord{
		ID:          jobName + "-" + shortID(),
		JobName:     jobName,
		Backend:     BackendCloudRun,
		ReportKind:  r.Kind,
		DataID:      r.DataID,
		Username:    r.Owner,
		Done:        true,
		Error:       cause.Error(),
		Environment: env,
	}
	if err := p.d.Execs.Save(ctx, record); err != nil {
		p.d.Log.Error("failed to save failed execution record", "job", jobName, "error", err)
	}

	r.Status = entity.StatusError
	r.ErrorMessage = cause.Error()
	if err := p.d.Reports.Save(ctx, r); err != nil {
		p.d.Log.Error("failed to record run failure", "id", r.ID, "error", err)
	}
	return &apperrors.PipelineRunError{ReportID: r.ID, Err: cause}
}

// publishStarted announces the new execution so the status listener can
// track it. Publish failures are logged and swallowed; the execution is
// already running and polling will still converge.
func (p *Pipeline) publishStarted(ctx context.Context, record *entity.ExecutionRecord) {
	if p.d.Config.PubSubTopic == "" {
		return
	}
	data, err := json.Marshal(map[string]string{
		"operation": record.OperationName,
		"kind":      record.ReportKind,
		"data_hash": record.DataID,
	})
	if err != nil {
		p.d.Log.Error("failed to encode status message", "error", err)
		return
	}
	attrs := map[string]string{"operation": record.OperationName}
	if _, err := p.d.Publish.Publish(ctx, p.d.Config.PubSubTopic, data, attrs); err != nil {
		p.d.Log.Warn("failed to publish execution start", "operation", record.OperationName, "error", err)
	}
}

// IsFinished reports whether the job has reached a terminal state. With an
// open stored status it first probes for the output blob, which may land
// before any status notification arrives, and completes the report when it
// is there; otherwise it asks the provider.
func (p *Pipeline) IsFinished(ctx context.Context) (bool, error) {
	r := p.Report
	if r.Status.Finished() {
		return true, nil
	}
	if p.desc.OutputFile != "" {
		key := p.d.Layout.OutputKey(r, p.desc.OutputFile)
		if p.d.Blobs.Exists(ctx, p.d.Layout.PrivateBucket, key) {
			r.Status = entity.StatusComplete
			if err := p.d.Reports.Save(ctx, r); err != nil {
				return true, err
			}
			return true, nil
		}
	}
	if r.OperationName == "" {
		return false, nil
	}
	runner := RunnerForOperation(r.OperationName, p.d.CloudRun, p.d.Lifesciences)
	st, err := runner.Status(ctx, r.OperationName)
	if err != nil {
		return false, err
	}
	return st.Done, nil
}

// FetchInput returns the stored input file, nil when the kind takes none.
func (p *Pipeline) FetchInput(ctx context.Context) ([]byte, error) {
	if p.desc.InputFile == "" {
		return nil, nil
	}
	key := p.d.Layout.InputKey(p.Report, p.desc.InputFile)
	data, err := p.d.Blobs.DownloadBytes(ctx, p.d.Layout.PrivateBucket, key)
	if err != nil {
		return nil, err
	}
	if data != nil && len(data) == 0 {
		return nil, &apperrors.EmptyReportDataError{ReportID: p.Report.ID}
	}
	return data, nil
}

// FetchOutput returns the kind-specific view of the results.
func (p *Pipeline) FetchOutput(ctx context.Context) (any, error) {
	if p.desc.FetchOutput == nil {
		return nil, nil
	}
	return p.desc.FetchOutput(ctx, p.d, p.Report)
}

// Cancel asks the provider to stop the report's execution, best effort.
func (p *Pipeline) Cancel(ctx context.Context) error {
	r := p.Report
	if r.OperationName == "" || r.Status.Finished() {
		return nil
	}
	runner := RunnerForOperation(r.OperationName, p.d.CloudRun, p.d.Lifesciences)
	return runner.Cancel(ctx, r.OperationName)
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}
