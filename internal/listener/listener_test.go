package listener

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nemadiversity/pipeline/internal/clients/gcp"
	"github.com/nemadiversity/pipeline/internal/entity"
	"github.com/nemadiversity/pipeline/internal/pipeline"
	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

type fakeDocs struct {
	mu   sync.Mutex
	data map[string]map[string]entity.Props
}

func newFakeDocs() *fakeDocs { return &fakeDocs{data: map[string]map[string]entity.Props{}} }

func (f *fakeDocs) Get(ctx context.Context, kind, name string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	props, ok := f.data[kind][name]
	if !ok {
		return nil, &apperrors.NotFoundError{Kind: kind, Name: name}
	}
	out := entity.Props{}
	for k, v := range props {
		out[k] = v
	}
	return out, nil
}

func (f *fakeDocs) Put(ctx context.Context, kind, name string, props map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[kind] == nil {
		f.data[kind] = map[string]entity.Props{}
	}
	merged := entity.Props{}
	for k, v := range props {
		merged[k] = v
	}
	now := time.Now().UTC()
	if prev, ok := f.data[kind][name]; ok {
		merged["created_on"] = prev["created_on"]
	} else {
		merged["created_on"] = now
	}
	merged["modified_on"] = now
	f.data[kind][name] = merged
	return nil
}

func (f *fakeDocs) Delete(ctx context.Context, kind, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data[kind], name)
	return nil
}

func (f *fakeDocs) Query(ctx context.Context, kind string, q gcp.Query) ([]gcp.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gcp.Document
	for name, props := range f.data[kind] {
		match := true
		for _, filter := range q.Filters {
			if props[filter.Field] != filter.Value {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		doc := gcp.Document{Kind: kind, Name: name, Props: entity.Props{}}
		for k, v := range props {
			doc.Props[k] = v
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type fakeRunner struct {
	mu        sync.Mutex
	statuses  map[string]gcp.ExecutionStatus
	statusErr error
}

func (f *fakeRunner) Backend() string { return pipeline.BackendCloudRun }

func (f *fakeRunner) Start(ctx context.Context, spec gcp.JobSpec, runIfExists bool) (string, string, error) {
	return "", "", fmt.Errorf("not used")
}

func (f *fakeRunner) Status(ctx context.Context, operationName string) (gcp.ExecutionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return gcp.ExecutionStatus{}, f.statusErr
	}
	return f.statuses[operationName], nil
}

func (f *fakeRunner) Cancel(ctx context.Context, operationName string) error { return nil }

type recordingNotifier struct {
	mu       sync.Mutex
	notified []string
}

func (n *recordingNotifier) JobFinished(ctx context.Context, r *entity.Report) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, r.ID+":"+string(r.Status))
	return nil
}

type listenerEnv struct {
	docs     *fakeDocs
	reports  entity.ReportStore
	execs    entity.ExecutionStore
	runner   *fakeRunner
	notifier *recordingNotifier
	listener *Listener
}

func newListenerEnv() *listenerEnv {
	log := logger.NewNop()
	docs := newFakeDocs()
	reports := entity.NewReportStore(log, docs)
	execs := entity.NewExecutionStore(log, docs)
	runner := &fakeRunner{statuses: map[string]gcp.ExecutionStatus{}}
	notifier := &recordingNotifier{}
	return &listenerEnv{
		docs:     docs,
		reports:  reports,
		execs:    execs,
		runner:   runner,
		notifier: notifier,
		listener: New(log, reports, execs, runner, runner, notifier),
	}
}

const (
	testDataID = "deadbeefdeadbeefdeadbeefdeadbeef"
	testKind   = "heritability_report"
)

func (e *listenerEnv) seedRunningReport(t *testing.T) (*entity.Report, string) {
	t.Helper()
	jobName := pipeline.JobName(testKind, testDataID)
	operation := fmt.Sprintf("projects/1/locations/r/jobs/%s/executions/%s-aaaaa", jobName, jobName)

	r := &entity.Report{
		Kind:          testKind,
		ID:            "report1",
		DataID:        testDataID,
		Status:        entity.StatusRunning,
		Owner:         "jdoe",
		OwnerEmail:    "jdoe@example.com",
		OperationName: operation,
	}
	if err := e.reports.Save(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	execID, err := pipeline.ParseOperationName(operation)
	if err != nil {
		t.Fatal(err)
	}
	record := &entity.ExecutionRecord{
		ID:            execID,
		JobName:       jobName,
		OperationName: operation,
		Backend:       pipeline.BackendCloudRun,
		ReportKind:    testKind,
		DataID:        testDataID,
		Username:      "jdoe",
	}
	if err := e.execs.Save(context.Background(), record); err != nil {
		t.Fatal(err)
	}
	return r, operation
}

func TestHandleNacksOpenExecution(t *testing.T) {
	env := newListenerEnv()
	_, operation := env.seedRunningReport(t)

	outcome, err := env.listener.Handle(context.Background(), operation)
	if err != nil || outcome != Nack {
		t.Errorf("outcome = %v, err = %v, want Nack", outcome, err)
	}
	if len(env.notifier.notified) != 0 {
		t.Error("notified before terminal status")
	}
}

func TestHandleCompletesReport(t *testing.T) {
	env := newListenerEnv()
	r, operation := env.seedRunningReport(t)
	env.runner.statuses[operation] = gcp.ExecutionStatus{Done: true}

	outcome, err := env.listener.Handle(context.Background(), operation)
	if err != nil || outcome != Ack {
		t.Fatalf("outcome = %v, err = %v, want Ack", outcome, err)
	}

	updated, err := env.reports.Get(context.Background(), testKind, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != entity.StatusComplete {
		t.Errorf("status = %s, want COMPLETE", updated.Status)
	}

	execID, _ := pipeline.ParseOperationName(operation)
	record, err := env.execs.Get(context.Background(), execID)
	if err != nil {
		t.Fatal(err)
	}
	if !record.Done {
		t.Error("execution record not marked done")
	}

	if len(env.notifier.notified) != 1 {
		t.Errorf("notified %d times, want 1", len(env.notifier.notified))
	}
}

func TestHandleIsIdempotent(t *testing.T) {
	env := newListenerEnv()
	_, operation := env.seedRunningReport(t)
	env.runner.statuses[operation] = gcp.ExecutionStatus{Done: true}

	for i := 0; i < 3; i++ {
		outcome, err := env.listener.Handle(context.Background(), operation)
		if err != nil || outcome != Ack {
			t.Fatalf("delivery %d: outcome = %v, err = %v", i+1, outcome, err)
		}
	}
	if len(env.notifier.notified) != 1 {
		t.Errorf("notified %d times across 3 deliveries, want 1", len(env.notifier.notified))
	}
}

func TestHandleErrorMarksReport(t *testing.T) {
	env := newListenerEnv()
	r, operation := env.seedRunningReport(t)
	env.runner.statuses[operation] = gcp.ExecutionStatus{Done: true, Error: "container exited with code 1"}

	outcome, err := env.listener.Handle(context.Background(), operation)
	if err != nil || outcome != Ack {
		t.Fatalf("outcome = %v, err = %v", outcome, err)
	}
	updated, _ := env.reports.Get(context.Background(), testKind, r.ID)
	if updated.Status != entity.StatusError {
		t.Errorf("status = %s, want ERROR", updated.Status)
	}
	if updated.ErrorMessage != "container exited with code 1" {
		t.Errorf("error message = %q", updated.ErrorMessage)
	}
}

func TestHandleNeverDowngradesComplete(t *testing.T) {
	env := newListenerEnv()
	r, operation := env.seedRunningReport(t)
	r.Status = entity.StatusComplete
	if err := env.reports.Save(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	env.runner.statuses[operation] = gcp.ExecutionStatus{Done: true, Error: "late failure"}

	outcome, err := env.listener.Handle(context.Background(), operation)
	if err != nil || outcome != Ack {
		t.Fatalf("outcome = %v, err = %v", outcome, err)
	}
	updated, _ := env.reports.Get(context.Background(), testKind, r.ID)
	if updated.Status != entity.StatusComplete {
		t.Errorf("status = %s, COMPLETE was downgraded", updated.Status)
	}
	if len(env.notifier.notified) != 0 {
		t.Error("notification sent for a non-transition")
	}
}

func TestHandleUpdatesAllReportsSharingData(t *testing.T) {
	env := newListenerEnv()
	_, operation := env.seedRunningReport(t)

	second := &entity.Report{
		Kind:       testKind,
		ID:         "report2",
		DataID:     testDataID,
		Status:     entity.StatusSubmitted,
		Owner:      "other",
		OwnerEmail: "other@example.com",
	}
	if err := env.reports.Save(context.Background(), second); err != nil {
		t.Fatal(err)
	}
	env.runner.statuses[operation] = gcp.ExecutionStatus{Done: true}

	if _, err := env.listener.Handle(context.Background(), operation); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"report1", "report2"} {
		r, _ := env.reports.Get(context.Background(), testKind, id)
		if r.Status != entity.StatusComplete {
			t.Errorf("%s status = %s, want COMPLETE", id, r.Status)
		}
	}
	if len(env.notifier.notified) != 2 {
		t.Errorf("notified %d owners, want 2", len(env.notifier.notified))
	}
}

func TestHandleDropsUnknownJob(t *testing.T) {
	env := newListenerEnv()

	outcome, err := env.listener.Handle(context.Background(),
		"projects/1/locations/r/jobs/mystery-job/executions/mystery-job-zzzzz")
	if err != nil || outcome != Ack {
		t.Errorf("outcome = %v, err = %v, want Ack drop", outcome, err)
	}
}

func TestHandleNacksOnStatusLookupFailure(t *testing.T) {
	env := newListenerEnv()
	_, operation := env.seedRunningReport(t)
	env.runner.statusErr = fmt.Errorf("provider unavailable")

	outcome, err := env.listener.Handle(context.Background(), operation)
	if outcome != Nack || err == nil {
		t.Errorf("outcome = %v, err = %v, want Nack with error", outcome, err)
	}
}
