package pipeline

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nemadiversity/pipeline/internal/clients/gcp"
	"github.com/nemadiversity/pipeline/internal/entity"
	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

// In-memory stand-ins for the GCP gateways, shared by the pipeline and
// listener tests.

type fakeDocs struct {
	mu   sync.Mutex
	data map[string]map[string]entity.Props
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{data: map[string]map[string]entity.Props{}}
}

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
			if filter.Op != "=" {
				return nil, fmt.Errorf("fake store only supports =, got %q", filter.Op)
			}
			if props[filter.Field] != filter.Value {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		doc := gcp.Document{Kind: kind, Name: name}
		if !q.KeysOnly {
			doc.Props = entity.Props{}
			for k, v := range props {
				doc.Props[k] = v
			}
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func blobKey(bucket, key string) string { return bucket + "/" + key }

func (f *fakeBlobs) UploadBytes(ctx context.Context, bucket, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[blobKey(bucket, key)] = append([]byte{}, data...)
	return nil
}

func (f *fakeBlobs) UploadFile(ctx context.Context, bucket, key string, file io.Reader) error {
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	return f.UploadBytes(ctx, bucket, key, data)
}

func (f *fakeBlobs) DownloadBytes(ctx context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[blobKey(bucket, key)]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, data...), nil
}

func (f *fakeBlobs) DownloadFile(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	data, err := f.DownloadBytes(ctx, bucket, key)
	if err != nil || data == nil {
		return nil, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (f *fakeBlobs) Exists(ctx context.Context, bucket, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[blobKey(bucket, key)]
	return ok
}

func (f *fakeBlobs) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		if strings.HasPrefix(k, bucket+"/"+prefix) {
			out = append(out, strings.TrimPrefix(k, bucket+"/"))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeBlobs) DeleteFile(ctx context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, blobKey(bucket, key))
	return nil
}

func (f *fakeBlobs) SignedDownloadURL(bucket, key string, expiry time.Duration) (string, error) {
	return "https://signed.example.com/" + bucket + "/" + key, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []queuedTask
	fail     error
}

type queuedTask struct {
	Queue   string
	URL     string
	Name    string
	Payload any
}

func (f *fakeQueue) Enqueue(ctx context.Context, queue, targetURL, taskName string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.enqueued = append(f.enqueued, queuedTask{Queue: queue, URL: targetURL, Name: taskName, Payload: payload})
	return nil
}

type fakePublish struct {
	mu       sync.Mutex
	messages []publishedMessage
	fail     error
}

type publishedMessage struct {
	Topic string
	Data  []byte
	Attrs map[string]string
}

func (f *fakePublish) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.messages = append(f.messages, publishedMessage{Topic: topic, Data: data, Attrs: attrs})
	return fmt.Sprintf("msg-%d", len(f.messages)), nil
}

type fakeRunner struct {
	mu       sync.Mutex
	started  []gcp.JobSpec
	startErr error
	opName   string
	execName string
	statuses map[string]gcp.ExecutionStatus
	canceled []string
}

func (f *fakeRunner) Backend() string { return BackendCloudRun }

func (f *fakeRunner) Start(ctx context.Context, spec gcp.JobSpec, runIfExists bool) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", "", f.startErr
	}
	f.started = append(f.started, spec)
	op := f.opName
	exec := f.execName
	if exec == "" {
		exec = fmt.Sprintf("projects/123/locations/r/jobs/%s/executions/%s-abcde", spec.Name, spec.Name)
	}
	return op, exec, nil
}

func (f *fakeRunner) Status(ctx context.Context, operationName string) (gcp.ExecutionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[operationName]
	if !ok {
		return gcp.ExecutionStatus{}, nil
	}
	return st, nil
}

func (f *fakeRunner) Cancel(ctx context.Context, operationName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, operationName)
	return nil
}

func statusDone(errMsg string) gcp.ExecutionStatus {
	return gcp.ExecutionStatus{Done: true, Error: errMsg}
}

type fakeStrains struct {
	known map[string]string // strain -> species
}

func (f *fakeStrains) Known(ctx context.Context, species, strain string) (bool, error) {
	s, ok := f.known[strain]
	return ok && s == species, nil
}

type testEnv struct {
	docs    *fakeDocs
	blobs   *fakeBlobs
	queue   *fakeQueue
	publish *fakePublish
	runner  *fakeRunner
	deps    *Deps
	svc     *Service
}

func newTestEnv() *testEnv {
	log := logger.NewNop()
	docs := newFakeDocs()
	blobs := newFakeBlobs()
	queue := &fakeQueue{}
	publish := &fakePublish{}
	runner := &fakeRunner{statuses: map[string]gcp.ExecutionStatus{}}

	containers := entity.NewContainerRegistry("us-docker.pkg.dev/nemadiversity/tools")
	containers.Register(KindIndelPrimer, "indel-primer", "v1.0.0")
	containers.Register(KindHeritability, "heritability", "v2.1.0")
	containers.Register(KindNemascanMapping, "nemascan", "v3.0.1")
	containers.Register(KindDatabaseOperation, "db-operations", "v1.4.2")
	containers.Register(KindPhenotypeReport, "phenotype", "v0.1.0")

	deps := &Deps{
		Log:     log,
		Blobs:   blobs,
		Reports: entity.NewReportStore(log, docs),
		Execs:   entity.NewExecutionStore(log, docs),
		Users:   entity.NewUserStore(log, docs),
		Strains: &fakeStrains{known: map[string]string{
			"AB1":    "c_elegans",
			"CB4856": "c_elegans",
			"N2":     "c_elegans",
			"DL238":  "c_elegans",
			"JU775":  "c_elegans",
			"MY16":   "c_elegans",
		}},
		Queue:        queue,
		Publish:      publish,
		CloudRun:     runner,
		Lifesciences: runner,
		Layout: entity.Layout{
			PrivateBucket: "site-private",
			WorkBucket:    "pipeline-work",
			DataBucket:    "dataset-release",
		},
		Species:    entity.NewSpeciesRegistry(),
		Containers: containers,
		Config: Config{
			ProjectID:          "nemadiversity",
			ProjectNumber:      "123456789",
			Region:             "us-central1",
			Zone:               "us-central1-a",
			ServiceAccountName: "pipeline-tasks",
			PubSubTopic:        "pipeline-status",
			TaskHandlerBaseURL: "https://pipeline.example.com",
		},
	}
	return &testEnv{
		docs:    docs,
		blobs:   blobs,
		queue:   queue,
		publish: publish,
		runner:  runner,
		deps:    deps,
		svc:     NewService(deps),
	}
}

const heritabilityTestData = "AssayNumber\tStrain\tTraitName\tReplicate\tValue\n" +
	"1\tAB1\tlength\t1\t11.5\n" +
	"1\tCB4856\tlength\t1\t9.25\n" +
	"1\tN2\tlength\t1\t10.0\n" +
	"1\tDL238\tlength\t1\t12.75\n" +
	"1\tJU775\tlength\t1\t8.5\n"

func heritabilitySubmission() *Submission {
	return &Submission{
		Kind:   KindHeritability,
		Owner:  "jdoe",
		Email:  "jdoe@example.com",
		Data:   []byte(heritabilityTestData),
		Fields: entity.Props{"species": "c_elegans"},
	}
}

func indelSubmission() *Submission {
	return &Submission{
		Kind:  KindIndelPrimer,
		Owner: "jdoe",
		Email: "jdoe@example.com",
		Data:  []byte(`{"species":"c_elegans","site":"II:100-200","strain_1":"AB1","strain_2":"CB4856"}`),
	}
}
