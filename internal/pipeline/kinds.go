package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/nemadiversity/pipeline/internal/entity"
)

// Job kind names double as document store kinds for their reports.
const (
	KindIndelPrimer       = "indel_primer"
	KindHeritability      = "heritability_report"
	KindNemascanMapping   = "nemascan_mapping"
	KindDatabaseOperation = "database_operation"
	KindPhenotypeReport   = "phenotype_report"
)

// Submission is one user request to create a job.
type Submission struct {
	Kind  string
	Owner string
	Email string
	// Data is the raw uploaded payload; some kinds take none.
	Data []byte
	// Fields are client-supplied extras (species, label, operation args).
	Fields entity.Props
	// ContainerVersion pins an image tag other than the configured default.
	ContainerVersion string
	NoCache          bool
}

// ParseResult is what a kind extracts from a submission: the content hash
// that keys caching, the properties to store on the report, and the files to
// upload next to it.
type ParseResult struct {
	DataID string
	Fields entity.Props
	Files  []InputFile
}

type InputFile struct {
	Name    string
	Content []byte
}

// RunParams sizes the provider execution for a job.
type RunParams struct {
	TimeoutSeconds int64
	CPU            string
	Memory         string
	TaskCount      int32
	MaxRetries     int32
}

// DefaultRunParams matches the smallest job class.
func DefaultRunParams() RunParams {
	return RunParams{
		TimeoutSeconds: 600,
		CPU:            "1",
		Memory:         "512Mi",
		TaskCount:      1,
		MaxRetries:     1,
	}
}

// Descriptor defines one job kind. Queue empty means the kind cannot be
// scheduled; CompletesOnCreate marks kinds whose results need no compute.
type Descriptor struct {
	Kind              string
	Queue             string
	InputFile         string
	OutputFile        string
	CompletesOnCreate bool

	Parse       func(ctx context.Context, d *Deps, sub *Submission) (*ParseResult, error)
	Command     func(r *entity.Report) []string
	Environment func(d *Deps, r *entity.Report) (map[string]string, error)
	RunParams   func(r *entity.Report) RunParams
	FetchOutput func(ctx context.Context, d *Deps, r *entity.Report) (any, error)
}

var registry = map[string]*Descriptor{}

func register(desc *Descriptor) {
	if _, dup := registry[desc.Kind]; dup {
		panic(fmt.Sprintf("duplicate job kind %q", desc.Kind))
	}
	registry[desc.Kind] = desc
}

// Lookup returns the descriptor for a kind.
func Lookup(kind string) (*Descriptor, error) {
	desc, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
	return desc, nil
}

// Kinds lists the registered kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Schedulable reports whether the kind declares a task queue.
func (desc *Descriptor) Schedulable() bool {
	return desc.Queue != ""
}
