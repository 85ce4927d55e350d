package entity

import (
	"context"
	"sort"

	"github.com/nemadiversity/pipeline/internal/clients/gcp"
	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

// ReportStore persists reports and answers the queries the pipeline and the
// status listener need.
type ReportStore interface {
	Save(ctx context.Context, r *Report) error
	Get(ctx context.Context, kind, id string) (*Report, error)
	// FindLiveSubmission returns the owner's most recent non-errored,
	// non-deleted report for the same data and container, or nil.
	FindLiveSubmission(ctx context.Context, kind, dataID, owner string, container Container) (*Report, error)
	// FindByDataID returns all reports matching (kind, data id), newest
	// first, across owners.
	FindByDataID(ctx context.Context, kind, dataID string) ([]*Report, error)
	FindByOwner(ctx context.Context, kind, owner string) ([]*Report, error)
}

type reportStore struct {
	log  *logger.Logger
	docs gcp.DocumentService
}

func NewReportStore(log *logger.Logger, docs gcp.DocumentService) ReportStore {
	return &reportStore{log: log.With("service", "ReportStore"), docs: docs}
}

func (rs *reportStore) Save(ctx context.Context, r *Report) error {
	return rs.docs.Put(ctx, r.Kind, r.ID, r.ToProps())
}

func (rs *reportStore) Get(ctx context.Context, kind, id string) (*Report, error) {
	props, err := rs.docs.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return ReportFromDoc(kind, id, props), nil
}

func (rs *reportStore) FindLiveSubmission(ctx context.Context, kind, dataID, owner string, container Container) (*Report, error) {
	docs, err := rs.docs.Query(ctx, kind, gcp.Query{
		Filters: []gcp.Filter{
			{Field: "data_hash", Op: "=", Value: dataID},
			{Field: "username", Op: "=", Value: owner},
		},
	})
	if err != nil {
		return nil, err
	}

	var live []*Report
	for _, doc := range docs {
		r := ReportFromDoc(kind, doc.Name, doc.Props)
		if r.IsDeleted || !r.Status.NotErr() || !r.Container.Equal(container) {
			continue
		}
		live = append(live, r)
	}
	if len(live) == 0 {
		return nil, nil
	}
	sort.Slice(live, func(i, j int) bool { return live[i].CreatedOn.After(live[j].CreatedOn) })
	return live[0], nil
}

func (rs *reportStore) FindByDataID(ctx context.Context, kind, dataID string) ([]*Report, error) {
	docs, err := rs.docs.Query(ctx, kind, gcp.Query{
		Filters: []gcp.Filter{{Field: "data_hash", Op: "=", Value: dataID}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Report, 0, len(docs))
	for _, doc := range docs {
		out = append(out, ReportFromDoc(kind, doc.Name, doc.Props))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedOn.After(out[j].CreatedOn) })
	return out, nil
}

func (rs *reportStore) FindByOwner(ctx context.Context, kind, owner string) ([]*Report, error) {
	docs, err := rs.docs.Query(ctx, kind, gcp.Query{
		Filters: []gcp.Filter{{Field: "username", Op: "=", Value: owner}},
		Order:   "-created_on",
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Report, 0, len(docs))
	for _, doc := range docs {
		r := ReportFromDoc(kind, doc.Name, doc.Props)
		if r.IsDeleted {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ExecutionStore persists provider execution audit records.
type ExecutionStore interface {
	Save(ctx context.Context, e *ExecutionRecord) error
	Get(ctx context.Context, id string) (*ExecutionRecord, error)
	// FindByJobName returns executions of a job, used to warn when a job is
	// re-run while a prior execution is still open.
	FindByJobName(ctx context.Context, jobName string) ([]*ExecutionRecord, error)
}

type executionStore struct {
	log  *logger.Logger
	docs gcp.DocumentService
}

func NewExecutionStore(log *logger.Logger, docs gcp.DocumentService) ExecutionStore {
	return &executionStore{log: log.With("service", "ExecutionStore"), docs: docs}
}

func (es *executionStore) Save(ctx context.Context, e *ExecutionRecord) error {
	return es.docs.Put(ctx, KindExecution, e.ID, e.ToProps())
}

func (es *executionStore) Get(ctx context.Context, id string) (*ExecutionRecord, error) {
	props, err := es.docs.Get(ctx, KindExecution, id)
	if err != nil {
		return nil, err
	}
	return ExecutionFromProps(id, props), nil
}

func (es *executionStore) FindByJobName(ctx context.Context, jobName string) ([]*ExecutionRecord, error) {
	docs, err := es.docs.Query(ctx, KindExecution, gcp.Query{
		Filters: []gcp.Filter{{Field: "job_name", Op: "=", Value: jobName}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]*ExecutionRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, ExecutionFromProps(doc.Name, doc.Props))
	}
	return out, nil
}

// UserStore resolves usernames to account records.
type UserStore interface {
	Get(ctx context.Context, username string) (*User, error)
}

type userStore struct {
	log  *logger.Logger
	docs gcp.DocumentService
}

func NewUserStore(log *logger.Logger, docs gcp.DocumentService) UserStore {
	return &userStore{log: log.With("service", "UserStore"), docs: docs}
}

func (us *userStore) Get(ctx context.Context, username string) (*User, error) {
	props, err := us.docs.Get(ctx, KindUser, username)
	if err != nil {
		return nil, err
	}
	return UserFromProps(username, props), nil
}
