package entity

import (
	"time"

	"github.com/nemadiversity/pipeline/internal/clients/gcp"
)

// Props is the flat property bag a document store row holds.
type Props = map[string]any

// Report is one user-submitted job of any kind. ID is unique per submission;
// DataID is the content hash shared by all submissions of the same input, so
// results are stored once per (kind, container, data id) and every matching
// report reads them.
type Report struct {
	Kind          string
	ID            string
	DataID        string
	Status        JobStatus
	Owner         string
	OwnerEmail    string
	Container     Container
	OperationName string
	ErrorMessage  string
	IsDeleted     bool
	CreatedOn     time.Time
	ModifiedOn    time.Time

	// Fields holds kind-specific properties extracted at parse time
	// (trait, species, strains, site, database operation, ...).
	Fields Props
}

// reserved property names managed by the Report struct itself.
var reservedReportProps = map[string]bool{
	"data_hash":         true,
	"status":            true,
	"username":          true,
	"email":             true,
	"container_repo":    true,
	"container_name":    true,
	"container_version": true,
	"operation_name":    true,
	"error_message":     true,
	"is_deleted":        true,
	"created_on":        true,
	"modified_on":       true,
}

func (r *Report) Get(field string) (any, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

func (r *Report) GetString(field string) string {
	if v, ok := r.Fields[field]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (r *Report) Set(field string, value any) {
	if r.Fields == nil {
		r.Fields = Props{}
	}
	r.Fields[field] = value
}

// ToProps flattens the report for the document store.
func (r *Report) ToProps() Props {
	props := Props{
		"data_hash":         r.DataID,
		"status":            string(r.Status),
		"username":          r.Owner,
		"email":             r.OwnerEmail,
		"container_repo":    r.Container.Repo,
		"container_name":    r.Container.Name,
		"container_version": r.Container.Tag,
		"operation_name":    r.OperationName,
		"error_message":     r.ErrorMessage,
		"is_deleted":        r.IsDeleted,
	}
	for k, v := range r.Fields {
		if !reservedReportProps[k] {
			props[k] = v
		}
	}
	return props
}

// ReportFromDoc rebuilds a Report from a stored document.
func ReportFromDoc(kind, name string, props Props) *Report {
	r := &Report{
		Kind:   kind,
		ID:     name,
		Fields: Props{},
	}
	r.DataID, _ = props["data_hash"].(string)
	if s, ok := props["status"].(string); ok {
		r.Status = JobStatus(s)
	}
	r.Owner, _ = props["username"].(string)
	r.OwnerEmail, _ = props["email"].(string)
	r.Container.Repo, _ = props["container_repo"].(string)
	r.Container.Name, _ = props["container_name"].(string)
	r.Container.Tag, _ = props["container_version"].(string)
	r.OperationName, _ = props["operation_name"].(string)
	r.ErrorMessage, _ = props["error_message"].(string)
	r.IsDeleted, _ = props["is_deleted"].(bool)
	if t, ok := props["created_on"].(time.Time); ok {
		r.CreatedOn = t
	}
	if t, ok := props["modified_on"].(time.Time); ok {
		r.ModifiedOn = t
	}
	for k, v := range props {
		if !reservedReportProps[k] {
			r.Fields[k] = v
		}
	}
	return r
}

// Layout maps reports to object store locations. Inputs and outputs live in
// the private site bucket under a prefix that encodes the cache identity, so
// two reports with the same kind, image tag, and data id share files.
type Layout struct {
	PrivateBucket string
	WorkBucket    string
	DataBucket    string
}

// ReportPrefix is reports/<kind>/<container tag>/<data id>.
func (l Layout) ReportPrefix(r *Report) string {
	return gcp.JoinKey("reports", r.Kind, r.Container.Tag, r.DataID)
}

func (l Layout) InputKey(r *Report, filename string) string {
	return gcp.JoinKey(l.ReportPrefix(r), filename)
}

func (l Layout) OutputKey(r *Report, filename string) string {
	return gcp.JoinKey(l.ReportPrefix(r), filename)
}

// WorkURI is the scratch directory a running job owns, gs://<work>/<data id>.
func (l Layout) WorkURI(r *Report) string {
	return gcp.BlobURI(l.WorkBucket, r.DataID)
}

func (l Layout) DataURI(segments ...string) string {
	return gcp.BlobURI(l.DataBucket, segments...)
}
