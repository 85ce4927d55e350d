package entity

// KindExecution is the document kind for provider execution audit records.
const KindExecution = "pipeline_operation"

// ExecutionRecord tracks one provider-side execution of a job. Its name is
// the execution ID, the trailing segment of both Cloud Run execution names
// and Life Sciences operation names, which is what status notifications
// carry.
type ExecutionRecord struct {
	// ID is the execution ID, e.g. indel-primer-a1b2c3-xyzzy.
	ID string
	// JobName is the DNS-safe job name the execution ran under.
	JobName string
	// OperationName is the provider's fully qualified operation resource.
	OperationName string
	// Backend is cloud_run or lifesciences.
	Backend    string
	ReportKind string
	DataID     string
	Username   string
	Done       bool
	Error      string
	// Environment snapshots the variables the job ran with, for debugging
	// failed runs.
	Environment map[string]string
}

func (e *ExecutionRecord) ToProps() Props {
	props := Props{
		"job_name":       e.JobName,
		"operation_name": e.OperationName,
		"backend":        e.Backend,
		"report_kind":    e.ReportKind,
		"data_hash":      e.DataID,
		"username":       e.Username,
		"done":           e.Done,
		"error":          e.Error,
	}
	if len(e.Environment) > 0 {
		env := map[string]any{}
		for k, v := range e.Environment {
			env[k] = v
		}
		props["environment"] = env
	}
	return props
}

func ExecutionFromProps(name string, props Props) *ExecutionRecord {
	e := &ExecutionRecord{ID: name}
	e.JobName, _ = props["job_name"].(string)
	e.OperationName, _ = props["operation_name"].(string)
	e.Backend, _ = props["backend"].(string)
	e.ReportKind, _ = props["report_kind"].(string)
	e.DataID, _ = props["data_hash"].(string)
	e.Username, _ = props["username"].(string)
	e.Done, _ = props["done"].(bool)
	e.Error, _ = props["error"].(string)
	if env, ok := props["environment"].(map[string]any); ok {
		e.Environment = map[string]string{}
		for k, v := range env {
			if s, ok := v.(string); ok {
				e.Environment[k] = s
			}
		}
	}
	return e
}
