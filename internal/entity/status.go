package entity

// JobStatus tracks a report through its lifecycle. CREATED means parsed and
// persisted but not yet queued; SUBMITTED means queued; RUNNING means a
// provider execution was started; COMPLETE and ERROR are terminal.
type JobStatus string

const (
	StatusCreated   JobStatus = "CREATED"
	StatusSubmitted JobStatus = "SUBMITTED"
	StatusRunning   JobStatus = "RUNNING"
	StatusComplete  JobStatus = "COMPLETE"
	StatusError     JobStatus = "ERROR"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	return s == StatusComplete || s == StatusError
}

// NotErr reports whether the status is anything other than ERROR. Duplicate
// submission checks only consider non-errored prior reports live.
func (s JobStatus) NotErr() bool {
	switch s {
	case StatusCreated, StatusSubmitted, StatusRunning, StatusComplete:
		return true
	}
	return false
}

func (s JobStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusSubmitted, StatusRunning, StatusComplete, StatusError:
		return true
	}
	return false
}
