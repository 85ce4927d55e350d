// Package errors defines the failure vocabulary of the job pipeline.
//
// Gateway errors are wrapped at each layer so that callers see the semantic
// failure reason, not the transport. Types that carry a payload (the prior
// report, the missing file list) expose it as struct fields.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
)

func Is(err, target error) bool     { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }

// NotFoundError reports a metadata store lookup miss for a specific entity.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NonUniqueEntityError reports that a query expected one entity and got more.
type NonUniqueEntityError struct {
	Kind    string
	Matches int
}

func (e *NonUniqueEntityError) Error() string {
	return fmt.Sprintf("expected a unique %s entity, found %d", e.Kind, e.Matches)
}

// DuplicateDataError means the submitting user already has a live report for
// this exact input. The prior report is surfaced so the caller can redirect.
type DuplicateDataError struct {
	Kind     string
	ReportID string
	DataID   string
}

func (e *DuplicateDataError) Error() string {
	return fmt.Sprintf("data already submitted: %s report %s (data id %s)", e.Kind, e.ReportID, e.DataID)
}

// CachedDataError means results for this computation already exist; the new
// report was linked to them and marked complete without scheduling.
type CachedDataError struct {
	Kind     string
	ReportID string
	DataID   string
}

func (e *CachedDataError) Error() string {
	return fmt.Sprintf("results already computed for %s data id %s", e.Kind, e.DataID)
}

// DataFormatError reports invalid user input. Line is 0 when no line number
// applies.
type DataFormatError struct {
	Msg  string
	Line int
}

func (e *DataFormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d)", e.Msg, e.Line)
	}
	return e.Msg
}

// DataValidationError reports input that parsed but fails a semantic check,
// e.g. two traits from different species.
type DataValidationError struct {
	Msg string
}

func (e *DataValidationError) Error() string { return e.Msg }

// UnschedulableJobTypeError: the job kind declares no task descriptor.
type UnschedulableJobTypeError struct {
	Kind string
}

func (e *UnschedulableJobTypeError) Error() string {
	return fmt.Sprintf("job type %q cannot be scheduled", e.Kind)
}

// JobAlreadyScheduledError: schedule was called on a report that has left the
// CREATED state.
type JobAlreadyScheduledError struct {
	ReportID string
	Status   string
}

func (e *JobAlreadyScheduledError) Error() string {
	return fmt.Sprintf("report %s already scheduled (status %s)", e.ReportID, e.Status)
}

// PreflightCheckError lists reference files required by a database operation
// that are missing from the object store.
type PreflightCheckError struct {
	MissingFiles []string
}

func (e *PreflightCheckError) Error() string {
	return fmt.Sprintf("missing required files:\n%s", strings.Join(e.MissingFiles, "\n"))
}

// PipelineRunError wraps a provider failure during run; the report has been
// moved to ERROR and the message recorded.
type PipelineRunError struct {
	ReportID string
	Err      error
}

func (e *PipelineRunError) Error() string {
	return fmt.Sprintf("pipeline run failed for report %s: %v", e.ReportID, e.Err)
}

func (e *PipelineRunError) Unwrap() error { return e.Err }

// EmptyReportDataError: an input file exists for the report but is empty.
type EmptyReportDataError struct {
	ReportID string
}

func (e *EmptyReportDataError) Error() string {
	return fmt.Sprintf("report %s has an empty input file", e.ReportID)
}

// EmptyReportResultsError: an output file exists for the report but is empty.
type EmptyReportResultsError struct {
	ReportID string
}

func (e *EmptyReportResultsError) Error() string {
	return fmt.Sprintf("report %s has an empty result file", e.ReportID)
}
