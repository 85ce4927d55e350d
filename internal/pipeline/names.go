package pipeline

import (
	"fmt"
	"strings"
)

// Provider job names must be DNS labels. The scheme is <kind>-<data id>,
// which stays parseable because data IDs are hyphen-free hex, except for
// database operations whose data ID is the operation name itself.

const maxJobNameLength = 63

// MakeDNSNameSafe lowercases and swaps underscores for hyphens.
func MakeDNSNameSafe(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "_", "-")
}

// JobName derives the provider job name for a report.
func JobName(kind, dataID string) string {
	name := MakeDNSNameSafe(kind) + "-" + MakeDNSNameSafe(dataID)
	if len(name) > maxJobNameLength {
		name = name[:maxJobNameLength]
	}
	return name
}

// SplitJobName recovers (kind, data id) from a job name. Database operation
// names embed the operation enum, which contains hyphens, so those are
// matched against the known operations before falling back to the last
// hyphen split.
func SplitJobName(name string) (kind, dataID string, err error) {
	if rest, ok := strings.CutPrefix(name, MakeDNSNameSafe(KindDatabaseOperation)+"-"); ok {
		op := strings.ToUpper(strings.ReplaceAll(rest, "-", "_"))
		if !DatabaseOperation(op).Valid() {
			return "", "", fmt.Errorf("job name %q does not match a known database operation", name)
		}
		return KindDatabaseOperation, op, nil
	}

	i := strings.LastIndex(name, "-")
	if i <= 0 || i == len(name)-1 {
		return "", "", fmt.Errorf("malformed job name %q", name)
	}
	kind = strings.ReplaceAll(name[:i], "-", "_")
	if _, ok := registry[kind]; !ok {
		return "", "", fmt.Errorf("job name %q does not match a known kind", name)
	}
	return kind, name[i+1:], nil
}

// ParseOperationName extracts the execution ID from a provider operation
// name. Two formats appear in stored reports and status notifications:
//
//	projects/N/locations/R/jobs/<job>/executions/<job>-<suffix>
//	projects/N/locations/R/operations/<id>
//
// In both the trailing path segment identifies the execution.
func ParseOperationName(op string) (execID string, err error) {
	op = strings.Trim(op, "/")
	if op == "" {
		return "", fmt.Errorf("empty operation name")
	}
	segments := strings.Split(op, "/")
	last := segments[len(segments)-1]
	if len(segments) >= 2 {
		parent := segments[len(segments)-2]
		if parent != "executions" && parent != "operations" {
			return "", fmt.Errorf("unrecognized operation name %q", op)
		}
	}
	return last, nil
}

// JobNameFromExecutionID strips the execution suffix, recovering the job
// name from IDs like indel-primer-a1b2c3-k9xyz.
func JobNameFromExecutionID(execID string) string {
	if i := strings.LastIndex(execID, "-"); i > 0 {
		return execID[:i]
	}
	return execID
}
