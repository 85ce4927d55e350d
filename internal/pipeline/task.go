package pipeline

import (
	"fmt"

	"github.com/nemadiversity/pipeline/internal/entity"
)

// Task is the queue payload for one scheduled job. The task handler looks
// the report back up by (kind, id); the remaining fields let operators read
// queue contents without a second lookup.
type Task struct {
	ID               string         `json:"id"`
	Kind             string         `json:"kind"`
	Username         string         `json:"username"`
	ContainerRepo    string         `json:"container_repo"`
	ContainerName    string         `json:"container_name"`
	ContainerVersion string         `json:"container_version"`
	DataHash         string         `json:"data_hash,omitempty"`
	Species          string         `json:"species,omitempty"`
	DbOperation      string         `json:"db_operation,omitempty"`
	Args             map[string]any `json:"args,omitempty"`
	Site             string         `json:"site,omitempty"`
	Strain1          string         `json:"strain_1,omitempty"`
	Strain2          string         `json:"strain_2,omitempty"`
	SVBedFilename    string         `json:"sv_bed_filename,omitempty"`
	SVVCFFilename    string         `json:"sv_vcf_filename,omitempty"`
	// WormbaseVersion is only set by legacy gene-browser-track payloads;
	// carried so stored queue contents keep round-tripping.
	WormbaseVersion string `json:"wormbase_version,omitempty"`
}

// TaskFromReport builds the queue payload for a report.
func TaskFromReport(r *entity.Report) (*Task, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("report has no id")
	}
	t := &Task{
		ID:               r.ID,
		Kind:             r.Kind,
		Username:         r.Owner,
		ContainerRepo:    r.Container.Repo,
		ContainerName:    r.Container.Name,
		ContainerVersion: r.Container.Tag,
		DataHash:         r.DataID,
		Species:          r.GetString("species"),
		DbOperation:      r.GetString("db_operation"),
		Site:             r.GetString("site"),
		Strain1:          r.GetString("strain_1"),
		Strain2:          r.GetString("strain_2"),
		SVBedFilename:    r.GetString("sv_bed_filename"),
		SVVCFFilename:    r.GetString("sv_vcf_filename"),
		WormbaseVersion:  r.GetString("wormbase_version"),
	}
	if args, ok := r.Fields["args"].(map[string]any); ok {
		t.Args = args
	}
	return t, nil
}
