package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/nemadiversity/pipeline/internal/clients/gcp"
	"github.com/nemadiversity/pipeline/internal/entity"
	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
	"github.com/nemadiversity/pipeline/internal/pkg/hashutil"
)

// NemaScan runs a genome-wide association mapping for one trait. Input is a
// two-column table of strain and trait value; the trait takes its name from
// the second header field.

const (
	nemascanQueue     = "nemascan-mapping"
	nemascanInputFile = "data.tsv"
	// The workflow writes many files; the mapping summary marks completion
	// and the HTML report under the results prefix is what users open.
	nemascanResultsInfix  = "results"
	nemascanReportPrefix  = "Reports/NemaScan_Report_"
	nemascanMissingMarker = "NA"
)

func init() {
	register(&Descriptor{
		Kind:        KindNemascanMapping,
		Queue:       nemascanQueue,
		InputFile:   nemascanInputFile,
		OutputFile:  gcp.JoinKey(nemascanResultsInfix, "mapping_summary.tsv"),
		Parse:       parseNemascan,
		Command:     func(*entity.Report) []string { return []string{"nemascan-nxf.sh"} },
		Environment: nemascanEnv,
		RunParams: func(*entity.Report) RunParams {
			return RunParams{
				TimeoutSeconds: 86400,
				CPU:            "1",
				Memory:         "4Gi",
				TaskCount:      1,
				MaxRetries:     1,
			}
		},
		FetchOutput: fetchNemascanOutput,
	})
}

func parseNemascan(ctx context.Context, d *Deps, sub *Submission) (*ParseResult, error) {
	speciesName, _ := sub.Fields["species"].(string)
	if _, err := d.Species.Get(speciesName); err != nil {
		return nil, &apperrors.DataFormatError{Msg: err.Error()}
	}

	table, err := readTable(sub.Data)
	if err != nil {
		return nil, err
	}
	if len(table.Columns) != 2 {
		return nil, &apperrors.DataFormatError{
			Msg: "expected exactly two columns: strain and trait value",
		}
	}
	if !strings.EqualFold(table.Columns[0], "strain") {
		return nil, &apperrors.DataFormatError{Msg: "first column must be strain"}
	}
	trait := table.Columns[1]
	if trait == "" {
		return nil, &apperrors.DataFormatError{Msg: "trait column has no name"}
	}

	seen := map[string]int{}
	for i, row := range table.Rows {
		line := i + 2
		strain, value := row[0], row[1]
		if strain == "" {
			return nil, &apperrors.DataFormatError{Msg: "missing strain name", Line: line}
		}
		if prev, dup := seen[strain]; dup {
			return nil, &apperrors.DataFormatError{
				Msg:  fmt.Sprintf("strain %q already appears on line %d", strain, prev),
				Line: line,
			}
		}
		seen[strain] = line
		if value != nemascanMissingMarker && !isNumeric(value) {
			return nil, &apperrors.DataFormatError{
				Msg:  fmt.Sprintf("value %q is neither numeric nor %s", value, nemascanMissingMarker),
				Line: line,
			}
		}
	}

	return &ParseResult{
		DataID: hashutil.Bytes(sub.Data, hashutil.DefaultLength),
		Fields: entity.Props{
			"species": speciesName,
			"trait":   trait,
		},
		Files: []InputFile{{Name: nemascanInputFile, Content: sub.Data}},
	}, nil
}

func nemascanEnv(d *Deps, r *entity.Report) (map[string]string, error) {
	species, err := d.Species.Get(r.GetString("species"))
	if err != nil {
		return nil, err
	}
	env := d.dataJobEnv(r, nemascanInputFile)
	env["SPECIES"] = species.Name
	env["VCF_VERSION"] = species.ReleaseLatest
	env["USERNAME"] = r.Owner
	env["EMAIL"] = r.OwnerEmail
	return env, nil
}

// NemascanResults lists the produced files and the HTML report, if present.
type NemascanResults struct {
	Trait     string
	Files     []string
	ReportKey string
}

func fetchNemascanOutput(ctx context.Context, d *Deps, r *entity.Report) (any, error) {
	prefix := gcp.JoinKey(d.Layout.ReportPrefix(r), nemascanResultsInfix)
	keys, err := d.Blobs.ListKeys(ctx, d.Layout.PrivateBucket, prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	results := &NemascanResults{Trait: r.GetString("trait"), Files: keys}
	for _, key := range keys {
		rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
		if strings.HasPrefix(rel, nemascanReportPrefix) && strings.HasSuffix(rel, ".html") {
			results.ReportKey = key
			break
		}
	}
	return results, nil
}
