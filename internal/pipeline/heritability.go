package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/nemadiversity/pipeline/internal/entity"
	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
	"github.com/nemadiversity/pipeline/internal/pkg/hashutil"
)

// Heritability estimates what fraction of trait variance is genetic. Input
// is a replicated assay table; the job needs at least five distinct strains
// to produce a meaningful estimate.

const (
	heritabilityQueue      = "heritability"
	heritabilityInputFile  = "data.tsv"
	heritabilityOutputFile = "heritability_result.tsv"
	heritabilityMinStrains = 5
)

var heritabilityColumns = []string{"AssayNumber", "Strain", "TraitName", "Replicate", "Value"}

func init() {
	register(&Descriptor{
		Kind:        KindHeritability,
		Queue:       heritabilityQueue,
		InputFile:   heritabilityInputFile,
		OutputFile:  heritabilityOutputFile,
		Parse:       parseHeritability,
		Command:     func(*entity.Report) []string { return []string{"heritability-nxf.sh"} },
		Environment: heritabilityEnv,
		RunParams: func(*entity.Report) RunParams {
			p := DefaultRunParams()
			p.TimeoutSeconds = 9000
			return p
		},
		FetchOutput: fetchHeritabilityOutput,
	})
}

func parseHeritability(ctx context.Context, d *Deps, sub *Submission) (*ParseResult, error) {
	speciesName, _ := sub.Fields["species"].(string)
	if _, err := d.Species.Get(speciesName); err != nil {
		return nil, &apperrors.DataFormatError{Msg: err.Error()}
	}

	table, err := readTable(sub.Data)
	if err != nil {
		return nil, err
	}
	if !columnsMatch(table.Columns, heritabilityColumns) {
		return nil, &apperrors.DataFormatError{
			Msg: fmt.Sprintf("expected columns %s", strings.Join(heritabilityColumns, ", ")),
		}
	}

	strains := map[string]bool{}
	trait := ""
	for i, row := range table.Rows {
		line := i + 2
		strain, traitName, value := row[1], row[2], row[4]

		if strain == "" {
			return nil, &apperrors.DataFormatError{Msg: "missing strain name", Line: line}
		}
		known, err := d.Strains.Known(ctx, speciesName, strain)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, &apperrors.DataFormatError{
				Msg:  fmt.Sprintf("unknown strain %q for species %s", strain, speciesName),
				Line: line,
			}
		}
		strains[strain] = true

		if trait == "" {
			trait = traitName
		} else if traitName != trait {
			return nil, &apperrors.DataFormatError{
				Msg:  "all rows must measure the same trait",
				Line: line,
			}
		}
		if !isNumeric(value) {
			return nil, &apperrors.DataFormatError{
				Msg:  fmt.Sprintf("value %q is not numeric", value),
				Line: line,
			}
		}
	}
	if len(strains) < heritabilityMinStrains {
		return nil, &apperrors.DataFormatError{
			Msg: "data contains fewer than five unique strains",
		}
	}

	return &ParseResult{
		DataID: hashutil.Bytes(sub.Data, hashutil.DefaultLength),
		Fields: entity.Props{
			"species": speciesName,
			"trait":   trait,
		},
		Files: []InputFile{{Name: heritabilityInputFile, Content: sub.Data}},
	}, nil
}

func heritabilityEnv(d *Deps, r *entity.Report) (map[string]string, error) {
	species, err := d.Species.Get(r.GetString("species"))
	if err != nil {
		return nil, err
	}
	env := d.dataJobEnv(r, heritabilityInputFile)
	env["SPECIES"] = species.Name
	env["VCF_VERSION"] = species.ReleaseLatest
	env["DATA_HASH"] = r.DataID
	env["DATA_BUCKET"] = d.Layout.PrivateBucket
	env["DATA_BLOB_PATH"] = d.Layout.InputKey(r, heritabilityInputFile)
	return env, nil
}

// HeritabilityResult is the point estimate the container writes.
type HeritabilityResult struct {
	Trait string
	Table *ResultTable
}

func fetchHeritabilityOutput(ctx context.Context, d *Deps, r *entity.Report) (any, error) {
	key := d.Layout.OutputKey(r, heritabilityOutputFile)
	data, err := d.Blobs.DownloadBytes(ctx, d.Layout.PrivateBucket, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	if len(data) == 0 {
		return nil, &apperrors.EmptyReportResultsError{ReportID: r.ID}
	}
	table, err := readTable(data)
	if err != nil {
		return nil, err
	}
	if table.Empty() {
		return nil, &apperrors.EmptyReportResultsError{ReportID: r.ID}
	}
	return &HeritabilityResult{Trait: r.GetString("trait"), Table: table}, nil
}
