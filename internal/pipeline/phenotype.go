package pipeline

import (
	"context"

	"github.com/nemadiversity/pipeline/internal/entity"
	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
	"github.com/nemadiversity/pipeline/internal/pkg/hashutil"
)

// Phenotype reports compare two published trait measurements across strains.
// No container runs: the correlation is computed in process when the report
// is fetched, so the report completes the moment it is created.
//
// The data ID hashes a map of trait name to per-strain measurements, so
// comparing A to B and B to A is the same computation while different
// measurements under the same trait names stay distinct.

const phenotypeInputFile = "data.tsv"

func init() {
	register(&Descriptor{
		Kind:              KindPhenotypeReport,
		InputFile:         phenotypeInputFile,
		CompletesOnCreate: true,
		Parse:             parsePhenotype,
		Command:           func(*entity.Report) []string { return nil },
		Environment: func(d *Deps, r *entity.Report) (map[string]string, error) {
			return d.baseEnv(), nil
		},
		RunParams:   func(*entity.Report) RunParams { return DefaultRunParams() },
		FetchOutput: fetchPhenotypeOutput,
	})
}

func parsePhenotype(ctx context.Context, d *Deps, sub *Submission) (*ParseResult, error) {
	table, err := readTable(sub.Data)
	if err != nil {
		return nil, err
	}
	if len(table.Columns) != 3 {
		return nil, &apperrors.DataFormatError{
			Msg: "expected three columns: strain and two traits",
		}
	}
	trait1, trait2 := table.Columns[1], table.Columns[2]
	if trait1 == "" || trait2 == "" {
		return nil, &apperrors.DataFormatError{Msg: "both trait columns must be named"}
	}
	if trait1 == trait2 {
		return nil, &apperrors.DataValidationError{Msg: "traits must differ"}
	}

	values := map[string]map[string]string{trait1: {}, trait2: {}}
	for _, row := range table.Rows {
		values[trait1][row[0]] = row[1]
		values[trait2][row[0]] = row[2]
	}
	dataID, err := hashutil.Object(values, hashutil.DefaultLength)
	if err != nil {
		return nil, err
	}

	return &ParseResult{
		DataID: dataID,
		Fields: entity.Props{
			"trait_1": trait1,
			"trait_2": trait2,
		},
		Files: []InputFile{{Name: phenotypeInputFile, Content: sub.Data}},
	}, nil
}

// PhenotypeResult is the Spearman rank correlation between the two traits,
// over the strains measured for both.
type PhenotypeResult struct {
	Trait1  string
	Trait2  string
	Strains int
	Rho     float64
	PValue  float64
}

func fetchPhenotypeOutput(ctx context.Context, d *Deps, r *entity.Report) (any, error) {
	key := d.Layout.InputKey(r, phenotypeInputFile)
	data, err := d.Blobs.DownloadBytes(ctx, d.Layout.PrivateBucket, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	if len(data) == 0 {
		return nil, &apperrors.EmptyReportDataError{ReportID: r.ID}
	}

	table, err := readTable(data)
	if err != nil {
		return nil, err
	}

	var xs, ys []float64
	for _, row := range table.Rows {
		x, okX := parseFloat(row[1])
		y, okY := parseFloat(row[2])
		if okX && okY {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}

	rho, p, err := SpearmanCorrelation(xs, ys)
	if err != nil {
		return nil, &apperrors.EmptyReportResultsError{ReportID: r.ID}
	}
	return &PhenotypeResult{
		Trait1:  r.GetString("trait_1"),
		Trait2:  r.GetString("trait_2"),
		Strains: len(xs),
		Rho:     rho,
		PValue:  p,
	}, nil
}
