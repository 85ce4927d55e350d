package pipeline

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/nemadiversity/pipeline/internal/entity"
	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
	"github.com/nemadiversity/pipeline/internal/pkg/hashutil"
	"github.com/nemadiversity/pipeline/internal/pkg/tokens"
)

// Indel primer designs PCR primers around a structural variant between two
// strains. The submission is a small JSON document, so the data ID hashes
// the parsed fields rather than raw bytes: formatting differences must not
// defeat the cache.

const (
	indelPrimerQueue      = "indel-primer"
	indelPrimerInputFile  = "input.json"
	indelPrimerOutputFile = "results.tsv"
)

var indelSitePattern = regexp.MustCompile(`^[A-Za-z0-9]+:[0-9]+-[0-9]+$`)

type indelPrimerInput struct {
	Species string `json:"species"`
	Site    string `json:"site"`
	Strain1 string `json:"strain_1"`
	Strain2 string `json:"strain_2"`
}

func init() {
	register(&Descriptor{
		Kind:        KindIndelPrimer,
		Queue:       indelPrimerQueue,
		InputFile:   indelPrimerInputFile,
		OutputFile:  indelPrimerOutputFile,
		Parse:       parseIndelPrimer,
		Command:     func(*entity.Report) []string { return []string{"indel-primer.sh"} },
		Environment: indelPrimerEnv,
		RunParams: func(*entity.Report) RunParams {
			p := DefaultRunParams()
			p.TimeoutSeconds = 3600
			return p
		},
		FetchOutput: fetchIndelPrimerOutput,
	})
}

func parseIndelPrimer(ctx context.Context, d *Deps, sub *Submission) (*ParseResult, error) {
	var in indelPrimerInput
	if err := json.Unmarshal(sub.Data, &in); err != nil {
		return nil, &apperrors.DataFormatError{Msg: "input is not valid JSON"}
	}

	species, err := d.Species.Get(in.Species)
	if err != nil {
		return nil, &apperrors.DataFormatError{Msg: err.Error()}
	}
	if in.Strain1 == "" || in.Strain2 == "" {
		return nil, &apperrors.DataFormatError{Msg: "both strains are required"}
	}
	if in.Strain1 == in.Strain2 {
		return nil, &apperrors.DataFormatError{Msg: "strains must differ"}
	}
	if !indelSitePattern.MatchString(in.Site) {
		return nil, &apperrors.DataFormatError{Msg: "site must look like CHROM:start-end"}
	}

	dataID, err := hashutil.Object(map[string]any{
		"species":  in.Species,
		"site":     in.Site,
		"strain_1": in.Strain1,
		"strain_2": in.Strain2,
	}, hashutil.DefaultLength)
	if err != nil {
		return nil, err
	}

	release := species.ReleasePIF
	vars := map[string]string{"RELEASE": release}
	canonical, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	return &ParseResult{
		DataID: dataID,
		Fields: entity.Props{
			"species":         in.Species,
			"site":            in.Site,
			"strain_1":        in.Strain1,
			"strain_2":        in.Strain2,
			"release":         release,
			"sv_bed_filename": tokens.Replace(species.SVBedTemplate, vars),
			"sv_vcf_filename": tokens.Replace(species.SVVCFTemplate, vars),
		},
		Files: []InputFile{{Name: indelPrimerInputFile, Content: canonical}},
	}, nil
}

func indelPrimerEnv(d *Deps, r *entity.Report) (map[string]string, error) {
	env := d.baseEnv()
	env["RELEASE"] = r.GetString("release")
	env["SPECIES"] = r.GetString("species")
	env["INDEL_STRAIN_1"] = r.GetString("strain_1")
	env["INDEL_STRAIN_2"] = r.GetString("strain_2")
	env["INDEL_SITE"] = r.GetString("site")
	env["RESULT_BUCKET"] = d.Layout.PrivateBucket
	env["RESULT_BLOB"] = d.Layout.OutputKey(r, indelPrimerOutputFile)
	return env, nil
}

// IndelPrimerResults is the primer table the container writes. An empty
// table is a legitimate outcome: no usable primers in the window.
type IndelPrimerResults struct {
	Site    string
	Strain1 string
	Strain2 string
	Table   *ResultTable
}

func fetchIndelPrimerOutput(ctx context.Context, d *Deps, r *entity.Report) (any, error) {
	key := d.Layout.OutputKey(r, indelPrimerOutputFile)
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
	return &IndelPrimerResults{
		Site:    r.GetString("site"),
		Strain1: r.GetString("strain_1"),
		Strain2: r.GetString("strain_2"),
		Table:   table,
	}, nil
}
