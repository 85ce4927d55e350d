package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/nemadiversity/pipeline/internal/entity"
	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
)

func nemascanSubmission(data string) *Submission {
	return &Submission{
		Kind:   KindNemascanMapping,
		Owner:  "jdoe",
		Email:  "jdoe@example.com",
		Data:   []byte(data),
		Fields: entity.Props{"species": "c_elegans"},
	}
}

func TestParseNemascan(t *testing.T) {
	env := newTestEnv()
	parsed, err := parseNemascan(context.Background(), env.deps,
		nemascanSubmission("strain\tbody_length\nAB1\t11.5\nCB4856\tNA\nN2\t10.0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Fields["trait"] != "body_length" {
		t.Errorf("trait = %v", parsed.Fields["trait"])
	}
}

func TestParseNemascanRejectsBadInput(t *testing.T) {
	env := newTestEnv()
	cases := map[string]string{
		"three columns":    "strain\ta\tb\nAB1\t1\t2\n",
		"bad first column": "isotype\ta\nAB1\t1\n",
		"duplicate strain": "strain\ta\nAB1\t1\nAB1\t2\n",
		"non numeric":      "strain\ta\nAB1\ttall\n",
		"unnamed trait":    "strain\t\nAB1\t1\n",
	}
	for name, data := range cases {
		_, err := parseNemascan(context.Background(), env.deps, nemascanSubmission(data))
		var formatErr *apperrors.DataFormatError
		if !errors.As(err, &formatErr) {
			t.Errorf("%s: expected DataFormatError, got %v", name, err)
		}
	}
}

func TestNemascanEnvCarriesSubmitter(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	p, err := env.svc.Create(ctx, nemascanSubmission("strain\tbody_length\nAB1\t11.5\nN2\t10.0\n"))
	if err != nil {
		t.Fatal(err)
	}
	vars, err := nemascanEnv(env.deps, p.Report)
	if err != nil {
		t.Fatal(err)
	}
	if vars["USERNAME"] != "jdoe" || vars["EMAIL"] != "jdoe@example.com" {
		t.Errorf("submitter env = %q / %q", vars["USERNAME"], vars["EMAIL"])
	}
}

func TestFetchNemascanOutputFindsReport(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	p, err := env.svc.Create(ctx, nemascanSubmission("strain\tbody_length\nAB1\t11.5\nN2\t10.0\n"))
	if err != nil {
		t.Fatal(err)
	}
	prefix := env.deps.Layout.ReportPrefix(p.Report) + "/" + nemascanResultsInfix
	for _, key := range []string{
		prefix + "/mapping_summary.tsv",
		prefix + "/" + nemascanReportPrefix + "body_length.html",
	} {
		if err := env.blobs.UploadBytes(ctx, env.deps.Layout.PrivateBucket, key, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	out, err := p.FetchOutput(ctx)
	if err != nil {
		t.Fatal(err)
	}
	results, ok := out.(*NemascanResults)
	if !ok {
		t.Fatalf("output type %T", out)
	}
	if len(results.Files) != 2 {
		t.Errorf("files = %v", results.Files)
	}
	if results.ReportKey != prefix+"/"+nemascanReportPrefix+"body_length.html" {
		t.Errorf("report key = %q", results.ReportKey)
	}
}
