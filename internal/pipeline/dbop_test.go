package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/nemadiversity/pipeline/internal/entity"
	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
)

func dbOpSubmission(op DatabaseOperation, species ...string) *Submission {
	fields := entity.Props{"db_operation": string(op)}
	if len(species) > 0 {
		fields["species_list"] = species
	}
	return &Submission{
		Kind:   KindDatabaseOperation,
		Owner:  "admin",
		Email:  "admin@example.com",
		Fields: fields,
	}
}

func TestParseDatabaseOperationTestEcho(t *testing.T) {
	env := newTestEnv()
	parsed, err := parseDatabaseOperation(context.Background(), env.deps, dbOpSubmission(DbOpTestEcho))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.DataID != string(DbOpTestEcho) {
		t.Errorf("data id = %q, want the operation name", parsed.DataID)
	}
	if len(parsed.Files) != 0 {
		t.Errorf("test op uploaded files: %+v", parsed.Files)
	}
}

func TestParseDatabaseOperationRejectsUnknownOp(t *testing.T) {
	env := newTestEnv()
	_, err := parseDatabaseOperation(context.Background(), env.deps,
		dbOpSubmission(DatabaseOperation("DROP_EVERYTHING")))
	var formatErr *apperrors.DataFormatError
	if !errors.As(err, &formatErr) {
		t.Errorf("expected DataFormatError, got %v", err)
	}
}

func TestPreflightReportsAllMissingFiles(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := parseDatabaseOperation(ctx, env.deps,
		dbOpSubmission(DbOpDropAndPopulateGenes, "c_elegans"))
	var preflight *apperrors.PreflightCheckError
	if !errors.As(err, &preflight) {
		t.Fatalf("expected PreflightCheckError, got %v", err)
	}
	if len(preflight.MissingFiles) != len(dbOpRequiredFiles[DbOpDropAndPopulateGenes]) {
		t.Errorf("missing files = %v", preflight.MissingFiles)
	}
}

func TestPreflightPassesWhenFilesPresent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	for _, key := range []string{
		"c_elegans/20231213/gene/c_elegans.20231213.gene_annotations.gff3.gz",
		"c_elegans/20231213/gene/c_elegans.20231213.canonical_geneset.gtf.gz",
		"c_elegans/20231213/gene/c_elegans.20231213.gene_ids.txt.gz",
	} {
		if err := env.blobs.UploadBytes(ctx, env.deps.Layout.DataBucket, key, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	parsed, err := parseDatabaseOperation(ctx, env.deps,
		dbOpSubmission(DbOpDropAndPopulateGenes, "c_elegans"))
	if err != nil {
		t.Fatal(err)
	}
	if list, ok := parsed.Fields["species_list"].([]string); !ok || len(list) != 1 || list[0] != "c_elegans" {
		t.Errorf("species_list = %v", parsed.Fields["species_list"])
	}
}

func TestDatabaseOperationEnv(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	p, err := env.svc.Create(ctx, dbOpSubmission(DbOpTestEcho, "c_elegans", "c_briggsae"))
	if err != nil {
		t.Fatal(err)
	}
	vars, err := databaseOperationEnv(env.deps, p.Report)
	if err != nil {
		t.Fatal(err)
	}
	if vars["DATABASE_OPERATION"] != string(DbOpTestEcho) {
		t.Errorf("DATABASE_OPERATION = %q", vars["DATABASE_OPERATION"])
	}
	if vars["SPECIES_LIST"] != "c_briggsae;c_elegans" {
		t.Errorf("SPECIES_LIST = %q", vars["SPECIES_LIST"])
	}
	if vars["OPERATION_ID"] != p.Report.ID || vars["USERNAME"] != "admin" {
		t.Errorf("identity env = %v", vars)
	}
}

func TestDatabaseOperationRunParams(t *testing.T) {
	echo := &entity.Report{Fields: entity.Props{"db_operation": string(DbOpTestEcho)}}
	if p := databaseOperationRunParams(echo); p.TimeoutSeconds != 600 || p.Memory != "512Mi" {
		t.Errorf("test echo params = %+v", p)
	}
	heavy := &entity.Report{Fields: entity.Props{"db_operation": string(DbOpDropAndPopulateAllTables)}}
	if p := databaseOperationRunParams(heavy); p.TimeoutSeconds != 86400 || p.Memory != "32Gi" || p.CPU != "8" {
		t.Errorf("heavy params = %+v", p)
	}
}

func TestDatabaseOperationIsSingletonPerOperation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	p1, err := env.svc.Create(ctx, dbOpSubmission(DbOpTestEcho))
	if err != nil {
		t.Fatal(err)
	}

	// same op by the same admin is a duplicate while the first is live
	_, err = env.svc.Create(ctx, dbOpSubmission(DbOpTestEcho))
	var dup *apperrors.DuplicateDataError
	if !errors.As(err, &dup) {
		t.Errorf("expected DuplicateDataError, got %v", err)
	}

	if JobName(p1.Report.Kind, p1.Report.DataID) != "database-operation-test-echo" {
		t.Errorf("job name = %q", JobName(p1.Report.Kind, p1.Report.DataID))
	}
}
