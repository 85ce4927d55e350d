package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nemadiversity/pipeline/internal/entity"
	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
	"github.com/nemadiversity/pipeline/internal/pkg/tokens"
)

// Database operations are admin jobs that rebuild tables from published
// dataset files. They are singletons per operation: the operation name is
// the data ID, so re-submitting DROP_AND_POPULATE_STRAINS reuses the same
// provider job.

const databaseOperationQueue = "database-operation"

type DatabaseOperation string

const (
	DbOpDropAndPopulateStrains   DatabaseOperation = "DROP_AND_POPULATE_STRAINS"
	DbOpDropAndPopulateGenes     DatabaseOperation = "DROP_AND_POPULATE_WORMBASE_GENES"
	DbOpDropAndPopulateSVAs      DatabaseOperation = "DROP_AND_POPULATE_STRAIN_ANNOTATED_VARIANTS"
	DbOpDropAndPopulateAllTables DatabaseOperation = "DROP_AND_POPULATE_ALL_TABLES"
	DbOpTestEcho                 DatabaseOperation = "TEST_ECHO"
	DbOpTestMockData             DatabaseOperation = "TEST_MOCK_DATA"
)

var allDatabaseOperations = []DatabaseOperation{
	DbOpDropAndPopulateStrains,
	DbOpDropAndPopulateGenes,
	DbOpDropAndPopulateSVAs,
	DbOpDropAndPopulateAllTables,
	DbOpTestEcho,
	DbOpTestMockData,
}

func (op DatabaseOperation) Valid() bool {
	for _, known := range allDatabaseOperations {
		if op == known {
			return true
		}
	}
	return false
}

func (op DatabaseOperation) test() bool {
	return op == DbOpTestEcho || op == DbOpTestMockData
}

// Dataset files each operation expects to find before it is allowed to run.
// Templates are expanded per species with that species' release versions.
var dbOpRequiredFiles = map[DatabaseOperation][]string{
	DbOpDropAndPopulateGenes: {
		"${SPECIES}/${RELEASE}/gene/${SPECIES}.${RELEASE}.gene_annotations.gff3.gz",
		"${SPECIES}/${RELEASE}/gene/${SPECIES}.${RELEASE}.canonical_geneset.gtf.gz",
		"${SPECIES}/${RELEASE}/gene/${SPECIES}.${RELEASE}.gene_ids.txt.gz",
	},
	DbOpDropAndPopulateSVAs: {
		"${SPECIES}/${SVA}/strain_annotated_variants/${SPECIES}.${SVA}.strain-annotated-variants.csv.gz",
	},
}

func init() {
	requiredAll := append([]string{}, dbOpRequiredFiles[DbOpDropAndPopulateGenes]...)
	requiredAll = append(requiredAll, dbOpRequiredFiles[DbOpDropAndPopulateSVAs]...)
	dbOpRequiredFiles[DbOpDropAndPopulateAllTables] = requiredAll

	register(&Descriptor{
		Kind:        KindDatabaseOperation,
		Queue:       databaseOperationQueue,
		Parse:       parseDatabaseOperation,
		Command:     func(*entity.Report) []string { return nil },
		Environment: databaseOperationEnv,
		RunParams:   databaseOperationRunParams,
	})
}

func parseDatabaseOperation(ctx context.Context, d *Deps, sub *Submission) (*ParseResult, error) {
	opName, _ := sub.Fields["db_operation"].(string)
	op := DatabaseOperation(strings.ToUpper(opName))
	if !op.Valid() {
		return nil, &apperrors.DataFormatError{Msg: fmt.Sprintf("unknown database operation %q", opName)}
	}

	speciesList, err := speciesListFromFields(d, sub.Fields)
	if err != nil {
		return nil, err
	}

	if err := preflightDatabaseOperation(ctx, d, op, speciesList); err != nil {
		return nil, err
	}

	fields := entity.Props{
		"db_operation": string(op),
		"species_list": speciesList,
	}
	if args, ok := sub.Fields["args"].(map[string]any); ok {
		fields["args"] = args
	}

	// The operation name is the cache identity; there is no uploaded data.
	return &ParseResult{DataID: string(op), Fields: fields}, nil
}

func speciesListFromFields(d *Deps, fields entity.Props) ([]string, error) {
	raw, ok := fields["species_list"]
	if !ok || raw == nil {
		names := d.Species.Names()
		sort.Strings(names)
		return names, nil
	}

	var list []string
	switch v := raw.(type) {
	case []string:
		list = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &apperrors.DataFormatError{Msg: "species_list must contain strings"}
			}
			list = append(list, s)
		}
	default:
		return nil, &apperrors.DataFormatError{Msg: "species_list must be a list"}
	}

	for _, name := range list {
		if _, err := d.Species.Get(name); err != nil {
			return nil, &apperrors.DataFormatError{Msg: err.Error()}
		}
	}
	sort.Strings(list)
	return list, nil
}

// preflightDatabaseOperation verifies every dataset file the operation reads
// is present, checking all files concurrently and reporting the full list of
// missing ones at once.
func preflightDatabaseOperation(ctx context.Context, d *Deps, op DatabaseOperation, speciesList []string) error {
	required := dbOpRequiredFiles[op]
	if op.test() || len(required) == 0 {
		return nil
	}

	var mu sync.Mutex
	var missing []string
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, name := range speciesList {
		species, err := d.Species.Get(name)
		if err != nil {
			return err
		}
		vars := map[string]string{
			"SPECIES": species.Name,
			"RELEASE": species.ReleaseLatest,
			"SVA":     species.ReleaseSVA,
		}
		for _, template := range required {
			key, err := tokens.ReplaceAll(template, vars)
			if err != nil {
				return err
			}
			g.Go(func() error {
				if !d.Blobs.Exists(gctx, d.Layout.DataBucket, key) {
					mu.Lock()
					missing = append(missing, key)
					mu.Unlock()
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &apperrors.PreflightCheckError{MissingFiles: missing}
	}
	return nil
}

func databaseOperationEnv(d *Deps, r *entity.Report) (map[string]string, error) {
	env := d.baseEnv()
	env["DATABASE_OPERATION"] = r.GetString("db_operation")
	env["USERNAME"] = r.Owner
	env["EMAIL"] = r.OwnerEmail
	env["OPERATION_ID"] = r.ID

	if list, ok := r.Fields["species_list"].([]string); ok {
		env["SPECIES_LIST"] = strings.Join(list, ";")
	} else if list, ok := r.Fields["species_list"].([]any); ok {
		names := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
		env["SPECIES_LIST"] = strings.Join(names, ";")
	}

	if args, ok := r.Fields["args"].(map[string]any); ok {
		for k, v := range args {
			env[strings.ToUpper(k)] = fmt.Sprint(v)
		}
	}
	return env, nil
}

func databaseOperationRunParams(r *entity.Report) RunParams {
	if DatabaseOperation(r.GetString("db_operation")) == DbOpTestEcho {
		return DefaultRunParams()
	}
	return RunParams{
		TimeoutSeconds: 86400,
		CPU:            "8",
		Memory:         "32Gi",
		TaskCount:      1,
		MaxRetries:     1,
	}
}
