package pipeline

import (
	"github.com/nemadiversity/pipeline/internal/clients/gcp"
	"github.com/nemadiversity/pipeline/internal/entity"
)

// baseEnv carries the GCP identity every job container expects.
func (d *Deps) baseEnv() map[string]string {
	return map[string]string{
		"GOOGLE_SERVICE_ACCOUNT_EMAIL": d.Config.ServiceAccountEmail(),
		"GOOGLE_PROJECT":               d.Config.ProjectID,
		"GOOGLE_ZONE":                  d.Config.Zone,
	}
}

// dataJobEnv adds the directory layout data-crunching jobs read: their input
// file, a scratch directory keyed by data ID, the dataset bucket, and where
// to write results.
func (d *Deps) dataJobEnv(r *entity.Report, inputFile string) map[string]string {
	env := d.baseEnv()
	env["TRAIT_FILE"] = gcp.BlobURI(d.Layout.PrivateBucket, d.Layout.InputKey(r, inputFile))
	env["WORK_DIR"] = d.Layout.WorkURI(r)
	env["DATA_DIR"] = gcp.BlobURI(d.Layout.DataBucket)
	env["OUTPUT_DIR"] = gcp.BlobURI(d.Layout.PrivateBucket, d.Layout.ReportPrefix(r))
	return env
}
