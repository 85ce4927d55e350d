package app

import (
	"fmt"

	"github.com/nemadiversity/pipeline/internal/entity"
	"github.com/nemadiversity/pipeline/internal/pipeline"
	"github.com/nemadiversity/pipeline/internal/pkg/envutil"
)

type ContainerConfig struct {
	Name string
	Tag  string
}

type Config struct {
	LogMode string
	Port    string

	ProjectID          string
	ProjectNumber      string
	Region             string
	Zone               string
	ServiceAccountName string
	PubSubTopic        string
	TaskHandlerBaseURL string
	SiteURL            string

	PrivateBucket string
	WorkBucket    string
	DataBucket    string

	ContainerRepo string
	Containers    map[string]ContainerConfig
}

// LoadConfig reads deployment settings from the environment. Cloud and
// bucket identifiers are required; container tags default to latest so a
// fresh environment can start without pinning every image.
func LoadConfig() (Config, error) {
	cfg := Config{
		LogMode: envutil.Get("LOG_MODE", "development"),
		Port:    envutil.Get("PORT", "8080"),

		SiteURL:       envutil.Get("MODULE_SITE_URL", ""),
		ContainerRepo: envutil.Get("MODULE_IMG_REPO", ""),
		Containers:    map[string]ContainerConfig{},
	}

	required := []struct {
		env string
		dst *string
	}{
		{"GOOGLE_CLOUD_PROJECT_ID", &cfg.ProjectID},
		{"GOOGLE_CLOUD_PROJECT_NUMBER", &cfg.ProjectNumber},
		{"GOOGLE_CLOUD_REGION", &cfg.Region},
		{"GOOGLE_CLOUD_ZONE", &cfg.Zone},
		{"MODULE_API_PIPELINE_TASK_SERVICE_ACCOUNT_NAME", &cfg.ServiceAccountName},
		{"MODULE_API_PIPELINE_TASK_PUB_SUB_TOPIC_NAME", &cfg.PubSubTopic},
		{"MODULE_API_PIPELINE_TASK_URL_NAME", &cfg.TaskHandlerBaseURL},
		{"MODULE_API_PIPELINE_TASK_WORK_BUCKET_NAME", &cfg.WorkBucket},
		{"MODULE_API_PIPELINE_TASK_DATA_BUCKET_NAME", &cfg.DataBucket},
		{"MODULE_SITE_BUCKET_PRIVATE_NAME", &cfg.PrivateBucket},
	}
	for _, r := range required {
		v, err := envutil.MustGet(r.env)
		if err != nil {
			return Config{}, err
		}
		*r.dst = v
	}
	if cfg.ContainerRepo == "" {
		return Config{}, fmt.Errorf("missing env var MODULE_IMG_REPO")
	}

	for kind, env := range map[string]struct{ name, defaultName string }{
		pipeline.KindIndelPrimer:       {"INDEL_PRIMER", "indel-primer"},
		pipeline.KindHeritability:      {"HERITABILITY", "heritability"},
		pipeline.KindNemascanMapping:   {"NEMASCAN_NXF", "nemascan-nxf"},
		pipeline.KindDatabaseOperation: {"DB_OPERATIONS", "db-operations"},
		pipeline.KindPhenotypeReport:   {"PHENOTYPE", "phenotype"},
	} {
		cfg.Containers[kind] = ContainerConfig{
			Name: envutil.Get(env.name+"_CONTAINER_NAME", env.defaultName),
			Tag:  envutil.Get(env.name+"_CONTAINER_VERSION", "latest"),
		}
	}

	return cfg, nil
}

func (c Config) Layout() entity.Layout {
	return entity.Layout{
		PrivateBucket: c.PrivateBucket,
		WorkBucket:    c.WorkBucket,
		DataBucket:    c.DataBucket,
	}
}

func (c Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		ProjectID:          c.ProjectID,
		ProjectNumber:      c.ProjectNumber,
		Region:             c.Region,
		Zone:               c.Zone,
		ServiceAccountName: c.ServiceAccountName,
		PubSubTopic:        c.PubSubTopic,
		TaskHandlerBaseURL: c.TaskHandlerBaseURL,
	}
}

func (c Config) ContainerRegistry() *entity.ContainerRegistry {
	registry := entity.NewContainerRegistry(c.ContainerRepo)
	for kind, container := range c.Containers {
		registry.Register(kind, container.Name, container.Tag)
	}
	return registry
}
