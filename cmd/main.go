package main

import (
	"fmt"
	"os"

	"github.com/nemadiversity/pipeline/internal/app"
	"github.com/nemadiversity/pipeline/internal/clients/gcp"
	"github.com/nemadiversity/pipeline/internal/entity"
	"github.com/nemadiversity/pipeline/internal/handlers"
	"github.com/nemadiversity/pipeline/internal/listener"
	"github.com/nemadiversity/pipeline/internal/notify"
	"github.com/nemadiversity/pipeline/internal/pipeline"
	"github.com/nemadiversity/pipeline/internal/pkg/envutil"
	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

func main() {
	// Logger
	log, err := logger.New(envutil.Get("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Error("Could not load config", "error", err)
		os.Exit(1)
	}

	// GCP clients
	log.Info("Setting up GCP clients from main...")
	blobs, err := gcp.NewStorageService(log)
	if err != nil {
		log.Error("Could not init StorageService", "error", err)
		os.Exit(1)
	}
	docs, err := gcp.NewDocumentService(log, cfg.ProjectID)
	if err != nil {
		log.Error("Could not init DocumentService", "error", err)
		os.Exit(1)
	}
	queue, err := gcp.NewQueueService(log, cfg.ProjectID, cfg.Region)
	if err != nil {
		log.Error("Could not init QueueService", "error", err)
		os.Exit(1)
	}
	publish, err := gcp.NewPublishService(log, cfg.ProjectID)
	if err != nil {
		log.Error("Could not init PublishService", "error", err)
		os.Exit(1)
	}
	cloudRunSvc, err := gcp.NewCloudRunService(log, cfg.ProjectID, cfg.Region)
	if err != nil {
		log.Error("Could not init CloudRunService", "error", err)
		os.Exit(1)
	}
	lifesciencesSvc, err := gcp.NewLifesciencesService(log)
	if err != nil {
		log.Error("Could not init LifesciencesService", "error", err)
		os.Exit(1)
	}

	// Stores
	log.Info("Setting up stores from main...")
	reports := entity.NewReportStore(log, docs)
	execs := entity.NewExecutionStore(log, docs)
	users := entity.NewUserStore(log, docs)
	strains := entity.NewStrainStore(log, docs)

	// Services
	log.Info("Setting up services from main...")
	cloudRun := pipeline.NewCloudRunRunner(log, cloudRunSvc)
	lifesciences := pipeline.NewLifesciencesRunner(log, lifesciencesSvc)

	svc := pipeline.NewService(&pipeline.Deps{
		Log:          log,
		Blobs:        blobs,
		Reports:      reports,
		Execs:        execs,
		Users:        users,
		Strains:      strains,
		Queue:        queue,
		Publish:      publish,
		CloudRun:     cloudRun,
		Lifesciences: lifesciences,
		Layout:       cfg.Layout(),
		Species:      entity.NewSpeciesRegistry(),
		Containers:   cfg.ContainerRegistry(),
		Config:       cfg.PipelineConfig(),
	})

	var notifier notify.Notifier
	mailer, err := notify.NewSendGridMailer(log, notify.ConfigFromEnv())
	if err != nil {
		log.Warn("Could not init SendGrid mailer, job emails disabled", "error", err)
	} else {
		notifier = notify.NewEmailNotifier(log, mailer, cfg.SiteURL)
	}

	statusListener := listener.New(log, reports, execs, cloudRun, lifesciences, notifier)

	// Handlers
	log.Info("Setting up handlers from main...")
	taskHandler := handlers.NewTaskHandler(log, svc)
	statusHandler := handlers.NewStatusHandler(log, statusListener)
	reportHandler := handlers.NewReportHandler(log, svc, reports, blobs, cfg.Layout())

	// Router
	log.Info("Setting up router from main...")
	router := app.NewRouter(app.RouterConfig{
		TaskHandler:   taskHandler,
		StatusHandler: statusHandler,
		ReportHandler: reportHandler,
	})

	log.Info("Server listening", "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
