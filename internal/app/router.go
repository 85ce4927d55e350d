package app

import (
	"github.com/gin-gonic/gin"

	"github.com/nemadiversity/pipeline/internal/handlers"
)

type RouterConfig struct {
	TaskHandler   *handlers.TaskHandler
	StatusHandler *handlers.StatusHandler
	ReportHandler *handlers.ReportHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthcheck", handlers.HealthCheck)

	// queue and push endpoints, called by Cloud Tasks and Pub/Sub
	router.POST("/task/start/:queue", cfg.TaskHandler.StartTask)
	router.POST("/status", cfg.StatusHandler.HandleStatus)

	api := router.Group("/api")
	{
		api.POST("/report/:kind", cfg.ReportHandler.Submit)
		api.GET("/report/:kind", cfg.ReportHandler.List)
		api.GET("/report/:kind/:id", cfg.ReportHandler.Get)
		api.GET("/report/:kind/:id/results", cfg.ReportHandler.Results)
		api.GET("/report/:kind/:id/download/:file", cfg.ReportHandler.Download)
		api.POST("/report/:kind/:id/rerun", cfg.ReportHandler.Rerun)
		api.POST("/report/:kind/:id/cancel", cfg.ReportHandler.Cancel)
	}

	return router
}
