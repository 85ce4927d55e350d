package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nemadiversity/pipeline/internal/pipeline"
	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

// Cloud Tasks stamps these headers on every delivery; requests without them
// did not come through the queue.
const (
	headerTaskName  = "X-CloudTasks-TaskName"
	headerQueueName = "X-CloudTasks-QueueName"
)

type TaskHandler struct {
	log *logger.Logger
	svc *pipeline.Service
}

func NewTaskHandler(log *logger.Logger, svc *pipeline.Service) *TaskHandler {
	return &TaskHandler{log: log.With("handler", "TaskHandler"), svc: svc}
}

// StartTask runs one queued job. The route parameter must match the queue
// the task was delivered from, so a payload cannot be replayed against a
// different queue's endpoint.
func (h *TaskHandler) StartTask(c *gin.Context) {
	queue := c.Param("queue")
	taskName := c.GetHeader(headerTaskName)
	queueName := c.GetHeader(headerQueueName)

	if taskName == "" || queueName == "" {
		RespondError(c, http.StatusForbidden, "forbidden",
			fmt.Errorf("request did not come from the task queue"))
		return
	}
	if queueName != queue {
		RespondError(c, http.StatusForbidden, "forbidden",
			fmt.Errorf("task from queue %q delivered to endpoint %q", queueName, queue))
		return
	}

	var task pipeline.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_payload", err)
		return
	}
	if task.ID == "" || task.Kind == "" {
		RespondError(c, http.StatusBadRequest, "invalid_payload",
			fmt.Errorf("task payload missing id or kind"))
		return
	}

	h.log.Info("starting queued job", "queue", queue, "kind", task.Kind, "id", task.ID, "task", taskName)

	p, err := h.svc.Lookup(c.Request.Context(), task.Kind, task.ID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	// Database operations reuse one provider job per operation name, so an
	// existing declaration is expected there.
	runIfExists := task.Kind == pipeline.KindDatabaseOperation
	if err := p.Run(c.Request.Context(), runIfExists); err != nil {
		// Non-2xx makes Cloud Tasks redeliver; the report is already
		// marked ERROR so a retry that keeps failing stays visible.
		RespondError(c, http.StatusInternalServerError, "run_failed", err)
		return
	}

	RespondOK(c, gin.H{
		"id":        task.ID,
		"kind":      task.Kind,
		"operation": p.Report.OperationName,
	})
}
