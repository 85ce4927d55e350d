package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nemadiversity/pipeline/internal/listener"
	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

// pushEnvelope is the Pub/Sub push delivery wrapper. Message data arrives
// base64 encoded, which encoding/json undoes for []byte fields.
type pushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type StatusHandler struct {
	log      *logger.Logger
	listener *listener.Listener
}

func NewStatusHandler(log *logger.Logger, l *listener.Listener) *StatusHandler {
	return &StatusHandler{log: log.With("handler", "StatusHandler"), listener: l}
}

// HandleStatus processes one pushed status notification. A 2xx acknowledges
// the message; anything else makes Pub/Sub redeliver it.
func (h *StatusHandler) HandleStatus(c *gin.Context) {
	var envelope pushEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		// Malformed push bodies would redeliver forever; acknowledge and log.
		h.log.Error("dropping malformed push envelope", "error", err)
		c.Status(http.StatusOK)
		return
	}

	operation := envelope.Message.Attributes["operation"]
	if operation == "" {
		var body struct {
			Operation string `json:"operation"`
		}
		if err := json.Unmarshal(envelope.Message.Data, &body); err == nil {
			operation = body.Operation
		}
	}
	if operation == "" {
		h.log.Warn("status message carries no operation", "message_id", envelope.Message.MessageID)
		c.Status(http.StatusOK)
		return
	}

	outcome, err := h.listener.Handle(c.Request.Context(), operation)
	if outcome == listener.Ack {
		c.Status(http.StatusOK)
		return
	}
	if err == nil {
		err = fmt.Errorf("execution not finished")
	}
	RespondError(c, http.StatusInternalServerError, "not_done", err)
}
