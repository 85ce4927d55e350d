package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nemadiversity/pipeline/internal/clients/gcp"
	"github.com/nemadiversity/pipeline/internal/entity"
	"github.com/nemadiversity/pipeline/internal/pipeline"
	apperrors "github.com/nemadiversity/pipeline/internal/pkg/errors"
	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

const downloadURLExpiry = 15 * time.Minute

type ReportHandler struct {
	log     *logger.Logger
	svc     *pipeline.Service
	reports entity.ReportStore
	blobs   gcp.StorageService
	layout  entity.Layout
}

func NewReportHandler(
	log *logger.Logger,
	svc *pipeline.Service,
	reports entity.ReportStore,
	blobs gcp.StorageService,
	layout entity.Layout,
) *ReportHandler {
	return &ReportHandler{
		log:     log.With("handler", "ReportHandler"),
		svc:     svc,
		reports: reports,
		blobs:   blobs,
		layout:  layout,
	}
}

type submitRequest struct {
	Username         string         `json:"username" binding:"required"`
	Email            string         `json:"email"`
	Data             string         `json:"data"`
	Fields           map[string]any `json:"fields"`
	ContainerVersion string         `json:"container_version"`
	NoCache          bool           `json:"no_cache"`
}

type reportView struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	DataHash  string         `json:"data_hash"`
	Status    string         `json:"status"`
	Username  string         `json:"username"`
	Container string         `json:"container"`
	Cached    bool           `json:"cached,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedOn time.Time      `json:"created_on,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

func viewOf(r *entity.Report) reportView {
	return reportView{
		ID:        r.ID,
		Kind:      r.Kind,
		DataHash:  r.DataID,
		Status:    string(r.Status),
		Username:  r.Owner,
		Container: r.Container.URI(),
		Error:     r.ErrorMessage,
		CreatedOn: r.CreatedOn,
		Fields:    r.Fields,
	}
}

// Submit creates a report and, for schedulable kinds, queues it in one call.
func (h *ReportHandler) Submit(c *gin.Context) {
	kind := c.Param("kind")

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_payload", err)
		return
	}

	ctx := c.Request.Context()
	p, err := h.svc.Create(ctx, &pipeline.Submission{
		Kind:             kind,
		Owner:            req.Username,
		Email:            req.Email,
		Data:             []byte(req.Data),
		Fields:           req.Fields,
		ContainerVersion: req.ContainerVersion,
		NoCache:          req.NoCache,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	view := viewOf(p.Report)
	if !p.Report.Status.Finished() {
		err = p.Schedule(ctx, pipeline.ScheduleOptions{NoCache: req.NoCache})
		var cached *apperrors.CachedDataError
		var unsched *apperrors.UnschedulableJobTypeError
		switch {
		case err == nil:
		case errors.As(err, &cached):
			view.Cached = true
		case errors.As(err, &unsched):
			// kinds without a task finish on their own
		default:
			RespondDomainError(c, err)
			return
		}
		view.Status = string(p.Report.Status)
	}

	c.JSON(http.StatusCreated, view)
}

func (h *ReportHandler) Get(c *gin.Context) {
	p, err := h.svc.Lookup(c.Request.Context(), c.Param("kind"), c.Param("id"))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, viewOf(p.Report))
}

// List returns a user's reports of one kind, newest first.
func (h *ReportHandler) List(c *gin.Context) {
	username := c.Query("username")
	if username == "" {
		RespondError(c, http.StatusBadRequest, "invalid_payload",
			fmt.Errorf("username query parameter required"))
		return
	}
	reports, err := h.reports.FindByOwner(c.Request.Context(), c.Param("kind"), username)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	views := make([]reportView, 0, len(reports))
	for _, r := range reports {
		views = append(views, viewOf(r))
	}
	RespondOK(c, views)
}

// Results refreshes the status from the provider if still open and returns
// the kind-specific result payload.
func (h *ReportHandler) Results(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.svc.Lookup(ctx, c.Param("kind"), c.Param("id"))
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	done, err := p.IsFinished(ctx)
	if err != nil {
		h.log.Warn("status lookup failed, serving stored status",
			"kind", p.Report.Kind, "id", p.Report.ID, "error", err)
	}

	output, err := p.FetchOutput(ctx)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"report":   viewOf(p.Report),
		"finished": done,
		"results":  output,
	})
}

// Download signs a short-lived URL for one of the report's files.
func (h *ReportHandler) Download(c *gin.Context) {
	p, err := h.svc.Lookup(c.Request.Context(), c.Param("kind"), c.Param("id"))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	filename := c.Param("file")
	key := h.layout.OutputKey(p.Report, filename)
	if !h.blobs.Exists(c.Request.Context(), h.layout.PrivateBucket, key) {
		RespondError(c, http.StatusNotFound, "not_found",
			fmt.Errorf("file %q not found for report %s", filename, p.Report.ID))
		return
	}
	url, err := h.blobs.SignedDownloadURL(h.layout.PrivateBucket, key, downloadURLExpiry)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"url": url, "expires_in": int(downloadURLExpiry.Seconds())})
}

// Rerun forces a fresh computation of an existing report.
func (h *ReportHandler) Rerun(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.svc.Lookup(ctx, c.Param("kind"), c.Param("id"))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	if err := p.Schedule(ctx, pipeline.ScheduleOptions{Force: true, NoCache: true}); err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, viewOf(p.Report))
}

// Cancel stops the report's execution, best effort.
func (h *ReportHandler) Cancel(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.svc.Lookup(ctx, c.Param("kind"), c.Param("id"))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	if err := p.Cancel(ctx); err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, viewOf(p.Report))
}
