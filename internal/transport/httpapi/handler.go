// Package httpapi exposes the orchestrator over HTTP.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/buildcache"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/ports"
)

// base64 inflates the archive by 4/3; the rest of the envelope is small.
const envelopeOverheadBytes = 64 * 1024

// ImageStatus reports the shared image build state.
type ImageStatus interface {
	Snapshot() buildcache.Snapshot
}

// Handler serves submission and health endpoints.
type Handler struct {
	processor       ports.SubmissionProcessor
	images          ImageStatus
	maxArchiveBytes int64
	logger          *zap.Logger
}

// NewHandler constructs a Handler. maxArchiveBytes <= 0 disables the size cap.
func NewHandler(processor ports.SubmissionProcessor, images ImageStatus, maxArchiveBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		processor:       processor,
		images:          images,
		maxArchiveBytes: maxArchiveBytes,
		logger:          logger,
	}
}

type extractionResponse struct {
	Outcome submission.ExtractionOutcome `json:"outcome"`
	Reason  string                       `json:"reason,omitempty"`
	Files   int                          `json:"files"`
}

type submissionResponse struct {
	SubmissionID string             `json:"submission_id"`
	Status       submission.Status  `json:"status"`
	ExitCode     int64              `json:"exit_code"`
	TimedOut     bool               `json:"timed_out"`
	Extraction   extractionResponse `json:"extraction"`
}

// SubmitSubmission processes one pushed submission synchronously.
func (h *Handler) SubmitSubmission(c *gin.Context) {
	if h.maxArchiveBytes > 0 {
		limit := h.maxArchiveBytes/3*4 + 4 + envelopeOverheadBytes
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	var payload pushPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large", "kind": submission.KindValidation})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": submission.KindValidation})
		return
	}

	req, err := payload.toRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": submission.KindValidation})
		return
	}
	if h.maxArchiveBytes > 0 && int64(len(req.Archive)) > h.maxArchiveBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "archive exceeds size limit", "kind": submission.KindValidation})
		return
	}

	h.logger.Info("submission pushed",
		zap.String("submission_id", req.SubmissionID),
		zap.String("message_id", payload.Message.MessageID),
		zap.String("subscription", payload.Subscription))

	outcome, err := h.processor.Process(c.Request.Context(), req)
	if err != nil {
		kind := submission.KindOf(err)
		status := http.StatusInternalServerError
		switch kind {
		case submission.KindValidation:
			status = http.StatusBadRequest
		case submission.KindCanceled:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
		return
	}

	resp := submissionResponse{
		SubmissionID: outcome.SubmissionID,
		Status:       outcome.Status,
		ExitCode:     submission.ExitCodeUnknown,
		Extraction: extractionResponse{
			Outcome: outcome.Extraction.Outcome,
			Reason:  outcome.Extraction.Reason,
			Files:   outcome.Extraction.Files,
		},
	}
	if outcome.Execution != nil {
		resp.ExitCode = outcome.Execution.ExitCode
		resp.TimedOut = outcome.Execution.TimedOut
	}
	c.JSON(http.StatusOK, resp)
}

// Health reports liveness and the image build state.
func (h *Handler) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.images != nil {
		snapshot := h.images.Snapshot()
		body["image"] = snapshot.State
		if snapshot.Err != nil {
			body["image_error"] = snapshot.Err.Error()
		}
	}
	c.JSON(http.StatusOK, body)
}
