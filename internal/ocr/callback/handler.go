// Package callback exposes the inbound webhook the external LLM validator
// POSTs a verdict back to, resuming the job suspended under a correlation
// id.
package callback

import (
	"context"
	"errors"
	"net/http"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/envelope"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/ocrerr"
	"github.com/alexberardi/jarvis-ocr-service/pkg/common"
	"github.com/alexberardi/jarvis-ocr-service/pkg/logger"
	"github.com/alexberardi/jarvis-ocr-service/pkg/middleware"
	"github.com/alexberardi/jarvis-ocr-service/pkg/validation"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Resumer resumes the job suspended under a correlation id. pipeline.Driver
// satisfies this via its HandleCallback method.
type Resumer interface {
	HandleCallback(ctx context.Context, correlationID string, verdict envelope.ValidatorVerdict) (bool, error)
}

// Handler handles the validator's asynchronous callback.
type Handler struct {
	resumer Resumer
}

func NewHandler(resumer Resumer) *Handler {
	return &Handler{resumer: resumer}
}

// HandleValidationCallback resumes the job suspended under the request's
// correlation id.
// POST /internal/validation/callback
func (h *Handler) HandleValidationCallback(c *gin.Context) {
	var req envelope.CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid callback payload")
		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid callback payload: "+err.Error())
		return
	}

	resumed, err := h.resumer.HandleCallback(c.Request.Context(), req.CorrelationID, req.Verdict)
	if err != nil {
		logger.Get().Error("validation callback resume failed",
			zap.String("correlation_id", req.CorrelationID),
			zap.Error(err),
		)

		var oerr *ocrerr.Error
		if errors.As(err, &oerr) {
			common.ErrorResponse(c, http.StatusInternalServerError, oerr.Message)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to resume job")
		return
	}

	if !resumed {
		common.ErrorResponse(c, http.StatusNotFound, "no pending validation found for correlation id")
		return
	}

	common.SuccessResponse(c, gin.H{"status": "resumed"})
}

// RegisterRoutes mounts the callback endpoint behind shared-secret auth.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	internal := r.Group("/internal")
	internal.Use(middleware.InternalAPIKey())
	{
		internal.POST("/validation/callback", h.HandleValidationCallback)
	}
}
