package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/threshold-orchestrator/internal/aggregation"
	"github.com/yungbote/threshold-orchestrator/internal/domain"
	"github.com/yungbote/threshold-orchestrator/internal/http/response"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

// Operation is the orchestrator surface exposed over HTTP; *aggregation.Orchestrator
// implements it.
type Operation interface {
	Config() aggregation.Config
	Request(ctx context.Context, trackingID string, payload []byte) ([][]byte, error)
	Submit(ctx context.Context, trackingID, key string, payload []byte) (uuid.UUID, error)
	Status(ctx context.Context, key string) (domain.ComputationStatus, error)
	Result(ctx context.Context, key string) ([][]byte, error)
}

type OperationHandler struct {
	log *logger.Logger
	ops map[domain.OperationType]Operation
}

func NewOperationHandler(log *logger.Logger, ops map[domain.OperationType]Operation) *OperationHandler {
	return &OperationHandler{log: log.With("handler", "OperationHandler"), ops: ops}
}

type requestBody struct {
	TrackingID string `json:"tracking_id"`
	Payload    []byte `json:"payload" binding:"required"`
}

type submissionBody struct {
	TrackingID string `json:"tracking_id"`
	Key        string `json:"key" binding:"required"`
	Payload    []byte `json:"payload" binding:"required"`
}

// POST /v1/operations/:operation/requests
func (h *OperationHandler) Request(c *gin.Context) {
	op, opName, ok := h.lookup(c)
	if !ok {
		return
	}
	if op.Config().Async {
		response.RespondError(c, http.StatusMethodNotAllowed, "asynchronous_operation",
			fmt.Errorf("%s is asynchronous, POST a submission instead", opName))
		return
	}
	var body requestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	partials, err := op.Request(c.Request.Context(), body.TrackingID, body.Payload)
	if err != nil {
		h.log.Warn("request failed", "operation", opName, "tracking_id", body.TrackingID, "error", err)
		response.RespondAPIError(c, toAPIError(err))
		return
	}
	response.RespondOK(c, gin.H{
		"operation":     opName,
		"contributions": partials,
	})
}

// POST /v1/operations/:operation/submissions
func (h *OperationHandler) Submit(c *gin.Context) {
	op, opName, ok := h.lookup(c)
	if !ok {
		return
	}
	if !op.Config().Async {
		response.RespondError(c, http.StatusMethodNotAllowed, "synchronous_operation",
			fmt.Errorf("%s is synchronous, POST a request instead", opName))
		return
	}
	var body submissionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	key := strings.TrimSpace(body.Key)
	if key == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("key required"))
		return
	}

	id, err := op.Submit(c.Request.Context(), body.TrackingID, key, body.Payload)
	if err != nil {
		h.log.Warn("submission failed", "operation", opName, "key", key, "error", err)
		response.RespondAPIError(c, toAPIError(err))
		return
	}
	response.RespondAccepted(c, gin.H{
		"operation":      opName,
		"key":            key,
		"correlation_id": id,
		"status":         domain.StatusComputing,
	})
}

// GET /v1/operations/:operation/submissions/:key
func (h *OperationHandler) GetSubmission(c *gin.Context) {
	op, opName, ok := h.lookup(c)
	if !ok {
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	ctx := c.Request.Context()

	status, err := op.Status(ctx, key)
	if err != nil {
		response.RespondAPIError(c, toAPIError(err))
		return
	}
	if status != domain.StatusComputed {
		response.RespondAccepted(c, gin.H{"operation": opName, "key": key, "status": status})
		return
	}
	partials, err := op.Result(ctx, key)
	if errors.Is(err, aggregation.ErrStillComputing) {
		response.RespondAccepted(c, gin.H{"operation": opName, "key": key, "status": domain.StatusComputing})
		return
	}
	if err != nil {
		response.RespondAPIError(c, toAPIError(err))
		return
	}
	response.RespondOK(c, gin.H{
		"operation":     opName,
		"key":           key,
		"status":        domain.StatusComputed,
		"contributions": partials,
	})
}

func (h *OperationHandler) lookup(c *gin.Context) (Operation, domain.OperationType, bool) {
	raw := c.Param("operation")
	opType, ok := domain.ParseOperation(raw)
	if !ok {
		response.RespondError(c, http.StatusNotFound, "unknown_operation", fmt.Errorf("unknown operation %q", raw))
		return nil, "", false
	}
	op, ok := h.ops[opType]
	if !ok || op == nil {
		response.RespondError(c, http.StatusNotFound, "operation_disabled", fmt.Errorf("operation %s is not configured", opType))
		return nil, "", false
	}
	return op, opType, true
}
