package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/yungbote/threshold-orchestrator/internal/aggregation"
	"github.com/yungbote/threshold-orchestrator/internal/platform/apierr"
)

// toAPIError classifies orchestration failures for the HTTP surface.
func toAPIError(err error) *apierr.Error {
	var te *aggregation.TransportError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, aggregation.ErrAggregationTimeout):
		return apierr.New(http.StatusGatewayTimeout, "aggregation_timeout", err)
	case errors.As(err, &te):
		return apierr.New(http.StatusBadGateway, "transport_error", err).Retryable(time.Second)
	case errors.Is(err, aggregation.ErrDuplicateEntry):
		return apierr.New(http.StatusConflict, "duplicate_entry", err)
	case errors.Is(err, aggregation.ErrNotFound):
		return apierr.New(http.StatusNotFound, "not_found", err)
	case errors.Is(err, aggregation.ErrNotStarted):
		return apierr.New(http.StatusServiceUnavailable, "not_started", err).Retryable(5 * time.Second)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apierr.New(http.StatusServiceUnavailable, "canceled", err)
	default:
		return apierr.New(http.StatusInternalServerError, "request_failed", err)
	}
}
