package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/unwrap/engine"
	"github.com/use-agent/unwrap/models"
)

// Resolver is the engine entry point the handlers depend on.
type Resolver interface {
	Resolve(ctx context.Context, wrapperURL string) (*engine.Result, error)
}

// Resolve returns a handler for GET and POST /api/v1/resolve.
//
// GET reads the wrapper from the "url" query parameter, POST from a JSON
// body. Resolved → 200; unresolved → 422 (504 on timeout); engine errors
// are mapped through mapErrorToStatus.
func Resolve(res Resolver, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ResolveRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ResolveResponse{
				Success: false,
				URL:     req.URL,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "missing or invalid 'url' parameter: " + err.Error(),
				},
			})
			return
		}

		status, resp := resolveOne(c.Request.Context(), res, req.URL, timeout)
		c.JSON(status, resp)
	}
}

// resolveOne runs a single resolution and builds its response. It is
// shared by the single and batch endpoints.
func resolveOne(ctx context.Context, res Resolver, wrapperURL string, timeout time.Duration) (int, models.ResolveResponse) {
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := res.Resolve(ctx, wrapperURL)
	timing := models.TimingInfo{TotalMs: time.Since(start).Milliseconds()}

	if err != nil {
		var resolveErr *models.ResolveError
		if !errors.As(err, &resolveErr) {
			resolveErr = models.NewResolveError(models.ErrCodeInternal, err.Error(), err)
		}
		return mapErrorToStatus(resolveErr), models.ResolveResponse{
			Success: false,
			URL:     wrapperURL,
			Error:   resolveErr.ToDetail(),
			Timing:  timing,
		}
	}

	resp := models.ResolveResponse{
		Success:  result.Resolved,
		URL:      wrapperURL,
		Attempts: toAttemptInfo(result.Attempts),
		Timing:   timing,
	}
	if result.Resolved {
		resp.ResolvedURL = result.URL
		resp.Strategy = result.Strategy
		return http.StatusOK, resp
	}

	resp.LastKnownURL = result.LastKnownURL
	resp.Reason = result.Reason
	unresolved := models.NewResolveError(models.ErrCodeUnresolved, "could not resolve url: "+result.Reason, nil)
	if result.Reason == engine.ReasonTimeout {
		unresolved.Code = models.ErrCodeTimeout
	}
	resp.Error = unresolved.ToDetail()
	return mapErrorToStatus(unresolved), resp
}

func toAttemptInfo(attempts []engine.Attempt) []models.AttemptInfo {
	out := make([]models.AttemptInfo, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, models.AttemptInfo{
			Strategy:  a.Strategy,
			Candidate: a.Candidate,
			External:  a.External,
			Reason:    a.Reason,
			ElapsedMs: a.Elapsed.Milliseconds(),
		})
	}
	return out
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.ResolveError) int {
	switch e.Code {
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeUnresolved:
		return http.StatusUnprocessableEntity // 422
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeBrowserCrash:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
