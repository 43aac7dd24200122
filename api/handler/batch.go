package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/unwrap/models"
	"golang.org/x/sync/errgroup"
)

// ResolveBatch returns a handler for POST /api/v1/resolve/batch.
// Each URL is an independent resolution; at most concurrency of them run
// at once. Results keep the request order.
func ResolveBatch(res Resolver, timeout time.Duration, concurrency int) gin.HandlerFunc {
	if concurrency < 1 {
		concurrency = 1
	}

	return func(c *gin.Context) {
		totalStart := time.Now()

		var req models.BatchResolveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ResolveResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		ctx := c.Request.Context()
		results := make([]models.ResolveResponse, len(req.URLs))

		// Outcomes are values, never group errors, so one failing URL
		// does not cancel its siblings.
		var g errgroup.Group
		g.SetLimit(concurrency)
		for i, u := range req.URLs {
			g.Go(func() error {
				_, results[i] = resolveOne(ctx, res, u, timeout)
				return nil
			})
		}
		_ = g.Wait()

		resolved := 0
		for _, r := range results {
			if r.Success {
				resolved++
			}
		}

		c.JSON(http.StatusOK, models.BatchResolveResponse{
			Total:    len(results),
			Resolved: resolved,
			Results:  results,
			Timing:   models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()},
		})
	}
}
