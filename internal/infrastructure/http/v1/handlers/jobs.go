package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"ledgercore/internal/domain/expiry"
	"ledgercore/internal/domain/variance"
	"ledgercore/internal/infrastructure/http/v1/dto"
)

// JobsHandler triggers the daily jobs by hand. The scheduled runs in the
// worker call the same service methods.
type JobsHandler struct {
	*BaseHandler
	expiry   *expiry.Service
	variance *variance.Detector
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(base *BaseHandler, exp *expiry.Service, det *variance.Detector) *JobsHandler {
	return &JobsHandler{BaseHandler: base, expiry: exp, variance: det}
}

// RunExpiry handles POST /jobs/expiry/run
func (h *JobsHandler) RunExpiry(c *gin.Context) {
	result, err := h.expiry.MarkExpiredBatches(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// RunVarianceSummary handles POST /jobs/variance-summary/run?date=YYYY-MM-DD
// Without a date the previous day is summarised.
func (h *JobsHandler) RunVarianceSummary(c *gin.Context) {
	var day time.Time
	if raw := c.Query("date"); raw != "" {
		d, err := dto.ParseDate("date", raw)
		if err != nil {
			h.Error(c, err)
			return
		}
		day = d
	}

	summary, err := h.variance.RunDailySummary(c.Request.Context(), day)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, summary)
}
