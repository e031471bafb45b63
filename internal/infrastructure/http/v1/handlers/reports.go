package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"ledgercore/internal/config"
	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/clock"
	"ledgercore/internal/domain/expiry"
	"ledgercore/internal/domain/variance"
	"ledgercore/internal/infrastructure/http/v1/dto"
)

// defaultVarianceRange is the look-back of GET /reports/variance without from.
const defaultVarianceRange = 30

// ReportsHandler handles HTTP requests for reports.
type ReportsHandler struct {
	*BaseHandler
	expiry   *expiry.Service
	variance *variance.Detector
	clock    clock.Clock
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(base *BaseHandler, exp *expiry.Service, det *variance.Detector, clk clock.Clock) *ReportsHandler {
	return &ReportsHandler{BaseHandler: base, expiry: exp, variance: det, clock: clk}
}

// NearExpiry handles GET /reports/near-expiry?thresholds=30,60,90
func (h *ReportsHandler) NearExpiry(c *gin.Context) {
	thresholds, err := config.ParseThresholds(c.Query("thresholds"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid thresholds").WithDetail("error", err.Error()))
		return
	}

	buckets, err := h.expiry.CheckNearExpiry(c.Request.Context(), thresholds)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(buckets))
}

// VarianceSummaries handles GET /reports/variance?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *ReportsHandler) VarianceSummaries(c *gin.Context) {
	to := clock.Today(h.clock)
	if raw := c.Query("to"); raw != "" {
		d, err := dto.ParseDate("to", raw)
		if err != nil {
			h.Error(c, err)
			return
		}
		to = d
	}
	from := to.AddDate(0, 0, -defaultVarianceRange)
	if raw := c.Query("from"); raw != "" {
		d, err := dto.ParseDate("from", raw)
		if err != nil {
			h.Error(c, err)
			return
		}
		from = d
	}
	if from.After(to) {
		h.Error(c, apperror.NewValidation("from must not be after to").
			WithDetail("from", from.Format(time.DateOnly)).
			WithDetail("to", to.Format(time.DateOnly)))
		return
	}

	summaries, err := h.variance.ListSummaries(c.Request.Context(), from, to)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(summaries))
}

// VarianceSummary handles GET /reports/variance/:date
func (h *ReportsHandler) VarianceSummary(c *gin.Context) {
	day, err := dto.ParseDate("date", c.Param("date"))
	if err != nil {
		h.Error(c, err)
		return
	}

	summary, err := h.variance.GetSummary(c.Request.Context(), day)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, summary)
}
