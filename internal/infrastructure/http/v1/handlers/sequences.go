package handlers

import (
	"github.com/gin-gonic/gin"

	"ledgercore/internal/domain/sequence"
	"ledgercore/internal/infrastructure/http/v1/dto"
)

// SequenceHandler exposes fiscal periods of the document series.
type SequenceHandler struct {
	*BaseHandler
	service *sequence.Service
}

// NewSequenceHandler creates a new sequence handler.
func NewSequenceHandler(base *BaseHandler, service *sequence.Service) *SequenceHandler {
	return &SequenceHandler{BaseHandler: base, service: service}
}

// Current handles GET /sequences/:series/current
func (h *SequenceHandler) Current(c *gin.Context) {
	series := c.Param("series")
	period, err := h.service.CurrentPeriod(c.Request.Context(), series)
	if err != nil {
		h.Error(c, err)
		return
	}

	cfg := h.service.Config()
	h.OK(c, gin.H{
		"period":     period,
		"nextNumber": cfg.Format(series, period.PeriodStart, period.LastIssued+1),
	})
}

// Periods handles GET /sequences/:series/periods
func (h *SequenceHandler) Periods(c *gin.Context) {
	periods, err := h.service.ListPeriods(c.Request.Context(), c.Param("series"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(periods))
}

// Provision handles POST /sequences/:series/periods
func (h *SequenceHandler) Provision(c *gin.Context) {
	var req dto.ProvisionPeriodRequest
	if !h.BindJSON(c, &req) {
		return
	}
	start, err := dto.ParseDate("periodStart", req.PeriodStart)
	if err != nil {
		h.Error(c, err)
		return
	}

	period, err := h.service.ProvisionPeriod(c.Request.Context(), c.Param("series"), start, req.Base)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, period)
}

// SetLastIssued handles PUT /sequences/:series/last-issued
func (h *SequenceHandler) SetLastIssued(c *gin.Context) {
	var req dto.SetLastIssuedRequest
	if !h.BindJSON(c, &req) {
		return
	}
	start, err := dto.ParseDate("periodStart", req.PeriodStart)
	if err != nil {
		h.Error(c, err)
		return
	}

	if err := h.service.SetLastIssued(c.Request.Context(), c.Param("series"), start, req.LastIssued); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "counter updated")
}
