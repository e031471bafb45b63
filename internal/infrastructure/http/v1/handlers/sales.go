package handlers

import (
	"github.com/gin-gonic/gin"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/entity"
	"ledgercore/internal/domain/sale"
	"ledgercore/internal/infrastructure/http/v1/dto"
)

// SaleHandler posts checkouts and returns.
type SaleHandler struct {
	*BaseHandler
	service *sale.Service
}

// NewSaleHandler creates a new sale handler.
func NewSaleHandler(base *BaseHandler, service *sale.Service) *SaleHandler {
	return &SaleHandler{BaseHandler: base, service: service}
}

// Post handles POST /sales
func (h *SaleHandler) Post(c *gin.Context) {
	var req dto.CheckoutRequest
	if !h.BindJSON(c, &req) {
		return
	}

	receipt, err := h.service.Post(c.Request.Context(), sale.Checkout{Lines: req.Lines, Reference: req.Reference})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, receipt)
}

// Return handles POST /returns
func (h *SaleHandler) Return(c *gin.Context) {
	var req dto.ReturnRequest
	if !h.BindJSON(c, &req) {
		return
	}
	batchID, err := entity.ParseID(req.BatchID)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid batchId format"))
		return
	}

	b, err := h.service.Return(c.Request.Context(), sale.Return{BatchID: batchID, Quantity: req.Quantity, Reference: req.Reference})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, b)
}
