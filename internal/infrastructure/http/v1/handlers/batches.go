package handlers

import (
	"github.com/gin-gonic/gin"

	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/entity"
	"ledgercore/internal/domain/batch"
	"ledgercore/internal/infrastructure/http/v1/dto"
)

// BatchHandler handles HTTP requests for the batch ledger.
type BatchHandler struct {
	*BaseHandler
	service *batch.Service
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(base *BaseHandler, service *batch.Service) *BatchHandler {
	return &BatchHandler{BaseHandler: base, service: service}
}

// List handles GET /batches?productId&status&includeInactive&limit&offset
func (h *BatchHandler) List(c *gin.Context) {
	filter := entity.BatchFilter{
		ProductID:       c.Query("productId"),
		Status:          entity.BatchStatus(c.Query("status")),
		IncludeInactive: c.Query("includeInactive") == "true",
		Limit:           h.ParseIntQuery(c, "limit", 100),
		Offset:          h.ParseIntQuery(c, "offset", 0),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.Error(c, apperror.NewValidation("unknown batch status").WithDetail("status", filter.Status))
		return
	}

	batches, err := h.service.ListBatches(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(batches))
}

// Get handles GET /batches/:id
func (h *BatchHandler) Get(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	b, err := h.service.GetBatch(c.Request.Context(), id)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, b)
}

// History handles GET /batches/:id/history
func (h *BatchHandler) History(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	events, err := h.service.History(c.Request.Context(), id)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(events))
}

// Receive handles POST /batches
func (h *BatchHandler) Receive(c *gin.Context) {
	var req dto.ReceiveRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in, err := req.ToInput()
	if err != nil {
		h.Error(c, err)
		return
	}

	b, err := h.service.Receive(c.Request.Context(), in)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, b)
}

// Adjust handles POST /batches/:id/adjust
func (h *BatchHandler) Adjust(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.AdjustRequest
	if !h.BindJSON(c, &req) {
		return
	}

	result, err := h.service.Adjust(c.Request.Context(), id, req.Delta, req.Note)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// WriteOff handles POST /batches/:id/write-off
func (h *BatchHandler) WriteOff(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.WriteOffRequest
	if c.Request.ContentLength > 0 && !h.BindJSON(c, &req) {
		return
	}

	result, err := h.service.WriteOff(c.Request.Context(), id, req.Note)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// Retire handles POST /batches/:id/retire
func (h *BatchHandler) Retire(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Retire(c.Request.Context(), id); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "batch retired")
}

// ProductStock handles GET /products/:id/stock
func (h *BatchHandler) ProductStock(c *gin.Context) {
	productID := c.Param("id")
	qty, err := h.service.ProductStock(c.Request.Context(), productID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.StockResponse{ProductID: productID, Quantity: qty})
}
