package handler

import (
	"net/http"

	"numix-engine/internal/model"
	"numix-engine/internal/service"

	"github.com/gin-gonic/gin"
)

type TicketHandler struct {
	service service.TicketService
}

func NewTicketHandler(service service.TicketService) *TicketHandler {
	return &TicketHandler{service: service}
}

func (h *TicketHandler) RegisterRoutes(r *gin.Engine) {
	router := r.Group("/api/v1")
	{
		router.GET("events/:id/tickets", h.List)
		router.POST("events/:id/tickets", h.Create)
		router.PUT("events/:id/tickets/:ticketId", h.Update)
		router.DELETE("events/:id/tickets/:ticketId", h.Delete)
	}
}

// CreateTicketRequest 建立票券請求
type CreateTicketRequest struct {
	ClientName string      `json:"client_name" binding:"required"`
	Amount     float64     `json:"amount" binding:"gte=0"`
	Rows       []model.Row `json:"rows" binding:"required"`
}

// UpdateTicketRequest 更新票券請求；rows 省略時只更新客戶與金額
type UpdateTicketRequest struct {
	ClientName *string     `json:"client_name"`
	Amount     *float64    `json:"amount"`
	Rows       []model.Row `json:"rows"`
}

func (h *TicketHandler) List(c *gin.Context) {
	vendor, ok := RequireVendor(c)
	if !ok {
		return
	}
	list, err := h.service.GetTicketsForVendor(c.Request.Context(), c.Param("id"), vendor)
	if err != nil {
		handleError(c, err, "ListTickets")
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *TicketHandler) Create(c *gin.Context) {
	vendor, ok := RequireVendor(c)
	if !ok {
		return
	}
	var req CreateTicketRequest
	if err := BindJson(c, &req); err != nil {
		return
	}
	created, err := h.service.Create(c.Request.Context(), service.CreateTicketInput{
		EventID:     c.Param("id"),
		VendorEmail: vendor,
		ClientName:  req.ClientName,
		Amount:      req.Amount,
		Rows:        req.Rows,
	})
	if err != nil {
		handleError(c, err, "CreateTicket")
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *TicketHandler) Update(c *gin.Context) {
	vendor, ok := RequireVendor(c)
	if !ok {
		return
	}
	var req UpdateTicketRequest
	if err := BindJson(c, &req); err != nil {
		return
	}
	if req.ClientName == nil && req.Amount == nil && req.Rows == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "At least one of client_name, amount or rows is required"})
		return
	}
	updated, err := h.service.Update(c.Request.Context(), service.UpdateTicketInput{
		TicketID:    c.Param("ticketId"),
		EventID:     c.Param("id"),
		VendorEmail: vendor,
		ClientName:  req.ClientName,
		Amount:      req.Amount,
		Rows:        req.Rows,
	})
	if err != nil {
		handleError(c, err, "UpdateTicket")
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *TicketHandler) Delete(c *gin.Context) {
	vendor, ok := RequireVendor(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("ticketId"), c.Param("id"), vendor); err != nil {
		handleError(c, err, "DeleteTicket")
		return
	}
	c.Status(http.StatusNoContent)
}
