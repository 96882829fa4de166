package handler

import (
	"net/http"

	"numix-engine/internal/model"
	"numix-engine/internal/service"

	"github.com/gin-gonic/gin"
)

type EventHandler struct {
	service service.EventService
}

func NewEventHandler(service service.EventService) *EventHandler {
	return &EventHandler{service: service}
}

func (h *EventHandler) RegisterRoutes(r *gin.Engine) {
	router := r.Group("/api/v1")
	{
		router.GET("draws/active", h.ListActive)
		router.GET("draws/closed", h.ListClosed)

		router.GET("events", h.List)
		router.POST("events", h.Create)
		router.POST("events/sweep", h.Sweep)
		router.GET("events/:id", h.Get)
		router.PUT("events/:id", h.Update)
		router.DELETE("events/:id", h.Delete)
		router.POST("events/:id/award", h.Award)
		router.GET("events/:id/quotas", h.Quotas)
		router.PUT("events/:id/quotas/:number", h.SetLimit)
	}
}

// CreateEventRequest 建立活動請求
type CreateEventRequest struct {
	Name            string `json:"name" binding:"required"`
	StartDate       string `json:"start_date" binding:"required"`
	EndDate         string `json:"end_date" binding:"required"`
	StartTime       string `json:"start_time" binding:"required"`
	EndTime         string `json:"end_time" binding:"required"`
	Active          *bool  `json:"active"`
	RepeatDaily     bool   `json:"repeat_daily"`
	MinNumber       *int   `json:"min_number"`
	MaxNumber       *int   `json:"max_number"`
	ExcludedNumbers string `json:"excluded_numbers"`
}

// UpdateEventRequest 修改活動請求；active、min_number、max_number 省略時保留原值
type UpdateEventRequest struct {
	Name            string `json:"name" binding:"required"`
	StartDate       string `json:"start_date" binding:"required"`
	EndDate         string `json:"end_date" binding:"required"`
	StartTime       string `json:"start_time" binding:"required"`
	EndTime         string `json:"end_time" binding:"required"`
	Active          *bool  `json:"active"`
	RepeatDaily     bool   `json:"repeat_daily"`
	MinNumber       *int   `json:"min_number"`
	MaxNumber       *int   `json:"max_number"`
	ExcludedNumbers string `json:"excluded_numbers"`
}

// AwardRequest 開獎請求
type AwardRequest struct {
	FirstPrize  string `json:"first_prize" binding:"required"`
	SecondPrize string `json:"second_prize" binding:"required"`
	ThirdPrize  string `json:"third_prize" binding:"required"`
}

// SetLimitRequest limit 為 null 表示取消上限
type SetLimitRequest struct {
	Limit *int `json:"limit"`
}

type dateQuery struct {
	Date string `form:"date"`
}

func (h *EventHandler) List(c *gin.Context) {
	events, err := h.service.List(c.Request.Context())
	if err != nil {
		handleError(c, err, "ListEvents")
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *EventHandler) ListActive(c *gin.Context) {
	var q dateQuery
	if err := BindQuery(c, &q); err != nil {
		return
	}
	events, err := h.service.ListActiveDraws(c.Request.Context(), q.Date)
	if err != nil {
		handleError(c, err, "ListActiveDraws")
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *EventHandler) ListClosed(c *gin.Context) {
	var q dateQuery
	if err := BindQuery(c, &q); err != nil {
		return
	}
	events, err := h.service.ListClosedDraws(c.Request.Context(), q.Date)
	if err != nil {
		handleError(c, err, "ListClosedDraws")
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *EventHandler) Create(c *gin.Context) {
	var req CreateEventRequest
	if err := BindJson(c, &req); err != nil {
		return
	}
	created, err := h.service.Create(c.Request.Context(), model.CreateEventParams{
		Name:            req.Name,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		Active:          req.Active,
		RepeatDaily:     req.RepeatDaily,
		MinNumber:       req.MinNumber,
		MaxNumber:       req.MaxNumber,
		ExcludedNumbers: req.ExcludedNumbers,
	})
	if err != nil {
		handleError(c, err, "CreateEvent")
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *EventHandler) Get(c *gin.Context) {
	event, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err, "GetEvent")
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *EventHandler) Update(c *gin.Context) {
	var req UpdateEventRequest
	if err := BindJson(c, &req); err != nil {
		return
	}
	updated, err := h.service.Update(c.Request.Context(), c.Param("id"), model.UpdateEventParams{
		Name:            req.Name,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		Active:          req.Active,
		RepeatDaily:     req.RepeatDaily,
		MinNumber:       req.MinNumber,
		MaxNumber:       req.MaxNumber,
		ExcludedNumbers: req.ExcludedNumbers,
	})
	if err != nil {
		handleError(c, err, "UpdateEvent")
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *EventHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err, "DeleteEvent")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *EventHandler) Sweep(c *gin.Context) {
	closed, err := h.service.SweepExpired(c.Request.Context())
	if err != nil {
		handleError(c, err, "SweepExpired")
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": closed})
}

func (h *EventHandler) Award(c *gin.Context) {
	var req AwardRequest
	if err := BindJson(c, &req); err != nil {
		return
	}
	event, err := h.service.Award(c.Request.Context(), c.Param("id"), service.AwardParams{
		FirstPrize:  req.FirstPrize,
		SecondPrize: req.SecondPrize,
		ThirdPrize:  req.ThirdPrize,
	})
	if err != nil {
		handleError(c, err, "AwardEvent")
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *EventHandler) Quotas(c *gin.Context) {
	snap, err := h.service.QuotaSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err, "QuotaSnapshot")
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *EventHandler) SetLimit(c *gin.Context) {
	var req SetLimitRequest
	if err := BindJson(c, &req); err != nil {
		return
	}
	quota, err := h.service.SetNumberLimit(c.Request.Context(), c.Param("id"), c.Param("number"), req.Limit)
	if err != nil {
		handleError(c, err, "SetNumberLimit")
		return
	}
	c.JSON(http.StatusOK, quota)
}
