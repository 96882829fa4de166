package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "numix-engine/pkg/app_errors"
	"numix-engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// VendorHeader 販售員身分由上游驗證後帶入
const VendorHeader = "X-Vendor-Email"

func BindJson(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return err
	}
	return nil
}

func BindQuery(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindQuery(obj); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return err
	}
	return nil
}

// RequireVendor 缺少販售員 header 時回傳 400
func RequireVendor(c *gin.Context) (string, bool) {
	vendor := strings.TrimSpace(c.GetHeader(VendorHeader))
	if vendor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing " + VendorHeader + " header"})
		return "", false
	}
	return vendor, true
}

// ErrorResponse 錯誤格式；配額不足時附上號碼與剩餘數量
type ErrorResponse struct {
	Error     string `json:"error"`
	Number    string `json:"number,omitempty"`
	Requested *int   `json:"requested,omitempty"`
	Remaining *int   `json:"remaining,omitempty"`
}

func handleError(c *gin.Context, err error, operation string) {
	log := logger.WithComponent("handler").With(zap.String("operation", operation), zap.Error(err))

	var capErr *apperrors.CapacityExceededError
	switch {
	case errors.As(err, &capErr):
		log.Info("Capacity exceeded")
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:     "Capacity exceeded",
			Number:    capErr.Number,
			Requested: &capErr.Requested,
			Remaining: &capErr.Remaining,
		})
	case errors.Is(err, apperrors.ErrEventNotFound):
		log.Warn("Event not found")
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Event not found"})
	case errors.Is(err, apperrors.ErrTicketNotFound):
		log.Warn("Ticket not found")
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Ticket not found"})
	case errors.Is(err, apperrors.ErrInvalidInput):
		log.Warn("Invalid input")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, apperrors.ErrNoValidSelections):
		log.Warn("No valid selections")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "No valid selections"})
	case errors.Is(err, apperrors.ErrEventClosed):
		log.Warn("Event closed")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Event closed"})
	case errors.Is(err, apperrors.ErrDuplicateSubmission):
		log.Warn("Duplicate submission")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Duplicate submission"})
	case errors.Is(err, apperrors.ErrInvalidStateTransition):
		log.Warn("Invalid state transition")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Event already closed"})
	case errors.Is(err, apperrors.ErrLimitBelowSold):
		log.Warn("Limit below sold")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Limit below sold count"})
	case errors.Is(err, apperrors.ErrOwnershipViolation):
		log.Warn("Ownership violation")
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "Ticket belongs to another vendor"})
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		log.Error("Store unavailable")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Service temporarily unavailable"})
	case errors.Is(err, context.Canceled):
		// 用戶端已離開
		log.Info("Request cancelled")
		c.Status(499)
	default:
		log.Error("Unexpected error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
	}
}
