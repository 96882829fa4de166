package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "numix-engine/pkg/app_errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleError_StatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"event not found", apperrors.ErrEventNotFound, http.StatusNotFound},
		{"ticket not found", fmt.Errorf("lookup: %w", apperrors.ErrTicketNotFound), http.StatusNotFound},
		{"invalid input", fmt.Errorf("date: %w", apperrors.ErrInvalidInput), http.StatusBadRequest},
		{"no valid selections", apperrors.ErrNoValidSelections, http.StatusBadRequest},
		{"event closed", fmt.Errorf("event e-1: %w", apperrors.ErrEventClosed), http.StatusConflict},
		{"duplicate", apperrors.ErrDuplicateSubmission, http.StatusConflict},
		{"invalid transition", apperrors.ErrInvalidStateTransition, http.StatusConflict},
		{"limit below sold", apperrors.ErrLimitBelowSold, http.StatusConflict},
		{"ownership", apperrors.ErrOwnershipViolation, http.StatusForbidden},
		{"unavailable", apperrors.Unavailable("query", errors.New("connection refused")), http.StatusServiceUnavailable},
		{"cancelled", fmt.Errorf("query: %w", context.Canceled), 499},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/err", func(c *gin.Context) { handleError(c, tt.err, "Test") })

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/err", nil))

			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestHandleError_CapacityBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/err", func(c *gin.Context) {
		handleError(c, &apperrors.CapacityExceededError{Number: "07", Requested: 3, Remaining: 2}, "Test")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/err", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Capacity exceeded", body.Error)
	assert.Equal(t, "07", body.Number)
	require.NotNil(t, body.Requested)
	require.NotNil(t, body.Remaining)
	assert.Equal(t, 3, *body.Requested)
	assert.Equal(t, 2, *body.Remaining)
}

func TestErrorResponse_OmitsCapacityFields(t *testing.T) {
	raw, err := json.Marshal(ErrorResponse{Error: "Event not found"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Event not found"}`, string(raw))
}
