package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	authdomain "github.com/jijenga/referral/internal/auth/domain"
	"github.com/jijenga/referral/internal/authorization"
	invitationdomain "github.com/jijenga/referral/internal/invitation/domain"
	paymentdomain "github.com/jijenga/referral/internal/payment/domain"
	referraldomain "github.com/jijenga/referral/internal/referral/domain"
	linkdomain "github.com/jijenga/referral/internal/referrallink/domain"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		errType string
	}{
		{"nil", nil, http.StatusInternalServerError, "internal_error"},
		{"invalid request", ErrInvalidRequest, http.StatusBadRequest, "validation_error"},
		{"invalid event", referraldomain.ErrInvalidEvent, http.StatusBadRequest, "validation_error"},
		{"inactive link", linkdomain.ErrLinkInactive, http.StatusBadRequest, "validation_error"},
		{"expired invitation", invitationdomain.ErrInvitationExpired, http.StatusBadRequest, "validation_error"},
		{"bad credentials", authdomain.ErrInvalidCredentials, http.StatusUnauthorized, "unauthorized"},
		{"bad token", authdomain.ErrInvalidToken, http.StatusUnauthorized, "unauthorized"},
		{"forbidden", authorization.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"double approval", paymentdomain.ErrAlreadyApproved, http.StatusConflict, "conflict"},
		{"invalid transition", referraldomain.ErrInvalidTransition, http.StatusConflict, "conflict"},
		{"used invitation", invitationdomain.ErrInvitationAccepted, http.StatusConflict, "conflict"},
		{"missing payment", paymentdomain.ErrPaymentNotFound, http.StatusNotFound, "not_found"},
		{"missing record", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"code space exhausted", linkdomain.ErrAllocationExhausted, http.StatusServiceUnavailable, "service_unavailable"},
		{"unmapped", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
		{"wrapped", errors.Join(errors.New("context"), paymentdomain.ErrPaymentNotFound), http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.errType, payload.Type)
		})
	}
}

func TestMapErrorCarriesFieldErrors(t *testing.T) {
	status, payload := mapError(newValidationError("email", "invalid_email", "email is invalid"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", payload.Type)
	if assert.Len(t, payload.Errors, 1) {
		assert.Equal(t, "email", payload.Errors[0].Field)
		assert.Equal(t, "invalid_email", payload.Errors[0].Code)
	}
}

func TestClassifyErrorForLog(t *testing.T) {
	errType, code := classifyErrorForLog(referraldomain.ErrInvalidEvent)
	assert.Equal(t, "validation_error", errType)
	assert.Equal(t, referraldomain.ErrInvalidEvent.Error(), code)

	errType, code = classifyErrorForLog(paymentdomain.ErrPaymentNotFound)
	assert.Equal(t, "not_found", errType)
	assert.Equal(t, "not_found", code)
}

func TestErrorHandlingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/boom", func(c *gin.Context) {
		AbortWithError(c, paymentdomain.ErrAlreadyApproved)
	})
	router.GET("/written", func(c *gin.Context) {
		c.JSON(http.StatusTeapot, gin.H{"ok": false})
		AbortWithError(c, errors.New("too late"))
	})
	router.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":{"type":"conflict","message":"conflict"}}`, rec.Body.String())

	// A handler that already wrote the response wins.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/written", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
