package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obslogger "github.com/jijenga/referral/internal/observability/logger"
	referraldomain "github.com/jijenga/referral/internal/referral/domain"
	"go.uber.org/zap"
)

type ingestEventRequest struct {
	Kind               string `json:"kind"`
	ReferralCode       string `json:"referral_code"`
	ExternalReferredID string `json:"external_referred_id"`
	IdempotencyKey     string `json:"idempotency_key"`
}

type ingestEventResponse struct {
	Outcome referraldomain.IngestOutcome `json:"outcome"`
}

// IngestEvent accepts a signup or conversion notification from the main
// product backend. Redeliveries are safe: a recorded idempotency key
// returns DUPLICATE without touching state.
func (s *Server) IngestEvent(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req ingestEventRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(c.GetHeader("X-Idempotency-Key"))
	}
	if kind := strings.TrimSpace(req.Kind); kind != "" {
		c.Set("event_type", kind)
	}

	outcome, err := s.referralSvc.Ingest(c.Request.Context(), referraldomain.IngestRequest{
		Kind:               referraldomain.EventKind(strings.ToUpper(strings.TrimSpace(req.Kind))),
		ReferralCode:       req.ReferralCode,
		ExternalReferredID: req.ExternalReferredID,
		IdempotencyKey:     key,
		Payload:            raw,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ingestEventResponse{Outcome: outcome})
}

// EventIntakeRateLimit throttles intake per source before the handler
// spends a transaction on the event. A nil limiter disables throttling.
func (s *Server) EventIntakeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.intakeLimiter == nil || !s.intakeLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		source := strings.TrimSpace(c.GetHeader("X-Event-Source"))
		if source == "" {
			source = c.ClientIP()
		}

		result, err := s.intakeLimiter.AllowSource(ctx, source)
		if err != nil {
			obslogger.FromContext(ctx).Warn("event intake rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			obslogger.FromContext(ctx).Warn("event intake rate limit exceeded",
				zap.String("source", source),
			)
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(ctx, c.FullPath(), "source-rate")
			}
			c.Header("Retry-After", "1")
			AbortWithError(c, ErrRateLimited)
			return
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(ctx, c.FullPath())
		}
		c.Next()
	}
}
