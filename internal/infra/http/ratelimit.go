package http

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"octo/internal/domain"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	routeHandshake = "handshake"
	routePoll      = "events/poll"
	routeConfirm   = "events/confirm"
	routeBroadcast = "events/broadcast"
)

// enforceRateLimit counts requests per route and claimed source node. It runs after the body is
// decoded and before signature checks, so unverified floods are still bounded.
func (s *Server) enforceRateLimit(c *gin.Context, routeID, sourceNode string) bool {
	if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
		return true
	}
	key := domain.PeerRateLimitKey(routeID, sourceNode)
	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", zap.String("route", routeID), zap.Error(err))
		if s.rateLimitFailClosed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			return false
		}
		return true
	}
	writeRateLimitHeaders(c, decision)
	if !decision.Allowed {
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		return false
	}
	return true
}

// writeRateLimitHeaders follows the IETF RateLimit header draft. Retry-After is rounded up to whole seconds.
func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	h := c.Writer.Header()
	if decision.Limit > 0 {
		h.Set("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		h.Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if decision.ResetAt.IsZero() {
		return
	}
	h.Set("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	if decision.Allowed {
		return
	}
	wait := time.Until(decision.ResetAt)
	if wait < 0 {
		wait = 0
	}
	h.Set("Retry-After", strconv.FormatInt(int64(math.Ceil(wait.Seconds())), 10))
}
