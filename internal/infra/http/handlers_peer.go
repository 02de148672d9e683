package http

import (
	"errors"
	"net/http"

	"octo/internal/domain"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type confirmResponse struct {
	Confirmed int `json:"confirmed"`
}

type broadcastResponse struct {
	Received []string `json:"received"`
}

func (s *Server) handleIdentity(c *gin.Context) {
	c.JSON(http.StatusOK, s.self)
}

// bindEnvelope decodes the request envelope and applies the per-node rate limit.
func (s *Server) bindEnvelope(c *gin.Context, routeID string) (domain.SignedEnvelope, bool) {
	var env domain.SignedEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return domain.SignedEnvelope{}, false
	}
	if !s.enforceRateLimit(c, routeID, env.SourceNode) {
		return domain.SignedEnvelope{}, false
	}
	return env, true
}

func (s *Server) writePeerError(c *gin.Context, env domain.SignedEnvelope, routeID string, err error) {
	if errors.Is(err, domain.ErrPolicyRejected) {
		s.logger.Warn("peer request rejected",
			zap.String("route", routeID),
			zap.String("source_node", env.SourceNode),
			zap.Error(err),
		)
	}
	writeError(c, err)
}

func (s *Server) handleHandshake(c *gin.Context) {
	env, ok := s.bindEnvelope(c, routeHandshake)
	if !ok {
		return
	}
	if s.handshake == nil {
		writeError(c, domain.ErrFederationDisabled)
		return
	}
	reply, err := s.handshake.Accept(c.Request.Context(), env)
	if err != nil {
		s.writePeerError(c, env, routeHandshake, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) handlePoll(c *gin.Context) {
	env, ok := s.bindEnvelope(c, routePoll)
	if !ok {
		return
	}
	reply, err := s.peer.Poll(c.Request.Context(), env)
	if err != nil {
		s.writePeerError(c, env, routePoll, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) handleConfirm(c *gin.Context) {
	env, ok := s.bindEnvelope(c, routeConfirm)
	if !ok {
		return
	}
	n, err := s.peer.Confirm(c.Request.Context(), env)
	if err != nil {
		s.writePeerError(c, env, routeConfirm, err)
		return
	}
	c.JSON(http.StatusOK, confirmResponse{Confirmed: n})
}

func (s *Server) handleBroadcast(c *gin.Context) {
	env, ok := s.bindEnvelope(c, routeBroadcast)
	if !ok {
		return
	}
	received, err := s.peer.Receive(c.Request.Context(), env)
	if err != nil {
		s.writePeerError(c, env, routeBroadcast, err)
		return
	}
	c.JSON(http.StatusOK, broadcastResponse{Received: received})
}
