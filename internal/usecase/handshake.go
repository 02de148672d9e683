package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"octo/internal/domain"

	"go.uber.org/zap"
)

// Handshaker introduces nodes to each other by exchanging signed profiles.
type Handshaker struct {
	Self      domain.Node
	Registry  *NodeRegistry
	Validator *EnvelopeValidator
	Transport PeerTransport
	Logger    *zap.Logger
}

func NewHandshaker(self domain.Node, registry *NodeRegistry, validator *EnvelopeValidator, transport PeerTransport, logger *zap.Logger) *Handshaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handshaker{
		Self:      self,
		Registry:  registry,
		Validator: validator,
		Transport: transport,
		Logger:    logger.With(zap.String("component", "handshake")),
	}
}

// Accept registers the announcing peer and replies with this node's profile.
func (h *Handshaker) Accept(ctx context.Context, env domain.SignedEnvelope) (domain.SignedEnvelope, error) {
	if h == nil || h.Registry == nil || h.Validator == nil {
		return domain.SignedEnvelope{}, errors.New("handshaker is not configured")
	}
	var payload domain.HandshakePayload
	if err := DecodePayload(env, &payload); err != nil {
		return domain.SignedEnvelope{}, err
	}
	existing, err := h.Validator.ValidateHandshake(ctx, env, payload.Profile)
	if err != nil {
		return domain.SignedEnvelope{}, err
	}
	var registered domain.Node
	if existing != nil && env.Signed() {
		registered, err = h.Registry.RegisterRotated(ctx, payload.Profile)
	} else {
		registered, err = h.Registry.Register(ctx, payload.Profile)
	}
	if err != nil {
		return domain.SignedEnvelope{}, err
	}
	h.Logger.Info("peer registered by handshake",
		zap.String("node_rid", registered.RID),
		zap.String("base_url", registered.BaseURL),
	)
	return h.Validator.Seal(domain.HandshakePayload{Profile: h.Self}, registered.RID)
}

// Discover fetches a peer's identity, registers it, and announces this node in return.
// A failed announcement is logged; the peer stays registered.
func (h *Handshaker) Discover(ctx context.Context, baseURL string) (domain.Node, error) {
	if h == nil || h.Registry == nil || h.Validator == nil || h.Transport == nil {
		return domain.Node{}, errors.New("handshaker is not configured")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return domain.Node{}, fmt.Errorf("%w: base_url is required", domain.ErrInvalidRequest)
	}
	profile, err := h.Transport.Identity(ctx, baseURL)
	if err != nil {
		return domain.Node{}, err
	}
	if profile.RID == h.Self.RID {
		return domain.Node{}, fmt.Errorf("%w: %s is this node", domain.ErrInvalidRequest, baseURL)
	}
	if profile.BaseURL == "" {
		profile.BaseURL = baseURL
	}
	registered, err := h.Registry.Register(ctx, profile)
	if err != nil {
		return domain.Node{}, err
	}

	env, err := h.Validator.Seal(domain.HandshakePayload{Profile: h.Self}, registered.RID)
	if err != nil {
		return registered, err
	}
	reply, err := h.Transport.Handshake(ctx, registered.BaseURL, env)
	if err != nil {
		h.Logger.Warn("handshake announcement failed", zap.String("node_rid", registered.RID), zap.Error(err))
		return registered, nil
	}
	if _, err := h.Validator.ValidateFrom(ctx, reply, registered.RID); err != nil {
		h.Logger.Warn("handshake reply rejected", zap.String("node_rid", registered.RID), zap.Error(err))
		return registered, nil
	}
	if err := h.Registry.MarkSeen(ctx, registered.RID); err != nil {
		h.Logger.Warn("mark seen failed", zap.String("node_rid", registered.RID), zap.Error(err))
	}
	return registered, nil
}
