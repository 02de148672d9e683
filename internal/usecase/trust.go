package usecase

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"

	"octo/internal/domain"

	"go.uber.org/zap"
)

// NodeLookup is the part of the node registry the validator needs.
type NodeLookup interface {
	Get(ctx context.Context, rid string) (*domain.Node, error)
}

// EnvelopeValidator enforces the trust policy on inbound envelopes and seals outbound ones.
// The policy is fixed at construction.
type EnvelopeValidator struct {
	policy  domain.TrustPolicy
	self    string
	key     ed25519.PrivateKey
	nodes   NodeLookup
	crypto  EnvelopeCrypto
	logger  *zap.Logger
	metrics Metrics
}

func NewEnvelopeValidator(policy domain.TrustPolicy, selfRID string, key ed25519.PrivateKey, nodes NodeLookup, crypto EnvelopeCrypto, logger *zap.Logger, metrics Metrics) (*EnvelopeValidator, error) {
	if selfRID == "" {
		return nil, fmt.Errorf("%w: node identity is required", domain.ErrConfig)
	}
	if crypto == nil {
		return nil, fmt.Errorf("%w: envelope crypto is required", domain.ErrConfig)
	}
	if key == nil && (policy.RequireSignedResponses || policy.EnforceKeyBinding) {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, domain.ErrSigningKeyMissing)
	}
	if key != nil && policy.EnforceKeyBinding && !domain.KeyBoundToRID(selfRID, key.Public().(ed25519.PublicKey)) {
		return nil, fmt.Errorf("%w: node rid is not bound to the signing key", domain.ErrConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnvelopeValidator{
		policy:  policy,
		self:    selfRID,
		key:     key,
		nodes:   nodes,
		crypto:  crypto,
		logger:  logger.With(zap.String("component", "trust")),
		metrics: metricsOrNop(metrics),
	}, nil
}

func (v *EnvelopeValidator) Policy() domain.TrustPolicy {
	return v.policy
}

func (v *EnvelopeValidator) Self() string {
	return v.self
}

// Validate checks an envelope from a registered peer. It returns the sender record when known.
func (v *EnvelopeValidator) Validate(ctx context.Context, env domain.SignedEnvelope) (*domain.Node, error) {
	if env.SourceNode == "" {
		return nil, v.reject(env, domain.ErrUnknownNode)
	}
	if v.policy.EnforceTargetMatch && env.TargetNode != v.self {
		return nil, v.reject(env, domain.ErrTargetMismatch)
	}

	var sender *domain.Node
	if v.nodes != nil {
		node, err := v.nodes.Get(ctx, env.SourceNode)
		switch {
		case err == nil:
			sender = node
		case errors.Is(err, domain.ErrNotFound):
		default:
			return nil, err
		}
	}

	if !env.Signed() {
		if v.policy.RequireSignedEnvelopes {
			return nil, v.reject(env, domain.ErrSignatureMissing)
		}
		return sender, nil
	}
	if sender == nil || len(sender.PublicKey) == 0 {
		if v.policy.RequireSignedEnvelopes {
			return nil, v.reject(env, domain.ErrUnknownNode)
		}
		v.logger.Debug("accepting unverifiable signature in permissive mode", zap.String("source_node", env.SourceNode))
		return sender, nil
	}
	if err := v.verifyWithKey(env, sender.RID, sender.PublicKey); err != nil {
		return nil, err
	}
	return sender, nil
}

// ValidateFrom is Validate plus a check that the envelope came from the node we addressed.
func (v *EnvelopeValidator) ValidateFrom(ctx context.Context, env domain.SignedEnvelope, expectedSource string) (*domain.Node, error) {
	if env.SourceNode != expectedSource {
		return nil, v.reject(env, domain.ErrUnknownNode)
	}
	return v.Validate(ctx, env)
}

// ValidateHandshake checks an introduction envelope. A first contact is verified against the key in
// the profile. Once a key is on file the envelope must be signed by that key, so only the
// current key holder can change the profile or rotate to a new key. It returns the node on file, if any.
func (v *EnvelopeValidator) ValidateHandshake(ctx context.Context, env domain.SignedEnvelope, profile domain.Node) (*domain.Node, error) {
	if profile.RID == "" || profile.RID != env.SourceNode {
		return nil, v.reject(env, domain.ErrUnknownNode)
	}
	if v.policy.EnforceTargetMatch && env.TargetNode != v.self {
		return nil, v.reject(env, domain.ErrTargetMismatch)
	}
	var existing *domain.Node
	if v.nodes != nil {
		node, err := v.nodes.Get(ctx, profile.RID)
		switch {
		case err == nil:
			existing = node
		case errors.Is(err, domain.ErrNotFound):
		default:
			return nil, err
		}
	}

	if existing != nil && len(existing.PublicKey) > 0 {
		if !env.Signed() {
			if v.policy.RequireSignedEnvelopes {
				return nil, v.reject(env, domain.ErrSignatureMissing)
			}
			if len(profile.PublicKey) > 0 && !bytes.Equal(profile.PublicKey, existing.PublicKey) {
				return nil, v.reject(env, domain.ErrSignatureMissing)
			}
			return existing, nil
		}
		if err := v.verifyWithKey(env, existing.RID, existing.PublicKey); err != nil {
			return nil, err
		}
		return existing, nil
	}

	if !env.Signed() {
		if v.policy.RequireSignedEnvelopes {
			return nil, v.reject(env, domain.ErrSignatureMissing)
		}
		if v.policy.EnforceKeyBinding && !domain.KeyBoundToRID(profile.RID, profile.PublicKey) {
			return nil, v.reject(env, domain.ErrKeyBindingMismatch)
		}
		return existing, nil
	}
	if len(profile.PublicKey) == 0 {
		return nil, v.reject(env, domain.ErrSignatureInvalid)
	}
	if err := v.verifyWithKey(env, profile.RID, profile.PublicKey); err != nil {
		return nil, err
	}
	return existing, nil
}

func (v *EnvelopeValidator) verifyWithKey(env domain.SignedEnvelope, rid string, pubKey []byte) error {
	if v.policy.EnforceKeyBinding && !domain.KeyBoundToRID(rid, pubKey) {
		return v.reject(env, domain.ErrKeyBindingMismatch)
	}
	if err := v.crypto.Verify(env, pubKey); err != nil {
		v.logger.Debug("signature verification failed", zap.String("source_node", env.SourceNode), zap.Error(err))
		return v.reject(env, domain.ErrSignatureInvalid)
	}
	return nil
}

// Seal wraps payload for target, signing whenever this node has a key.
func (v *EnvelopeValidator) Seal(payload any, target string) (domain.SignedEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.SignedEnvelope{}, err
	}
	env := domain.SignedEnvelope{
		Payload:    raw,
		SourceNode: v.self,
		TargetNode: target,
	}
	if v.key == nil {
		if v.policy.RequireSignedResponses {
			return domain.SignedEnvelope{}, domain.ErrSigningKeyMissing
		}
		return env, nil
	}
	return v.crypto.Sign(env, v.key)
}

func (v *EnvelopeValidator) reject(env domain.SignedEnvelope, cause error) error {
	v.metrics.PolicyRejected(cause.Error())
	v.logger.Warn("envelope rejected",
		zap.String("source_node", env.SourceNode),
		zap.String("target_node", env.TargetNode),
		zap.Bool("signed", env.Signed()),
		zap.Error(cause),
	)
	return fmt.Errorf("%w: %w", domain.ErrPolicyRejected, cause)
}

// DecodePayload unmarshals an envelope payload into out.
func DecodePayload(env domain.SignedEnvelope, out any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", domain.ErrInvalidRequest)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}
