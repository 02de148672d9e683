package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"octo/internal/domain"
)

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// SigningBytes returns the canonical bytes covered by an envelope signature.
func (s *Service) SigningBytes(env domain.SignedEnvelope) ([]byte, error) {
	payload := env.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return CanonicalizeAny(map[string]any{
		"payload":     payload,
		"source_node": env.SourceNode,
		"target_node": env.TargetNode,
	})
}

func (s *Service) Sign(env domain.SignedEnvelope, key ed25519.PrivateKey) (domain.SignedEnvelope, error) {
	if len(key) != ed25519.PrivateKeySize {
		return domain.SignedEnvelope{}, domain.ErrSigningKeyMissing
	}
	msg, err := s.SigningBytes(env)
	if err != nil {
		return domain.SignedEnvelope{}, err
	}
	env.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(key, msg))
	return env, nil
}

func (s *Service) Verify(env domain.SignedEnvelope, pubKey []byte) error {
	if len(pubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid ed25519 public key length: %d", len(pubKey))
	}
	if env.Signature == "" {
		return errors.New("signature value is required")
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid ed25519 signature length: %d", len(sig))
	}
	msg, err := s.SigningBytes(env)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pubKey, msg, sig) {
		return errors.New("signature verification failed")
	}
	return nil
}
