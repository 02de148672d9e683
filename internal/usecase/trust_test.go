package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"octo/internal/domain"
	"octo/internal/infra/crypto"
)

func newValidatorFor(t *testing.T, policy domain.TrustPolicy, self testIdentity, known ...domain.Node) *EnvelopeValidator {
	t.Helper()
	nodes := newMemNodeRepo()
	for _, n := range known {
		_, _ = nodes.Upsert(context.Background(), n)
	}
	v, err := NewEnvelopeValidator(policy, self.node.RID, self.key, nodes, crypto.NewService(), nil, nil)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	return v
}

func sealFrom(t *testing.T, from testIdentity, target string, payload any) domain.SignedEnvelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	env, err := crypto.NewService().Sign(domain.SignedEnvelope{Payload: raw, SourceNode: from.node.RID, TargetNode: target}, from.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return env
}

func TestEnvelopeValidator_StrictAcceptsSignedFromKnownPeer(t *testing.T) {
	self := newTestIdentity(t, "self", "")
	peer := newTestIdentity(t, "peer", "")
	v := newValidatorFor(t, domain.StrictTrustPolicy(), self, peer.node)

	env := sealFrom(t, peer, self.node.RID, domain.ConfirmPayload{EventIDs: []string{"e1"}})
	sender, err := v.Validate(context.Background(), env)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if sender == nil || sender.RID != peer.node.RID {
		t.Fatalf("expected sender record")
	}
}

func TestEnvelopeValidator_Rejections(t *testing.T) {
	self := newTestIdentity(t, "self", "")
	peer := newTestIdentity(t, "peer", "")
	stranger := newTestIdentity(t, "stranger", "")
	impostor := peer.node
	impostor.RID = domain.NodeRID("impostor", []byte("not-the-key"))
	impostorID := testIdentity{node: impostor, key: peer.key}

	unsigned := sealFrom(t, peer, self.node.RID, domain.PollPayload{})
	unsigned.Signature = ""
	wrongTarget := sealFrom(t, peer, "orn:koi-net.node:elsewhere", domain.PollPayload{})
	tampered := sealFrom(t, peer, self.node.RID, domain.PollPayload{Limit: 1})
	tampered.Payload = json.RawMessage(`{"limit":500}`)

	cases := []struct {
		name   string
		policy domain.TrustPolicy
		env    domain.SignedEnvelope
		cause  error
	}{
		{"unsigned in strict mode", domain.StrictTrustPolicy(), unsigned, domain.ErrSignatureMissing},
		{"wrong target", domain.TrustPolicy{EnforceTargetMatch: true}, wrongTarget, domain.ErrTargetMismatch},
		{"tampered payload permissive", domain.TrustPolicy{}, tampered, domain.ErrSignatureInvalid},
		{"unknown signer strict", domain.StrictTrustPolicy(), sealFrom(t, stranger, self.node.RID, domain.PollPayload{}), domain.ErrUnknownNode},
		{"key not bound to rid", domain.TrustPolicy{EnforceKeyBinding: true}, sealFrom(t, impostorID, self.node.RID, domain.PollPayload{}), domain.ErrKeyBindingMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newValidatorFor(t, tc.policy, self, peer.node, impostor)
			_, err := v.Validate(context.Background(), tc.env)
			if !errors.Is(err, domain.ErrPolicyRejected) {
				t.Fatalf("expected policy rejection, got %v", err)
			}
			if !errors.Is(err, tc.cause) {
				t.Fatalf("expected %v, got %v", tc.cause, err)
			}
		})
	}
}

func TestEnvelopeValidator_PermissiveAcceptsUnsigned(t *testing.T) {
	self := newTestIdentity(t, "self", "")
	v := newValidatorFor(t, domain.TrustPolicy{}, self)
	env := domain.SignedEnvelope{Payload: json.RawMessage(`{}`), SourceNode: "orn:koi-net.node:legacy", TargetNode: "anything"}
	if _, err := v.Validate(context.Background(), env); err != nil {
		t.Fatalf("permissive mode should accept unsigned envelopes: %v", err)
	}
}

func TestEnvelopeValidator_SealRequiresKeyWhenResponsesMustBeSigned(t *testing.T) {
	_, err := NewEnvelopeValidator(domain.TrustPolicy{RequireSignedResponses: true}, "orn:koi-net.node:x", nil, nil, crypto.NewService(), nil, nil)
	if !errors.Is(err, domain.ErrSigningKeyMissing) {
		t.Fatalf("expected missing key error, got %v", err)
	}

	v, err := NewEnvelopeValidator(domain.TrustPolicy{}, "orn:koi-net.node:x", nil, nil, crypto.NewService(), nil, nil)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	env, err := v.Seal(domain.ConfirmPayload{EventIDs: []string{"a"}}, "orn:koi-net.node:y")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if env.Signed() {
		t.Fatalf("keyless node must produce unsigned envelopes")
	}
}

func TestEnvelopeValidator_SealRoundTrip(t *testing.T) {
	self := newTestIdentity(t, "self", "")
	peer := newTestIdentity(t, "peer", "")
	sender := newValidatorFor(t, domain.StrictTrustPolicy(), peer, self.node)
	receiver := newValidatorFor(t, domain.StrictTrustPolicy(), self, peer.node)

	env, err := sender.Seal(domain.PollPayload{Cursor: 7, RIDTypes: []string{"note"}}, self.node.RID)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := receiver.Validate(context.Background(), env); err != nil {
		t.Fatalf("validate: %v", err)
	}
	var payload domain.PollPayload
	if err := DecodePayload(env, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Cursor != 7 || len(payload.RIDTypes) != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
