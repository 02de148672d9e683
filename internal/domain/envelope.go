package domain

import "encoding/json"

// SignedEnvelope wraps every peer-to-peer payload. Signature is base64 ed25519 over the canonical
// form of payload, source_node and target_node; it is empty for unsigned envelopes.
type SignedEnvelope struct {
	Payload    json.RawMessage `json:"payload"`
	SourceNode string          `json:"source_node"`
	TargetNode string          `json:"target_node"`
	Signature  string          `json:"signature,omitempty"`
}

func (e SignedEnvelope) Signed() bool {
	return e.Signature != ""
}

// TrustPolicy holds the independently toggleable trust checks. All are off by default.
type TrustPolicy struct {
	RequireSignedEnvelopes bool `json:"require_signed_envelopes"`
	RequireSignedResponses bool `json:"require_signed_responses"`
	EnforceTargetMatch     bool `json:"enforce_target_match"`
	EnforceKeyBinding      bool `json:"enforce_key_binding"`
}

func StrictTrustPolicy() TrustPolicy {
	return TrustPolicy{
		RequireSignedEnvelopes: true,
		RequireSignedResponses: true,
		EnforceTargetMatch:     true,
		EnforceKeyBinding:      true,
	}
}

func (p TrustPolicy) Strict() bool {
	return p == StrictTrustPolicy()
}

type PollPayload struct {
	Cursor   int64    `json:"cursor,omitempty"`
	RIDTypes []string `json:"rid_types,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

type EventsPayload struct {
	Events      []Event `json:"events"`
	NextCursor  int64   `json:"next_cursor,omitempty"`
	Staged      bool    `json:"staged,omitempty"`
	AddressedTo string  `json:"addressed_to,omitempty"`
}

type ConfirmPayload struct {
	EventIDs []string `json:"event_ids"`
}

type HandshakePayload struct {
	Profile Node `json:"profile"`
}
