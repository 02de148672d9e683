package domain

import "time"

// OutboundShare is the durable record that a document was given to a peer. It never expires.
type OutboundShare struct {
	DocumentRID string     `json:"document_rid"`
	TargetNode  string     `json:"target_node"`
	SharedAt    time.Time  `json:"shared_at"`
	RetractedAt *time.Time `json:"retracted_at,omitempty"`
}

func (s OutboundShare) Active() bool {
	return s.RetractedAt == nil
}
