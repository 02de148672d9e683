package domain

import (
	"encoding/json"
	"time"
)

type RecipientType string

const (
	RecipientPeer    RecipientType = "peer"
	RecipientCommons RecipientType = "commons"
)

type DocumentStatus string

const (
	DocumentReceived  DocumentStatus = "received"
	DocumentIngested  DocumentStatus = "ingested"
	DocumentRetracted DocumentStatus = "retracted"
	DocumentStaged    DocumentStatus = "staged"
)

type IntakeStatus string

const (
	IntakeNone     IntakeStatus = "none"
	IntakeStaged   IntakeStatus = "staged"
	IntakeReviewed IntakeStatus = "reviewed"
	IntakeAccepted IntakeStatus = "accepted"
	IntakeRejected IntakeStatus = "rejected"
)

// Rank orders intake states; review only moves forward.
func (s IntakeStatus) Rank() int {
	switch s {
	case IntakeNone:
		return 0
	case IntakeStaged:
		return 1
	case IntakeReviewed:
		return 2
	case IntakeAccepted, IntakeRejected:
		return 3
	}
	return -1
}

func (s IntakeStatus) Terminal() bool {
	return s == IntakeAccepted || s == IntakeRejected
}

type SharedDocument struct {
	ID            string          `json:"id"`
	EventID       *string         `json:"event_id,omitempty"`
	DocumentRID   string          `json:"document_rid"`
	SenderNode    string          `json:"sender_node"`
	EventType     EventType       `json:"event_type"`
	Manifest      *Manifest       `json:"manifest,omitempty"`
	Contents      json.RawMessage `json:"contents,omitempty"`
	RecipientType RecipientType   `json:"recipient_type"`
	Status        DocumentStatus  `json:"status"`
	IntakeStatus  IntakeStatus    `json:"intake_status"`
	ReviewedAt    *time.Time      `json:"reviewed_at,omitempty"`
	ReviewedBy    string          `json:"reviewed_by,omitempty"`
	ReviewNotes   string          `json:"review_notes,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
}

type IntakeFilter struct {
	DocumentRID   string
	SenderNode    string
	RecipientType RecipientType
	Status        DocumentStatus
	IntakeStatus  IntakeStatus
	Limit         int
}

// IntakePolicyInput is what the local admission policy sees for each received document.
type IntakePolicyInput struct {
	DocumentRID   string        `json:"document_rid"`
	RIDType       string        `json:"rid_type"`
	SenderNode    string        `json:"sender_node"`
	EventType     EventType     `json:"event_type"`
	RecipientType RecipientType `json:"recipient_type"`
	IntakeStatus  IntakeStatus  `json:"intake_status"`
}

type IntakeDecision struct {
	Decision IntakeStatus `json:"decision"`
	Reason   string       `json:"reason,omitempty"`
}
