package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type EventType string

const (
	EventTypeNew    EventType = "NEW"
	EventTypeUpdate EventType = "UPDATE"
	EventTypeForget EventType = "FORGET"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeNew, EventTypeUpdate, EventTypeForget:
		return true
	}
	return false
}

const DefaultEventTTL = 24 * time.Hour

type Manifest struct {
	RID        string    `json:"rid"`
	Timestamp  time.Time `json:"timestamp"`
	SHA256Hash string    `json:"sha256_hash,omitempty"`
}

// Event is a queued state-change notification. It is a transport buffer, not the record of what was shared.
type Event struct {
	Seq         int64           `json:"seq,omitempty"`
	EventID     string          `json:"event_id"`
	EventType   EventType       `json:"event_type"`
	RID         string          `json:"rid"`
	Manifest    *Manifest       `json:"manifest,omitempty"`
	Contents    json.RawMessage `json:"contents,omitempty"`
	SourceNode  string          `json:"source_node"`
	TargetNode  *string         `json:"target_node,omitempty"`
	QueuedAt    time.Time       `json:"queued_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	DeliveredTo []string        `json:"delivered_to,omitempty"`
	ConfirmedBy []string        `json:"confirmed_by,omitempty"`
}

func (e Event) Broadcast() bool {
	return e.TargetNode == nil
}

func (e Event) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// TargetKind says whether an event fans out over edges or goes to named nodes.
type TargetKind int

const (
	TargetBroadcast TargetKind = iota
	TargetUnicast
)

// Target names who an event is for. The zero value is a broadcast. A unicast target keeps its
// kind even when no usable node RID was given, so it never widens into a broadcast.
type Target struct {
	kind  TargetKind
	nodes []string
}

func Broadcast() Target {
	return Target{kind: TargetBroadcast}
}

func Unicast(nodeRIDs ...string) Target {
	out := make([]string, 0, len(nodeRIDs))
	seen := make(map[string]struct{}, len(nodeRIDs))
	for _, rid := range nodeRIDs {
		rid = strings.TrimSpace(rid)
		if rid == "" {
			continue
		}
		if _, ok := seen[rid]; ok {
			continue
		}
		seen[rid] = struct{}{}
		out = append(out, rid)
	}
	return Target{kind: TargetUnicast, nodes: out}
}

func (t Target) Kind() TargetKind {
	return t.kind
}

func (t Target) IsBroadcast() bool {
	return t.kind == TargetBroadcast
}

func (t Target) Nodes() []string {
	out := make([]string, len(t.nodes))
	copy(out, t.nodes)
	return out
}
