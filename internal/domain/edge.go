package domain

import (
	"encoding/json"
	"time"
)

type EdgeType string

const (
	EdgeTypeWebhook EdgeType = "WEBHOOK"
	EdgeTypePoll    EdgeType = "POLL"
)

type EdgeStatus string

const (
	EdgeStatusProposed EdgeStatus = "PROPOSED"
	EdgeStatusApproved EdgeStatus = "APPROVED"
)

// Direction selects edges relative to a node: Outgoing when the node provides, Incoming when it receives.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// EdgeMetaTTLSeconds overrides the default event TTL for events queued across the edge.
const EdgeMetaTTLSeconds = "ttl_seconds"

// Edge is a subscription contract. SourceNode provides data; TargetNode receives or polls it.
type Edge struct {
	RID        string         `json:"rid"`
	SourceNode string         `json:"source_node"`
	TargetNode string         `json:"target_node"`
	EdgeType   EdgeType       `json:"edge_type"`
	Status     EdgeStatus     `json:"status"`
	RIDTypes   []string       `json:"rid_types"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at,omitempty"`
}

func (e Edge) Approved() bool {
	return e.Status == EdgeStatusApproved
}

// Carries is the hard delivery filter: a RID crosses the edge only if its type is listed.
func (e Edge) Carries(rid string) bool {
	return e.CarriesType(RIDType(rid))
}

func (e Edge) CarriesType(ridType string) bool {
	if ridType == "" {
		return false
	}
	for _, t := range e.RIDTypes {
		if t == ridType {
			return true
		}
	}
	return false
}

// TTL returns the per-edge override, or zero when the default applies.
func (e Edge) TTL() time.Duration {
	if e.Metadata == nil {
		return 0
	}
	raw, ok := e.Metadata[EdgeMetaTTLSeconds]
	if !ok {
		return 0
	}
	var secs float64
	switch v := raw.(type) {
	case float64:
		secs = v
	case int:
		secs = float64(v)
	case int64:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		secs = f
	default:
		return 0
	}
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
