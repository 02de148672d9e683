package domain

import "time"

type NodeType string

const (
	NodeTypeFull    NodeType = "FULL"
	NodeTypePartial NodeType = "PARTIAL"
)

type NodeStatus string

const (
	NodeStatusActive   NodeStatus = "active"
	NodeStatusInactive NodeStatus = "inactive"
)

type Node struct {
	RID           string     `json:"rid"`
	Name          string     `json:"name"`
	Type          NodeType   `json:"node_type"`
	BaseURL       string     `json:"base_url,omitempty"`
	PublicKey     []byte     `json:"public_key,omitempty"`
	ProvidesEvent []string   `json:"provides_event,omitempty"`
	ProvidesState []string   `json:"provides_state,omitempty"`
	Status        NodeStatus `json:"status,omitempty"`
	LastSeen      time.Time  `json:"last_seen,omitempty"`
}

type NodeAlias struct {
	Alias   string
	NodeRID string
}
