package domain

import "time"

// CrossReference is a weak association between a local entity and a remote resource. It never transfers ownership.
type CrossReference struct {
	LocalURI     string    `json:"local_uri"`
	RemoteRID    string    `json:"remote_rid"`
	RemoteNode   string    `json:"remote_node"`
	Relationship string    `json:"relationship"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// EntityMatch is one answer from the external entity resolver.
type EntityMatch struct {
	LocalURI     string  `json:"local_uri"`
	Confidence   float64 `json:"confidence"`
	Relationship string  `json:"relationship"`
}
