package db

import "time"

type NodeModel struct {
	RID           string   `gorm:"column:rid;primaryKey"`
	Name          string   `gorm:"not null"`
	NodeType      string   `gorm:"not null"`
	BaseURL       string   `gorm:"column:base_url"`
	PublicKey     []byte   `gorm:"type:bytea"`
	ProvidesEvent []string `gorm:"serializer:json"`
	ProvidesState []string `gorm:"serializer:json"`
	Status        string   `gorm:"index;not null"`
	LastSeen      *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (NodeModel) TableName() string { return "nodes" }

type NodeAliasModel struct {
	Alias     string    `gorm:"primaryKey"`
	NodeRID   string    `gorm:"column:node_rid;index;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (NodeAliasModel) TableName() string { return "node_aliases" }

type EdgeModel struct {
	RID        string         `gorm:"column:rid;primaryKey"`
	SourceNode string         `gorm:"index;not null"`
	TargetNode string         `gorm:"index;not null"`
	EdgeType   string         `gorm:"not null"`
	Status     string         `gorm:"index;not null"`
	RIDTypes   []string       `gorm:"column:rid_types;serializer:json"`
	Metadata   map[string]any `gorm:"serializer:json"`
	CreatedAt  time.Time      `gorm:"not null"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

func (EdgeModel) TableName() string { return "edges" }

type EventModel struct {
	Seq          int64     `gorm:"primaryKey;autoIncrement"`
	SourceNode   string    `gorm:"uniqueIndex:idx_events_source_event,priority:1;not null"`
	EventID      string    `gorm:"uniqueIndex:idx_events_source_event,priority:2;not null"`
	EventType    string    `gorm:"not null"`
	RID          string    `gorm:"column:rid;index;not null"`
	RIDType      string    `gorm:"column:rid_type;index;not null"`
	ManifestJSON []byte    `gorm:"column:manifest"`
	Contents     []byte    `gorm:"column:contents"`
	TargetNode   *string   `gorm:"index"`
	QueuedAt     time.Time `gorm:"index;not null"`
	ExpiresAt    time.Time `gorm:"index;not null"`
}

func (EventModel) TableName() string { return "events" }

const (
	receiptDelivered = "delivered"
	receiptConfirmed = "confirmed"
)

// EventReceiptModel holds the delivered_to and confirmed_by sets, one row per member.
type EventReceiptModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	SourceNode string    `gorm:"uniqueIndex:idx_event_receipts_member,priority:1;not null"`
	EventID    string    `gorm:"uniqueIndex:idx_event_receipts_member,priority:2;not null"`
	NodeRID    string    `gorm:"column:node_rid;uniqueIndex:idx_event_receipts_member,priority:3;not null"`
	Kind       string    `gorm:"uniqueIndex:idx_event_receipts_member,priority:4;not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (EventReceiptModel) TableName() string { return "event_receipts" }

type OutboundShareModel struct {
	DocumentRID string    `gorm:"column:document_rid;primaryKey"`
	TargetNode  string    `gorm:"primaryKey;index"`
	SharedAt    time.Time `gorm:"not null"`
	RetractedAt *time.Time
}

func (OutboundShareModel) TableName() string { return "outbound_shares" }

type SharedDocumentModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	EventID       *string `gorm:"uniqueIndex:idx_shared_documents_sender_event,priority:2"`
	SenderNode    string  `gorm:"uniqueIndex:idx_shared_documents_sender_event,priority:1;not null"`
	DocumentRID   string  `gorm:"column:document_rid;index;not null"`
	EventType     string  `gorm:"not null"`
	ManifestJSON  []byte  `gorm:"column:manifest"`
	Contents      []byte  `gorm:"column:contents"`
	RecipientType string  `gorm:"not null"`
	Status        string  `gorm:"index;not null"`
	IntakeStatus  string  `gorm:"index;not null"`
	ReviewedAt    *time.Time
	ReviewedBy    string
	ReviewNotes   string
	ReceivedAt    time.Time `gorm:"index;not null"`
}

func (SharedDocumentModel) TableName() string { return "shared_documents" }

type CrossReferenceModel struct {
	LocalURI     string    `gorm:"column:local_uri;primaryKey"`
	RemoteRID    string    `gorm:"column:remote_rid;primaryKey;index"`
	RemoteNode   string    `gorm:"not null"`
	Relationship string    `gorm:"not null"`
	Confidence   float64   `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (CrossReferenceModel) TableName() string { return "cross_references" }

func allModels() []any {
	return []any{
		&NodeModel{},
		&NodeAliasModel{},
		&EdgeModel{},
		&EventModel{},
		&EventReceiptModel{},
		&OutboundShareModel{},
		&SharedDocumentModel{},
		&CrossReferenceModel{},
	}
}
