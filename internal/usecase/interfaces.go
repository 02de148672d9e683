package usecase

import (
	"context"
	"crypto/ed25519"
	"time"

	"octo/internal/domain"
)

type NodeRepository interface {
	Upsert(ctx context.Context, node domain.Node) (domain.Node, error)
	Get(ctx context.Context, rid string) (*domain.Node, error)
	ResolveAlias(ctx context.Context, alias string) (string, error)
	SetAlias(ctx context.Context, alias, rid string) error
	MarkSeen(ctx context.Context, rid string, at time.Time) error
	SetStatus(ctx context.Context, rid string, status domain.NodeStatus) error
	List(ctx context.Context) ([]domain.Node, error)
}

type EdgeRepository interface {
	Create(ctx context.Context, edge domain.Edge) error
	Get(ctx context.Context, rid string) (*domain.Edge, error)
	UpdateStatus(ctx context.Context, rid string, status domain.EdgeStatus) error
	UpdateRIDTypes(ctx context.Context, rid string, ridTypes []string) error
	ListApproved(ctx context.Context, nodeRID string, direction domain.Direction) ([]domain.Edge, error)
}

type EventQuery struct {
	SourceNode string
	Requester  string
	AfterSeq   int64
	RIDTypes   []string
	Now        time.Time
	Limit      int
}

type EventRepository interface {
	// Insert is insert-or-ignore on (source_node, event_id); created is false when the row already existed.
	Insert(ctx context.Context, event domain.Event) (stored domain.Event, created bool, err error)
	ListPending(ctx context.Context, q EventQuery) ([]domain.Event, error)
	MarkDelivered(ctx context.Context, sourceNode, nodeRID string, eventIDs []string) error
	MarkConfirmed(ctx context.Context, sourceNode, nodeRID string, eventIDs []string, now time.Time) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type ShareRepository interface {
	Record(ctx context.Context, documentRID, targetNode string, at time.Time) error
	MarkRetracted(ctx context.Context, documentRID, targetNode string, at time.Time) (bool, error)
	ListActiveByTarget(ctx context.Context, targetNode string) ([]domain.OutboundShare, error)
	ListActiveByDocument(ctx context.Context, documentRID string) ([]domain.OutboundShare, error)
}

type IntakeRepository interface {
	// Insert dedups on (sender_node, event_id) when event_id is present.
	Insert(ctx context.Context, doc domain.SharedDocument) (stored domain.SharedDocument, created bool, err error)
	// RetractDocument retracts only the records that senderNode sent.
	RetractDocument(ctx context.Context, documentRID, senderNode string) (int64, error)
	Latest(ctx context.Context, documentRID string) (*domain.SharedDocument, error)
	// UpdateReview fails with domain.ErrConflict when the row has been retracted meanwhile.
	UpdateReview(ctx context.Context, doc domain.SharedDocument) error
	List(ctx context.Context, filter domain.IntakeFilter) ([]domain.SharedDocument, error)
}

type CrossReferenceRepository interface {
	Upsert(ctx context.Context, ref domain.CrossReference) (domain.CrossReference, error)
	ListByRemote(ctx context.Context, remoteRID string) ([]domain.CrossReference, error)
	ListByLocal(ctx context.Context, localURI string) ([]domain.CrossReference, error)
}

// PeerTransport carries envelopes to other nodes. Every call must be bounded by a timeout.
type PeerTransport interface {
	Identity(ctx context.Context, baseURL string) (domain.Node, error)
	Handshake(ctx context.Context, baseURL string, env domain.SignedEnvelope) (domain.SignedEnvelope, error)
	Poll(ctx context.Context, baseURL string, env domain.SignedEnvelope) (domain.SignedEnvelope, error)
	Confirm(ctx context.Context, baseURL string, env domain.SignedEnvelope) error
	Push(ctx context.Context, baseURL string, env domain.SignedEnvelope) error
}

type EnvelopeCrypto interface {
	Sign(env domain.SignedEnvelope, key ed25519.PrivateKey) (domain.SignedEnvelope, error)
	Verify(env domain.SignedEnvelope, pubKey []byte) error
}

// EntityResolver is the external matcher that maps a received document onto local entities.
type EntityResolver interface {
	Resolve(ctx context.Context, doc domain.SharedDocument) ([]domain.EntityMatch, error)
}

// IntakePolicy is the local admission policy for peer documents.
type IntakePolicy interface {
	Evaluate(ctx context.Context, input domain.IntakePolicyInput) (domain.IntakeDecision, error)
}

// IntakeNotifier surfaces receipt and review changes to the note storage layer.
type IntakeNotifier interface {
	DocumentChanged(ctx context.Context, doc domain.SharedDocument) error
}

type Metrics interface {
	EventsPublished(eventType domain.EventType, n int)
	EventsPolled(n int)
	EventsConfirmed(n int)
	WebhookAttempt(outcome string)
	IntakeReceived(eventType domain.EventType, outcome string)
	PolicyRejected(reason string)
}

type nopMetrics struct{}

func (nopMetrics) EventsPublished(domain.EventType, int)   {}
func (nopMetrics) EventsPolled(int)                        {}
func (nopMetrics) EventsConfirmed(int)                     {}
func (nopMetrics) WebhookAttempt(string)                   {}
func (nopMetrics) IntakeReceived(domain.EventType, string) {}
func (nopMetrics) PolicyRejected(string)                   {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
