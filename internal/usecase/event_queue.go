package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"octo/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPollLimit = 50
	MaxPollLimit     = 500
)

// eventIDNamespace scopes idempotent event ids derived from caller keys.
var eventIDNamespace = uuid.MustParse("6f1b8d0e-3c2a-5e47-9b1d-0a7c4e2f8d31")

type PublishRequest struct {
	RID            string
	EventType      domain.EventType
	Manifest       *domain.Manifest
	Contents       json.RawMessage
	Targets        domain.Target
	IdempotencyKey string
}

type PollRequest struct {
	Requester string
	Cursor    int64
	RIDTypes  []string
	Limit     int
}

type PollResult struct {
	Events     []domain.Event
	NextCursor int64
}

// EventQueue is the outbound buffer of state-change events. Expiry is lazy: reads skip expired rows.
type EventQueue struct {
	Self       string
	Events     EventRepository
	Edges      EdgeRepository
	Shares     ShareRepository
	DefaultTTL time.Duration
	Logger     *zap.Logger
	Metrics    Metrics
	Now        func() time.Time
}

func NewEventQueue(self string, events EventRepository, edges EdgeRepository, shares ShareRepository, defaultTTL time.Duration, logger *zap.Logger, metrics Metrics) *EventQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTTL <= 0 {
		defaultTTL = domain.DefaultEventTTL
	}
	return &EventQueue{
		Self:       self,
		Events:     events,
		Edges:      edges,
		Shares:     shares,
		DefaultTTL: defaultTTL,
		Logger:     logger.With(zap.String("component", "event_queue")),
		Metrics:    metricsOrNop(metrics),
		Now:        time.Now,
	}
}

type resolvedTarget struct {
	node *string
	ttl  time.Duration
}

// Publish queues one event row per resolved target and keeps the share ledger in step.
func (q *EventQueue) Publish(ctx context.Context, req PublishRequest) ([]domain.Event, error) {
	if q == nil || q.Events == nil {
		return nil, errors.New("event repository is required")
	}
	req.RID = strings.TrimSpace(req.RID)
	if req.RID == "" {
		return nil, fmt.Errorf("%w: rid is required", domain.ErrInvalidRequest)
	}
	if domain.RIDType(req.RID) == "" {
		return nil, fmt.Errorf("%w: rid %q has no resource type", domain.ErrInvalidRequest, req.RID)
	}
	if !req.EventType.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidRequest, req.EventType)
	}
	if req.Targets.Kind() == domain.TargetUnicast && len(req.Targets.Nodes()) == 0 {
		return nil, fmt.Errorf("%w: unicast publish names no target node", domain.ErrInvalidRequest)
	}

	targets, err := q.resolveTargets(ctx, req.RID, req.Targets)
	if err != nil {
		return nil, err
	}

	now := q.now()
	manifest := req.Manifest
	if manifest == nil && req.EventType != domain.EventTypeForget {
		manifest = &domain.Manifest{RID: req.RID, Timestamp: now}
	}

	out := make([]domain.Event, 0, len(targets))
	for _, t := range targets {
		event := domain.Event{
			EventID:    q.eventID(req.IdempotencyKey, t.node),
			EventType:  req.EventType,
			RID:        req.RID,
			Manifest:   manifest,
			Contents:   req.Contents,
			SourceNode: q.Self,
			TargetNode: t.node,
			QueuedAt:   now,
			ExpiresAt:  now.Add(t.ttl),
		}
		stored, created, err := q.Events.Insert(ctx, event)
		if err != nil {
			return out, err
		}
		out = append(out, stored)
		if !created {
			q.Logger.Debug("duplicate publish collapsed", zap.String("event_id", stored.EventID))
			continue
		}
		q.Metrics.EventsPublished(req.EventType, 1)
		if t.node == nil || q.Shares == nil {
			continue
		}
		if req.EventType == domain.EventTypeForget {
			if _, err := q.Shares.MarkRetracted(ctx, req.RID, *t.node, now); err != nil {
				return out, err
			}
			continue
		}
		if err := q.Shares.Record(ctx, req.RID, *t.node, now); err != nil {
			return out, err
		}
	}
	q.Logger.Info("event published",
		zap.String("rid", req.RID),
		zap.String("event_type", string(req.EventType)),
		zap.Int("rows", len(out)),
	)
	return out, nil
}

func (q *EventQueue) resolveTargets(ctx context.Context, rid string, target domain.Target) ([]resolvedTarget, error) {
	var edges []domain.Edge
	if q.Edges != nil {
		var err error
		edges, err = q.Edges.ListApproved(ctx, q.Self, domain.DirectionOutgoing)
		if err != nil {
			return nil, err
		}
	}
	edgeTTL := func(node string) (time.Duration, bool) {
		for _, e := range edges {
			if e.Approved() && e.SourceNode == q.Self && e.TargetNode == node && e.Carries(rid) {
				if ttl := e.TTL(); ttl > 0 {
					return ttl, true
				}
				return q.DefaultTTL, true
			}
		}
		return 0, false
	}

	if !target.IsBroadcast() {
		nodes := target.Nodes()
		out := make([]resolvedTarget, 0, len(nodes))
		for _, node := range nodes {
			ttl, ok := edgeTTL(node)
			if !ok {
				ttl = q.DefaultTTL
			}
			n := node
			out = append(out, resolvedTarget{node: &n, ttl: ttl})
		}
		return out, nil
	}

	var out []resolvedTarget
	seen := make(map[string]struct{})
	for _, e := range edges {
		if !e.Approved() || e.SourceNode != q.Self || !e.Carries(rid) {
			continue
		}
		if _, ok := seen[e.TargetNode]; ok {
			continue
		}
		seen[e.TargetNode] = struct{}{}
		ttl, _ := edgeTTL(e.TargetNode)
		n := e.TargetNode
		out = append(out, resolvedTarget{node: &n, ttl: ttl})
	}
	if len(out) == 0 {
		out = append(out, resolvedTarget{ttl: q.DefaultTTL})
	}
	return out, nil
}

func (q *EventQueue) eventID(idempotencyKey string, target *string) string {
	if idempotencyKey == "" {
		return uuid.NewString()
	}
	scope := "*"
	if target != nil {
		scope = *target
	}
	return uuid.NewSHA1(eventIDNamespace, []byte(idempotencyKey+"|"+scope)).String()
}

// Poll returns the requester's undelivered events and marks them delivered.
func (q *EventQueue) Poll(ctx context.Context, req PollRequest) (PollResult, error) {
	if q == nil || q.Events == nil {
		return PollResult{}, errors.New("event repository is required")
	}
	if req.Requester == "" {
		return PollResult{}, fmt.Errorf("%w: requester is required", domain.ErrInvalidRequest)
	}
	result := PollResult{Events: []domain.Event{}, NextCursor: req.Cursor}

	allowed, err := q.allowedTypes(ctx, req.Requester, req.RIDTypes)
	if err != nil {
		return PollResult{}, err
	}
	if len(allowed) == 0 {
		return result, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPollLimit
	}
	if limit > MaxPollLimit {
		limit = MaxPollLimit
	}
	events, err := q.Events.ListPending(ctx, EventQuery{
		SourceNode: q.Self,
		Requester:  req.Requester,
		AfterSeq:   req.Cursor,
		RIDTypes:   allowed,
		Now:        q.now(),
		Limit:      limit,
	})
	if err != nil {
		return PollResult{}, err
	}
	if len(events) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.EventID)
	}
	if err := q.Events.MarkDelivered(ctx, q.Self, req.Requester, ids); err != nil {
		return PollResult{}, err
	}
	q.Metrics.EventsPolled(len(events))
	result.Events = events
	result.NextCursor = events[len(events)-1].Seq
	return result, nil
}

// allowedTypes intersects the requested types with the filters of approved edges toward requester.
func (q *EventQueue) allowedTypes(ctx context.Context, requester string, requested []string) ([]string, error) {
	if q.Edges == nil {
		return nil, nil
	}
	edges, err := q.Edges.ListApproved(ctx, q.Self, domain.DirectionOutgoing)
	if err != nil {
		return nil, err
	}
	granted := make(map[string]struct{})
	for _, e := range edges {
		if !e.Approved() || e.SourceNode != q.Self || e.TargetNode != requester {
			continue
		}
		for _, t := range e.RIDTypes {
			granted[t] = struct{}{}
		}
	}
	if len(requested) == 0 {
		out := make([]string, 0, len(granted))
		for t := range granted {
			out = append(out, t)
		}
		return normalizeRIDTypes(out), nil
	}
	var out []string
	for _, t := range requested {
		if _, ok := granted[t]; ok {
			out = append(out, t)
		}
	}
	return normalizeRIDTypes(out), nil
}

// Confirm records that node durably received the listed events. Unknown or expired ids are ignored.
func (q *EventQueue) Confirm(ctx context.Context, node string, eventIDs []string) (int, error) {
	if q == nil || q.Events == nil {
		return 0, errors.New("event repository is required")
	}
	if node == "" {
		return 0, fmt.Errorf("%w: node is required", domain.ErrInvalidRequest)
	}
	ids := dedupStrings(eventIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := q.Events.MarkConfirmed(ctx, q.Self, node, ids, q.now())
	if err != nil {
		return 0, err
	}
	q.Metrics.EventsConfirmed(n)
	return n, nil
}

// Compact deletes expired rows. Reads already ignore them.
func (q *EventQueue) Compact(ctx context.Context) (int64, error) {
	if q == nil || q.Events == nil {
		return 0, errors.New("event repository is required")
	}
	n, err := q.Events.DeleteExpired(ctx, q.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.Logger.Info("expired events compacted", zap.Int64("deleted", n))
	}
	return n, nil
}

func (q *EventQueue) now() time.Time {
	if q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// RunCompaction calls Compact every interval until ctx is done.
func (q *EventQueue) RunCompaction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.Compact(ctx); err != nil && ctx.Err() == nil {
				q.Logger.Warn("compaction failed", zap.Error(err))
			}
		}
	}
}
