package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"octo/internal/domain"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultPushConcurrency = 8

// EnvelopeSealer wraps outbound payloads for a target node.
type EnvelopeSealer interface {
	Seal(payload any, target string) (domain.SignedEnvelope, error)
}

// DeliveryEngine pushes queued events to peers over approved WEBHOOK edges.
type DeliveryEngine struct {
	Self        string
	Queue       *EventQueue
	Edges       EdgeRepository
	Nodes       NodeRepository
	Transport   PeerTransport
	Sealer      EnvelopeSealer
	Retry       RetryPolicy
	Concurrency int
	Logger      *zap.Logger
	Metrics     Metrics
	Sleep       func(ctx context.Context, d time.Duration) error
}

func NewDeliveryEngine(queue *EventQueue, edges EdgeRepository, nodes NodeRepository, transport PeerTransport, sealer EnvelopeSealer, retry RetryPolicy, logger *zap.Logger, metrics Metrics) *DeliveryEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	self := ""
	if queue != nil {
		self = queue.Self
	}
	return &DeliveryEngine{
		Self:        self,
		Queue:       queue,
		Edges:       edges,
		Nodes:       nodes,
		Transport:   transport,
		Sealer:      sealer,
		Retry:       retry.normalized(),
		Concurrency: defaultPushConcurrency,
		Logger:      logger.With(zap.String("component", "delivery")),
		Metrics:     metricsOrNop(metrics),
		Sleep:       sleepContext,
	}
}

// Push delivers events to every concrete target reachable by webhook. Undeliverable events stay queued
// for polling; the returned error joins per-target failures.
func (d *DeliveryEngine) Push(ctx context.Context, events []domain.Event) error {
	if d == nil || d.Transport == nil || d.Queue == nil {
		return errors.New("delivery engine is not configured")
	}
	if len(events) == 0 {
		return nil
	}
	edges, err := d.Edges.ListApproved(ctx, d.Self, domain.DirectionOutgoing)
	if err != nil {
		return err
	}

	now := d.Queue.now()
	batches := make(map[string][]domain.Event)
	var order []string
	for _, e := range events {
		if e.TargetNode == nil || e.Expired(now) {
			continue
		}
		target := *e.TargetNode
		if !webhookCarries(edges, d.Self, target, e.RID) {
			continue
		}
		if _, ok := batches[target]; !ok {
			order = append(order, target)
		}
		batches[target] = append(batches[target], e)
	}
	if len(order) == 0 {
		return nil
	}

	limit := d.Concurrency
	if limit <= 0 {
		limit = defaultPushConcurrency
	}
	failures := make([]error, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, target := range order {
		g.Go(func() error {
			if err := d.pushTarget(gctx, target, batches[target]); err != nil {
				failures[i] = fmt.Errorf("push to %s: %w", target, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(failures...)
}

func webhookCarries(edges []domain.Edge, self, target, rid string) bool {
	for _, e := range edges {
		if e.Approved() && e.EdgeType == domain.EdgeTypeWebhook &&
			e.SourceNode == self && e.TargetNode == target && e.Carries(rid) {
			return true
		}
	}
	return false
}

func (d *DeliveryEngine) pushTarget(ctx context.Context, target string, events []domain.Event) error {
	node, err := d.Nodes.Get(ctx, target)
	if err != nil {
		return err
	}
	if node.BaseURL == "" {
		return fmt.Errorf("%w: node %s has no base url", domain.ErrInvalidRequest, target)
	}
	env, err := d.Sealer.Seal(domain.EventsPayload{Events: events}, target)
	if err != nil {
		return err
	}

	policy := d.Retry.normalized()
	sleep := d.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.Delay(attempt - 1)
			d.Logger.Debug("retrying webhook push",
				zap.String("target_node", target),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
		lastErr = d.Transport.Push(ctx, node.BaseURL, env)
		if lastErr == nil {
			d.Metrics.WebhookAttempt("success")
			return d.recordDelivered(ctx, target, events)
		}
		if !Retryable(lastErr) {
			d.Metrics.WebhookAttempt("rejected")
			break
		}
		d.Metrics.WebhookAttempt("retry")
	}
	d.Metrics.WebhookAttempt("exhausted")
	d.Logger.Warn("webhook push failed, events stay queued",
		zap.String("target_node", target),
		zap.Int("events", len(events)),
		zap.Error(lastErr),
	)
	return lastErr
}

func (d *DeliveryEngine) recordDelivered(ctx context.Context, target string, events []domain.Event) error {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.EventID)
	}
	if err := d.Queue.Events.MarkDelivered(ctx, d.Self, target, ids); err != nil {
		return err
	}
	if _, err := d.Queue.Confirm(ctx, target, ids); err != nil {
		return err
	}
	if err := d.Nodes.MarkSeen(ctx, target, d.Queue.now()); err != nil {
		d.Logger.Warn("mark seen failed", zap.String("node_rid", target), zap.Error(err))
	}
	return nil
}

// Publisher queues an event and then attempts immediate webhook delivery.
type Publisher struct {
	Queue    *EventQueue
	Delivery *DeliveryEngine
	Logger   *zap.Logger
}

func NewPublisher(queue *EventQueue, delivery *DeliveryEngine, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		Queue:    queue,
		Delivery: delivery,
		Logger:   logger.With(zap.String("component", "publisher")),
	}
}

// Publish never fails because of a push error; queued events remain pollable.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) ([]domain.Event, error) {
	if p == nil || p.Queue == nil {
		return nil, errors.New("event queue is required")
	}
	events, err := p.Queue.Publish(ctx, req)
	if err != nil {
		return events, err
	}
	if p.Delivery != nil {
		if err := p.Delivery.Push(ctx, events); err != nil {
			p.Logger.Warn("immediate delivery incomplete", zap.String("rid", req.RID), zap.Error(err))
		}
	}
	return events, nil
}
