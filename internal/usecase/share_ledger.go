package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"octo/internal/domain"

	"go.uber.org/zap"
)

// EventPublisher is the publish side of the queue as the ledger sees it.
type EventPublisher interface {
	Publish(ctx context.Context, req PublishRequest) ([]domain.Event, error)
}

// EventPusher delivers already queued events over webhook edges.
type EventPusher interface {
	Push(ctx context.Context, events []domain.Event) error
}

// OffboardReport lists the documents retracted from a peer and those that could not be.
type OffboardReport struct {
	TargetNode  string   `json:"target_node"`
	Retracted   []string `json:"retracted"`
	Failed      []string `json:"failed,omitempty"`
	Deactivated bool     `json:"deactivated"`
}

// ShareLedger is the durable record of what was shared with whom. Retraction reads it, never the queue.
// FORGETs are queued first; webhook delivery runs once per batch and never holds a share active.
type ShareLedger struct {
	Shares   ShareRepository
	Queue    EventPublisher
	Delivery EventPusher
	Nodes    *NodeRegistry
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewShareLedger(shares ShareRepository, queue EventPublisher, delivery EventPusher, nodes *NodeRegistry, logger *zap.Logger) *ShareLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShareLedger{
		Shares:   shares,
		Queue:    queue,
		Delivery: delivery,
		Nodes:    nodes,
		Logger:   logger.With(zap.String("component", "share_ledger")),
		Now:      time.Now,
	}
}

// RecordShare is insert-if-absent; a retracted pair becomes active again.
func (l *ShareLedger) RecordShare(ctx context.Context, documentRID, targetNode string) error {
	if l == nil || l.Shares == nil {
		return errors.New("share repository is required")
	}
	if documentRID == "" || targetNode == "" {
		return fmt.Errorf("%w: document_rid and target_node are required", domain.ErrInvalidRequest)
	}
	return l.Shares.Record(ctx, documentRID, targetNode, l.now())
}

// Retract emits a FORGET to the target and then marks the share retracted.
// If the FORGET cannot be queued the share stays active.
func (l *ShareLedger) Retract(ctx context.Context, documentRID, targetNode string) error {
	events, err := l.retract(ctx, documentRID, targetNode)
	if err != nil {
		return err
	}
	l.push(ctx, events)
	return nil
}

func (l *ShareLedger) retract(ctx context.Context, documentRID, targetNode string) ([]domain.Event, error) {
	if l == nil || l.Shares == nil || l.Queue == nil {
		return nil, errors.New("share ledger is not configured")
	}
	if documentRID == "" || targetNode == "" {
		return nil, fmt.Errorf("%w: document_rid and target_node are required", domain.ErrInvalidRequest)
	}
	events, err := l.Queue.Publish(ctx, PublishRequest{
		RID:       documentRID,
		EventType: domain.EventTypeForget,
		Targets:   domain.Unicast(targetNode),
	})
	if err != nil {
		return nil, fmt.Errorf("emit forget: %w", err)
	}
	if _, err := l.Shares.MarkRetracted(ctx, documentRID, targetNode, l.now()); err != nil {
		return nil, err
	}
	l.Logger.Info("share retracted", zap.String("document_rid", documentRID), zap.String("target_node", targetNode))
	return events, nil
}

// push hands queued FORGETs to webhook delivery in one call, so each target gets one batch and one
// retry loop. Failures are logged; the events stay pollable.
func (l *ShareLedger) push(ctx context.Context, events []domain.Event) {
	if l.Delivery == nil || len(events) == 0 {
		return
	}
	if err := l.Delivery.Push(ctx, events); err != nil {
		l.Logger.Warn("forget delivery incomplete, events stay queued", zap.Int("events", len(events)), zap.Error(err))
	}
}

// RetractDocument retracts a document from every peer it is still shared with.
func (l *ShareLedger) RetractDocument(ctx context.Context, documentRID string) ([]string, error) {
	if l == nil || l.Shares == nil {
		return nil, errors.New("share repository is required")
	}
	shares, err := l.Shares.ListActiveByDocument(ctx, documentRID)
	if err != nil {
		return nil, err
	}
	var retracted []string
	var queued []domain.Event
	var errs []error
	for _, sh := range shares {
		events, err := l.retract(ctx, sh.DocumentRID, sh.TargetNode)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sh.TargetNode, err))
			continue
		}
		queued = append(queued, events...)
		retracted = append(retracted, sh.TargetNode)
	}
	l.push(ctx, queued)
	return retracted, errors.Join(errs...)
}

// Offboard retracts everything shared with a peer and deactivates it once nothing is left active.
func (l *ShareLedger) Offboard(ctx context.Context, target string) (OffboardReport, error) {
	if l == nil || l.Shares == nil {
		return OffboardReport{}, errors.New("share repository is required")
	}
	if l.Nodes != nil {
		node, err := l.Nodes.Lookup(ctx, target)
		if err != nil {
			return OffboardReport{}, err
		}
		target = node.RID
	}
	report := OffboardReport{TargetNode: target, Retracted: []string{}}
	shares, err := l.Shares.ListActiveByTarget(ctx, target)
	if err != nil {
		return report, err
	}
	var queued []domain.Event
	var errs []error
	for _, sh := range shares {
		events, err := l.retract(ctx, sh.DocumentRID, target)
		if err != nil {
			report.Failed = append(report.Failed, sh.DocumentRID)
			errs = append(errs, fmt.Errorf("%s: %w", sh.DocumentRID, err))
			continue
		}
		queued = append(queued, events...)
		report.Retracted = append(report.Retracted, sh.DocumentRID)
	}
	l.push(ctx, queued)
	if len(errs) > 0 {
		l.Logger.Warn("offboard incomplete",
			zap.String("target_node", target),
			zap.Int("retracted", len(report.Retracted)),
			zap.Int("failed", len(report.Failed)),
		)
		return report, errors.Join(errs...)
	}
	if l.Nodes != nil {
		if err := l.Nodes.Deactivate(ctx, target); err != nil {
			return report, err
		}
		report.Deactivated = true
	}
	l.Logger.Info("peer offboarded", zap.String("target_node", target), zap.Int("retracted", len(report.Retracted)))
	return report, nil
}

func (l *ShareLedger) ActiveShares(ctx context.Context, target string) ([]domain.OutboundShare, error) {
	if l == nil || l.Shares == nil {
		return nil, errors.New("share repository is required")
	}
	return l.Shares.ListActiveByTarget(ctx, target)
}

func (l *ShareLedger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}
