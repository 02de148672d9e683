package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"octo/internal/domain"

	"go.uber.org/zap"
)

// InboundEvent is one event as it arrived from a peer.
type InboundEvent struct {
	Event       domain.Event
	AddressedTo string
	Staged      bool
}

type ReviewRequest struct {
	DocumentRID string
	Decision    domain.IntakeStatus
	Reviewer    string
	Notes       string
}

// IntakeService stores documents received from peers and drives their review.
type IntakeService struct {
	Docs       IntakeRepository
	CommonsRID string
	Policy     IntakePolicy
	XRefs      *CrossReferenceService
	Notifier   IntakeNotifier
	Logger     *zap.Logger
	Metrics    Metrics
	Now        func() time.Time
}

func NewIntakeService(docs IntakeRepository, commonsRID string, policy IntakePolicy, xrefs *CrossReferenceService, notifier IntakeNotifier, logger *zap.Logger, metrics Metrics) *IntakeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeService{
		Docs:       docs,
		CommonsRID: commonsRID,
		Policy:     policy,
		XRefs:      xrefs,
		Notifier:   notifier,
		Logger:     logger.With(zap.String("component", "intake")),
		Metrics:    metricsOrNop(metrics),
		Now:        time.Now,
	}
}

// Receive persists an inbound event. A duplicate (sender, event_id) returns the stored record with created=false.
func (s *IntakeService) Receive(ctx context.Context, in InboundEvent) (domain.SharedDocument, bool, error) {
	if s == nil || s.Docs == nil {
		return domain.SharedDocument{}, false, errors.New("intake repository is required")
	}
	ev := in.Event
	if strings.TrimSpace(ev.RID) == "" || ev.SourceNode == "" {
		return domain.SharedDocument{}, false, fmt.Errorf("%w: event rid and source_node are required", domain.ErrInvalidRequest)
	}
	if !ev.EventType.Valid() {
		return domain.SharedDocument{}, false, fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidRequest, ev.EventType)
	}

	doc := domain.SharedDocument{
		DocumentRID:   ev.RID,
		SenderNode:    ev.SourceNode,
		EventType:     ev.EventType,
		Manifest:      ev.Manifest,
		Contents:      ev.Contents,
		RecipientType: s.recipientType(in),
		Status:        domain.DocumentReceived,
		IntakeStatus:  domain.IntakeNone,
		ReceivedAt:    s.now(),
	}
	if ev.EventID != "" {
		id := ev.EventID
		doc.EventID = &id
	}
	if in.Staged {
		doc.Status = domain.DocumentStaged
		doc.IntakeStatus = domain.IntakeStaged
	}
	if ev.EventType == domain.EventTypeForget {
		doc.Status = domain.DocumentRetracted
	}

	stored, created, err := s.Docs.Insert(ctx, doc)
	if err != nil {
		s.Metrics.IntakeReceived(ev.EventType, "error")
		return domain.SharedDocument{}, false, err
	}
	if !created {
		s.Metrics.IntakeReceived(ev.EventType, "duplicate")
		return stored, false, nil
	}
	s.Metrics.IntakeReceived(ev.EventType, "created")

	if ev.EventType == domain.EventTypeForget {
		n, err := s.Docs.RetractDocument(ctx, ev.RID, ev.SourceNode)
		if err != nil {
			return stored, true, err
		}
		s.Logger.Info("document retracted by sender",
			zap.String("document_rid", ev.RID),
			zap.String("sender_node", ev.SourceNode),
			zap.Int64("rows", n),
		)
		s.notify(ctx, stored)
		return stored, true, nil
	}

	stored = s.admit(ctx, stored)
	if s.XRefs != nil {
		s.XRefs.Enrich(ctx, stored)
	}
	s.notify(ctx, stored)
	return stored, true, nil
}

func (s *IntakeService) recipientType(in InboundEvent) domain.RecipientType {
	if s.CommonsRID == "" {
		return domain.RecipientPeer
	}
	if in.AddressedTo == s.CommonsRID {
		return domain.RecipientCommons
	}
	if in.Event.TargetNode != nil && *in.Event.TargetNode == s.CommonsRID {
		return domain.RecipientCommons
	}
	return domain.RecipientPeer
}

// admit runs the local admission policy. Commons documents always wait for a human.
func (s *IntakeService) admit(ctx context.Context, doc domain.SharedDocument) domain.SharedDocument {
	if s.Policy == nil {
		return doc
	}
	decision, err := s.Policy.Evaluate(ctx, domain.IntakePolicyInput{
		DocumentRID:   doc.DocumentRID,
		RIDType:       domain.RIDType(doc.DocumentRID),
		SenderNode:    doc.SenderNode,
		EventType:     doc.EventType,
		RecipientType: doc.RecipientType,
		IntakeStatus:  doc.IntakeStatus,
	})
	if err != nil {
		s.Logger.Warn("intake policy evaluation failed", zap.String("document_rid", doc.DocumentRID), zap.Error(err))
		return doc
	}
	switch decision.Decision {
	case domain.IntakeAccepted:
		if doc.RecipientType == domain.RecipientCommons {
			return doc
		}
	case domain.IntakeStaged:
		if doc.IntakeStatus.Rank() >= domain.IntakeStaged.Rank() {
			return doc
		}
	default:
		return doc
	}
	reviewed, err := s.applyDecision(ctx, doc, decision.Decision, "policy", decision.Reason)
	if err != nil {
		s.Logger.Warn("intake policy decision not applied", zap.String("document_rid", doc.DocumentRID), zap.Error(err))
		return doc
	}
	return reviewed
}

// Review moves the latest record of a document forward. Terminal states only accept the same decision again.
func (s *IntakeService) Review(ctx context.Context, req ReviewRequest) (domain.SharedDocument, error) {
	if s == nil || s.Docs == nil {
		return domain.SharedDocument{}, errors.New("intake repository is required")
	}
	if strings.TrimSpace(req.DocumentRID) == "" {
		return domain.SharedDocument{}, fmt.Errorf("%w: document_rid is required", domain.ErrInvalidRequest)
	}
	switch req.Decision {
	case domain.IntakeReviewed, domain.IntakeAccepted, domain.IntakeRejected:
	default:
		return domain.SharedDocument{}, fmt.Errorf("%w: decision must be reviewed, accepted or rejected", domain.ErrInvalidRequest)
	}
	doc, err := s.Docs.Latest(ctx, req.DocumentRID)
	if err != nil {
		return domain.SharedDocument{}, err
	}
	if doc.Status == domain.DocumentRetracted {
		return domain.SharedDocument{}, fmt.Errorf("%w: document %s was retracted", domain.ErrConflict, req.DocumentRID)
	}
	if doc.IntakeStatus == req.Decision && doc.IntakeStatus.Terminal() {
		return *doc, nil
	}
	updated, err := s.applyDecision(ctx, *doc, req.Decision, req.Reviewer, req.Notes)
	if err != nil {
		return domain.SharedDocument{}, err
	}
	s.notify(ctx, updated)
	return updated, nil
}

func (s *IntakeService) applyDecision(ctx context.Context, doc domain.SharedDocument, decision domain.IntakeStatus, reviewer, notes string) (domain.SharedDocument, error) {
	if doc.IntakeStatus.Terminal() {
		return domain.SharedDocument{}, fmt.Errorf("%w: intake already %s", domain.ErrConflict, doc.IntakeStatus)
	}
	if decision.Rank() < doc.IntakeStatus.Rank() {
		return domain.SharedDocument{}, fmt.Errorf("%w: cannot move intake from %s to %s", domain.ErrConflict, doc.IntakeStatus, decision)
	}
	now := s.now()
	doc.IntakeStatus = decision
	doc.ReviewedAt = &now
	doc.ReviewedBy = reviewer
	doc.ReviewNotes = notes
	if decision == domain.IntakeAccepted {
		doc.Status = domain.DocumentIngested
	}
	if err := s.Docs.UpdateReview(ctx, doc); err != nil {
		return domain.SharedDocument{}, err
	}
	s.Logger.Info("intake reviewed",
		zap.String("document_rid", doc.DocumentRID),
		zap.String("decision", string(decision)),
		zap.String("reviewer", reviewer),
	)
	return doc, nil
}

func (s *IntakeService) List(ctx context.Context, filter domain.IntakeFilter) ([]domain.SharedDocument, error) {
	if s == nil || s.Docs == nil {
		return nil, errors.New("intake repository is required")
	}
	return s.Docs.List(ctx, filter)
}

func (s *IntakeService) notify(ctx context.Context, doc domain.SharedDocument) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.DocumentChanged(ctx, doc); err != nil {
		s.Logger.Warn("intake notification failed", zap.String("document_rid", doc.DocumentRID), zap.Error(err))
	}
}

func (s *IntakeService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
