package usecase

import (
	"context"
	"errors"

	"octo/internal/domain"

	"go.uber.org/zap"
)

// PeerService answers the node-to-node protocol: poll, confirm, webhook receive.
// Every request envelope passes the trust validator before its payload is read.
type PeerService struct {
	Self      string
	Validator *EnvelopeValidator
	Queue     *EventQueue
	Intake    *IntakeService
	Edges     EdgeRepository
	Nodes     NodeRepository
	Logger    *zap.Logger
}

func NewPeerService(validator *EnvelopeValidator, queue *EventQueue, intake *IntakeService, edges EdgeRepository, nodes NodeRepository, logger *zap.Logger) *PeerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	self := ""
	if validator != nil {
		self = validator.Self()
	}
	return &PeerService{
		Self:      self,
		Validator: validator,
		Queue:     queue,
		Intake:    intake,
		Edges:     edges,
		Nodes:     nodes,
		Logger:    logger.With(zap.String("component", "peer_service")),
	}
}

func (s *PeerService) ready() error {
	if s == nil || s.Validator == nil || s.Queue == nil || s.Intake == nil {
		return errors.New("peer service is not configured")
	}
	return nil
}

// Poll serves a poll request and returns the sealed response.
func (s *PeerService) Poll(ctx context.Context, env domain.SignedEnvelope) (domain.SignedEnvelope, error) {
	if err := s.ready(); err != nil {
		return domain.SignedEnvelope{}, err
	}
	sender, err := s.Validator.Validate(ctx, env)
	if err != nil {
		return domain.SignedEnvelope{}, err
	}
	var req domain.PollPayload
	if err := DecodePayload(env, &req); err != nil {
		return domain.SignedEnvelope{}, err
	}
	result, err := s.Queue.Poll(ctx, PollRequest{
		Requester: env.SourceNode,
		Cursor:    req.Cursor,
		RIDTypes:  req.RIDTypes,
		Limit:     req.Limit,
	})
	if err != nil {
		return domain.SignedEnvelope{}, err
	}
	s.touch(ctx, sender)
	return s.Validator.Seal(domain.EventsPayload{Events: result.Events, NextCursor: result.NextCursor}, env.SourceNode)
}

// Confirm records the sender's receipt of the listed events.
func (s *PeerService) Confirm(ctx context.Context, env domain.SignedEnvelope) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	sender, err := s.Validator.Validate(ctx, env)
	if err != nil {
		return 0, err
	}
	var req domain.ConfirmPayload
	if err := DecodePayload(env, &req); err != nil {
		return 0, err
	}
	n, err := s.Queue.Confirm(ctx, env.SourceNode, req.EventIDs)
	if err != nil {
		return 0, err
	}
	s.touch(ctx, sender)
	return n, nil
}

// Receive ingests a webhook push. Events not originating from the sender or outside an approved
// edge filter are dropped.
func (s *PeerService) Receive(ctx context.Context, env domain.SignedEnvelope) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	sender, err := s.Validator.Validate(ctx, env)
	if err != nil {
		return nil, err
	}
	var payload domain.EventsPayload
	if err := DecodePayload(env, &payload); err != nil {
		return nil, err
	}
	var edges []domain.Edge
	if s.Edges != nil {
		edges, err = s.Edges.ListApproved(ctx, s.Self, domain.DirectionIncoming)
		if err != nil {
			return nil, err
		}
	}
	received := []string{}
	for _, ev := range payload.Events {
		if ev.SourceNode != env.SourceNode {
			s.Logger.Warn("dropping event relayed from another source",
				zap.String("sender", env.SourceNode),
				zap.String("source_node", ev.SourceNode),
			)
			continue
		}
		if !incomingCarries(edges, env.SourceNode, s.Self, ev.RID) {
			s.Logger.Warn("dropping event without an approved edge",
				zap.String("sender", env.SourceNode),
				zap.String("rid", ev.RID),
			)
			continue
		}
		if _, _, err := s.Intake.Receive(ctx, InboundEvent{Event: ev, AddressedTo: payload.AddressedTo, Staged: payload.Staged}); err != nil {
			return received, err
		}
		received = append(received, ev.EventID)
	}
	s.touch(ctx, sender)
	return received, nil
}

func incomingCarries(edges []domain.Edge, provider, self, rid string) bool {
	for _, e := range edges {
		if e.Approved() && e.SourceNode == provider && e.TargetNode == self && e.Carries(rid) {
			return true
		}
	}
	return false
}

func (s *PeerService) touch(ctx context.Context, sender *domain.Node) {
	if sender == nil || s.Nodes == nil {
		return
	}
	if err := s.Nodes.MarkSeen(ctx, sender.RID, s.Queue.now()); err != nil {
		s.Logger.Warn("mark seen failed", zap.String("node_rid", sender.RID), zap.Error(err))
	}
}
