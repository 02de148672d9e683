package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"octo/internal/domain"

	"go.uber.org/zap"
)

const maxPollPagesPerCycle = 10

// Poller pulls events from providers over approved POLL edges where this node is the receiver.
type Poller struct {
	Self      string
	Edges     EdgeRepository
	Nodes     NodeRepository
	Transport PeerTransport
	Validator *EnvelopeValidator
	Intake    *IntakeService
	Interval  time.Duration
	PageSize  int
	Logger    *zap.Logger
	Now       func() time.Time
}

func NewPoller(self string, edges EdgeRepository, nodes NodeRepository, transport PeerTransport, validator *EnvelopeValidator, intake *IntakeService, interval time.Duration, pageSize int, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if pageSize <= 0 {
		pageSize = DefaultPollLimit
	}
	return &Poller{
		Self:      self,
		Edges:     edges,
		Nodes:     nodes,
		Transport: transport,
		Validator: validator,
		Intake:    intake,
		Interval:  interval,
		PageSize:  pageSize,
		Logger:    logger.With(zap.String("component", "poller")),
		Now:       time.Now,
	}
}

type pollWorker struct {
	key    string
	cancel context.CancelFunc
}

// Run keeps one polling loop per approved incoming POLL edge until ctx is done.
// Edges are reconciled every interval so approvals and filter changes take effect.
func (p *Poller) Run(ctx context.Context) error {
	if p == nil || p.Edges == nil || p.Transport == nil || p.Intake == nil || p.Validator == nil {
		return errors.New("poller is not configured")
	}
	var wg sync.WaitGroup
	running := make(map[string]pollWorker)
	defer func() {
		for _, w := range running {
			w.cancel()
		}
		wg.Wait()
	}()

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		edges, err := p.pollEdges(ctx)
		if err != nil {
			p.Logger.Warn("edge reconciliation failed", zap.Error(err))
		} else {
			seen := make(map[string]struct{}, len(edges))
			for _, e := range edges {
				seen[e.RID] = struct{}{}
				key := edgeKey(e)
				if w, ok := running[e.RID]; ok {
					if w.key == key {
						continue
					}
					w.cancel()
				}
				wctx, cancel := context.WithCancel(ctx)
				running[e.RID] = pollWorker{key: key, cancel: cancel}
				wg.Add(1)
				go func(edge domain.Edge) {
					defer wg.Done()
					p.runEdge(wctx, edge)
				}(e)
			}
			for rid, w := range running {
				if _, ok := seen[rid]; !ok {
					w.cancel()
					delete(running, rid)
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) pollEdges(ctx context.Context) ([]domain.Edge, error) {
	edges, err := p.Edges.ListApproved(ctx, p.Self, domain.DirectionIncoming)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Edge, 0, len(edges))
	for _, e := range edges {
		if e.Approved() && e.EdgeType == domain.EdgeTypePoll && e.TargetNode == p.Self {
			out = append(out, e)
		}
	}
	return out, nil
}

func edgeKey(e domain.Edge) string {
	return e.SourceNode + "|" + strings.Join(e.RIDTypes, ",")
}

func (p *Poller) runEdge(ctx context.Context, edge domain.Edge) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		if _, err := p.PollOnce(ctx, edge); err != nil && ctx.Err() == nil {
			p.Logger.Warn("poll cycle failed",
				zap.String("edge_rid", edge.RID),
				zap.String("provider", edge.SourceNode),
				zap.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce drains the provider's pending events for one edge and confirms what was stored.
func (p *Poller) PollOnce(ctx context.Context, edge domain.Edge) (int, error) {
	provider, err := p.Nodes.Get(ctx, edge.SourceNode)
	if err != nil {
		return 0, err
	}
	if provider.BaseURL == "" {
		return 0, fmt.Errorf("%w: provider %s has no base url", domain.ErrInvalidRequest, provider.RID)
	}
	total := 0
	for page := 0; page < maxPollPagesPerCycle; page++ {
		n, full, err := p.pollPage(ctx, edge, provider)
		total += n
		if err != nil {
			return total, err
		}
		if !full {
			break
		}
	}
	if err := p.Nodes.MarkSeen(ctx, provider.RID, p.now()); err != nil {
		p.Logger.Warn("mark seen failed", zap.String("node_rid", provider.RID), zap.Error(err))
	}
	return total, nil
}

func (p *Poller) pollPage(ctx context.Context, edge domain.Edge, provider *domain.Node) (int, bool, error) {
	req, err := p.Validator.Seal(domain.PollPayload{RIDTypes: edge.RIDTypes, Limit: p.PageSize}, provider.RID)
	if err != nil {
		return 0, false, err
	}
	resp, err := p.Transport.Poll(ctx, provider.BaseURL, req)
	if err != nil {
		return 0, false, err
	}
	if _, err := p.Validator.ValidateFrom(ctx, resp, provider.RID); err != nil {
		return 0, false, err
	}
	var payload domain.EventsPayload
	if err := DecodePayload(resp, &payload); err != nil {
		return 0, false, err
	}
	if len(payload.Events) == 0 {
		return 0, false, nil
	}

	received := make([]string, 0, len(payload.Events))
	for _, ev := range payload.Events {
		if ev.SourceNode != provider.RID {
			p.Logger.Warn("dropping event relayed from another source",
				zap.String("provider", provider.RID),
				zap.String("source_node", ev.SourceNode),
				zap.String("event_id", ev.EventID),
			)
			continue
		}
		if !edge.Carries(ev.RID) {
			p.Logger.Warn("dropping event outside edge filter", zap.String("rid", ev.RID), zap.String("edge_rid", edge.RID))
			continue
		}
		if _, _, err := p.Intake.Receive(ctx, InboundEvent{Event: ev, AddressedTo: payload.AddressedTo, Staged: payload.Staged}); err != nil {
			p.Logger.Warn("intake failed", zap.String("event_id", ev.EventID), zap.Error(err))
			continue
		}
		received = append(received, ev.EventID)
	}
	if len(received) > 0 {
		confirm, err := p.Validator.Seal(domain.ConfirmPayload{EventIDs: received}, provider.RID)
		if err != nil {
			return len(received), false, err
		}
		if err := p.Transport.Confirm(ctx, provider.BaseURL, confirm); err != nil {
			return len(received), false, fmt.Errorf("confirm: %w", err)
		}
	}
	return len(received), len(payload.Events) >= p.PageSize, nil
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
