package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"octo/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EdgeRegistry manages subscription contracts between this node and its peers.
type EdgeRegistry struct {
	Edges  EdgeRepository
	Nodes  NodeRepository
	Logger *zap.Logger
}

func NewEdgeRegistry(edges EdgeRepository, nodes NodeRepository, logger *zap.Logger) *EdgeRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EdgeRegistry{
		Edges:  edges,
		Nodes:  nodes,
		Logger: logger.With(zap.String("component", "edge_registry")),
	}
}

// Propose records a new edge in PROPOSED state. Both endpoints must already be registered.
func (r *EdgeRegistry) Propose(ctx context.Context, edge domain.Edge) (domain.Edge, error) {
	if r == nil || r.Edges == nil {
		return domain.Edge{}, errors.New("edge repository is required")
	}
	if edge.SourceNode == "" || edge.TargetNode == "" {
		return domain.Edge{}, fmt.Errorf("%w: source_node and target_node are required", domain.ErrInvalidRequest)
	}
	if edge.SourceNode == edge.TargetNode {
		return domain.Edge{}, fmt.Errorf("%w: edge endpoints must differ", domain.ErrInvalidRequest)
	}
	switch edge.EdgeType {
	case domain.EdgeTypeWebhook, domain.EdgeTypePoll:
	case "":
		edge.EdgeType = domain.EdgeTypePoll
	default:
		return domain.Edge{}, fmt.Errorf("%w: unknown edge type %q", domain.ErrInvalidRequest, edge.EdgeType)
	}
	if r.Nodes != nil {
		for _, rid := range []string{edge.SourceNode, edge.TargetNode} {
			if _, err := r.Nodes.Get(ctx, rid); err != nil {
				return domain.Edge{}, err
			}
		}
	}
	if edge.RID == "" {
		edge.RID = "orn:" + domain.RIDTypeEdge + ":" + uuid.NewString()
	}
	edge.RIDTypes = normalizeRIDTypes(edge.RIDTypes)
	edge.Status = domain.EdgeStatusProposed
	if err := r.Edges.Create(ctx, edge); err != nil {
		return domain.Edge{}, err
	}
	r.Logger.Info("edge proposed",
		zap.String("edge_rid", edge.RID),
		zap.String("source_node", edge.SourceNode),
		zap.String("target_node", edge.TargetNode),
		zap.String("edge_type", string(edge.EdgeType)),
	)
	return edge, nil
}

// Approve moves an edge to APPROVED. Approving twice is a no-op.
func (r *EdgeRegistry) Approve(ctx context.Context, edgeRID string) (domain.Edge, error) {
	if r == nil || r.Edges == nil {
		return domain.Edge{}, errors.New("edge repository is required")
	}
	edge, err := r.Edges.Get(ctx, edgeRID)
	if err != nil {
		return domain.Edge{}, err
	}
	if edge.Approved() {
		return *edge, nil
	}
	if err := r.Edges.UpdateStatus(ctx, edgeRID, domain.EdgeStatusApproved); err != nil {
		return domain.Edge{}, err
	}
	edge.Status = domain.EdgeStatusApproved
	r.Logger.Info("edge approved", zap.String("edge_rid", edgeRID))
	return *edge, nil
}

// UpdateFilter replaces the set of RID types the edge carries.
func (r *EdgeRegistry) UpdateFilter(ctx context.Context, edgeRID string, ridTypes []string) (domain.Edge, error) {
	if r == nil || r.Edges == nil {
		return domain.Edge{}, errors.New("edge repository is required")
	}
	edge, err := r.Edges.Get(ctx, edgeRID)
	if err != nil {
		return domain.Edge{}, err
	}
	normalized := normalizeRIDTypes(ridTypes)
	if err := r.Edges.UpdateRIDTypes(ctx, edgeRID, normalized); err != nil {
		return domain.Edge{}, err
	}
	edge.RIDTypes = normalized
	return *edge, nil
}

// EdgesFor lists APPROVED edges touching nodeRID in the given direction.
func (r *EdgeRegistry) EdgesFor(ctx context.Context, nodeRID string, direction domain.Direction) ([]domain.Edge, error) {
	if r == nil || r.Edges == nil {
		return nil, errors.New("edge repository is required")
	}
	switch direction {
	case domain.DirectionOutgoing, domain.DirectionIncoming, domain.DirectionBoth:
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidRequest, direction)
	}
	edges, err := r.Edges.ListApproved(ctx, nodeRID, direction)
	if err != nil {
		return nil, err
	}
	out := edges[:0]
	for _, e := range edges {
		if e.Approved() {
			out = append(out, e)
		}
	}
	return out, nil
}

// ResourceTypesFor is the union of RID types over APPROVED edges from provider to requester.
func (r *EdgeRegistry) ResourceTypesFor(ctx context.Context, provider, requester string) ([]string, error) {
	edges, err := r.EdgesFor(ctx, provider, domain.DirectionOutgoing)
	if err != nil {
		return nil, err
	}
	var types []string
	for _, e := range edges {
		if e.TargetNode != requester {
			continue
		}
		types = append(types, e.RIDTypes...)
	}
	return normalizeRIDTypes(types), nil
}

func normalizeRIDTypes(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
