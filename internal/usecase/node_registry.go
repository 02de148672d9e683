package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"octo/internal/domain"

	"go.uber.org/zap"
)

// NodeRegistry is the catalog of known peers.
type NodeRegistry struct {
	Nodes  NodeRepository
	Policy domain.TrustPolicy
	Logger *zap.Logger
	Now    func() time.Time
}

func NewNodeRegistry(nodes NodeRepository, policy domain.TrustPolicy, logger *zap.Logger) *NodeRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NodeRegistry{
		Nodes:  nodes,
		Policy: policy,
		Logger: logger.With(zap.String("component", "node_registry")),
		Now:    time.Now,
	}
}

// Upsert creates or refreshes a peer profile. A missing public key never clears one on file.
func (r *NodeRegistry) Upsert(ctx context.Context, node domain.Node) (domain.Node, error) {
	if r == nil || r.Nodes == nil {
		return domain.Node{}, errors.New("node repository is required")
	}
	node.RID = strings.TrimSpace(node.RID)
	if node.RID == "" {
		return domain.Node{}, fmt.Errorf("%w: node rid is required", domain.ErrInvalidRequest)
	}
	if domain.RIDType(node.RID) != domain.RIDTypeNode {
		return domain.Node{}, fmt.Errorf("%w: %q is not a node rid", domain.ErrInvalidRequest, node.RID)
	}
	if node.Type == "" {
		node.Type = domain.NodeTypeFull
	}
	if node.Type != domain.NodeTypeFull && node.Type != domain.NodeTypePartial {
		return domain.Node{}, fmt.Errorf("%w: unknown node type %q", domain.ErrInvalidRequest, node.Type)
	}
	if node.Status == "" {
		node.Status = domain.NodeStatusActive
	}
	node.BaseURL = strings.TrimRight(node.BaseURL, "/")
	return r.Nodes.Upsert(ctx, node)
}

// Register accepts a self-described profile. Key binding is applied here when enforced. A profile
// whose key differs from the one on file is refused with ErrKeyChanged.
func (r *NodeRegistry) Register(ctx context.Context, profile domain.Node) (domain.Node, error) {
	return r.register(ctx, profile, false)
}

// RegisterRotated is Register for a profile the current key holder has signed. It may replace the key.
func (r *NodeRegistry) RegisterRotated(ctx context.Context, profile domain.Node) (domain.Node, error) {
	return r.register(ctx, profile, true)
}

func (r *NodeRegistry) register(ctx context.Context, profile domain.Node, allowKeyChange bool) (domain.Node, error) {
	if r == nil || r.Nodes == nil {
		return domain.Node{}, errors.New("node repository is required")
	}
	if r.Policy.EnforceKeyBinding && !domain.KeyBoundToRID(profile.RID, profile.PublicKey) {
		return domain.Node{}, fmt.Errorf("%w: %w", domain.ErrPolicyRejected, domain.ErrKeyBindingMismatch)
	}
	existing, err := r.Nodes.Get(ctx, profile.RID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Node{}, err
	}
	if existing != nil && len(existing.PublicKey) > 0 && len(profile.PublicKey) > 0 &&
		!bytes.Equal(existing.PublicKey, profile.PublicKey) {
		if !allowKeyChange {
			return domain.Node{}, fmt.Errorf("%w: %w", domain.ErrPolicyRejected, domain.ErrKeyChanged)
		}
		r.Logger.Info("peer rotated its public key", zap.String("node_rid", profile.RID))
	}
	profile.Status = domain.NodeStatusActive
	profile.LastSeen = r.now()
	return r.Upsert(ctx, profile)
}

// Lookup resolves a RID or an alias to a node.
func (r *NodeRegistry) Lookup(ctx context.Context, ridOrAlias string) (*domain.Node, error) {
	if r == nil || r.Nodes == nil {
		return nil, errors.New("node repository is required")
	}
	ridOrAlias = strings.TrimSpace(ridOrAlias)
	if ridOrAlias == "" {
		return nil, fmt.Errorf("%w: node rid is required", domain.ErrInvalidRequest)
	}
	node, err := r.Nodes.Get(ctx, ridOrAlias)
	if err == nil {
		return node, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	rid, err := r.Nodes.ResolveAlias(ctx, ridOrAlias)
	if err != nil {
		return nil, err
	}
	return r.Nodes.Get(ctx, rid)
}

// Get satisfies NodeLookup for the envelope validator. Aliases are not resolved.
func (r *NodeRegistry) Get(ctx context.Context, rid string) (*domain.Node, error) {
	if r == nil || r.Nodes == nil {
		return nil, errors.New("node repository is required")
	}
	return r.Nodes.Get(ctx, rid)
}

func (r *NodeRegistry) MarkSeen(ctx context.Context, rid string) error {
	if r == nil || r.Nodes == nil {
		return errors.New("node repository is required")
	}
	return r.Nodes.MarkSeen(ctx, rid, r.now())
}

func (r *NodeRegistry) SetAlias(ctx context.Context, alias, rid string) error {
	if r == nil || r.Nodes == nil {
		return errors.New("node repository is required")
	}
	alias = strings.TrimSpace(alias)
	if alias == "" || rid == "" {
		return fmt.Errorf("%w: alias and node rid are required", domain.ErrInvalidRequest)
	}
	if _, err := r.Nodes.Get(ctx, rid); err != nil {
		return err
	}
	return r.Nodes.SetAlias(ctx, alias, rid)
}

func (r *NodeRegistry) Deactivate(ctx context.Context, rid string) error {
	if r == nil || r.Nodes == nil {
		return errors.New("node repository is required")
	}
	return r.Nodes.SetStatus(ctx, rid, domain.NodeStatusInactive)
}

func (r *NodeRegistry) List(ctx context.Context) ([]domain.Node, error) {
	if r == nil || r.Nodes == nil {
		return nil, errors.New("node repository is required")
	}
	return r.Nodes.List(ctx)
}

func (r *NodeRegistry) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}
