package db

import (
	"context"
	"errors"
	"time"

	"octo/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type NodeRepository struct {
	db *gorm.DB
}

func NewNodeRepository(db *gorm.DB) *NodeRepository {
	return &NodeRepository{db: db}
}

// Upsert merges into the stored profile. Empty fields in node keep the stored values.
func (r *NodeRepository) Upsert(ctx context.Context, node domain.Node) (domain.Node, error) {
	if r.db == nil {
		return domain.Node{}, errDBUnavailable
	}
	var out domain.Node
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		var existing NodeModel
		err := tx.First(&existing, "rid = ?", node.RID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			model := nodeToModel(node)
			model.CreatedAt = now
			model.UpdatedAt = now
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
			out = nodeFromModel(model)
			return nil
		case err != nil:
			return err
		}

		merged := mergeNode(existing, node)
		merged.UpdatedAt = now
		if err := tx.Save(&merged).Error; err != nil {
			return err
		}
		out = nodeFromModel(merged)
		return nil
	})
	if err != nil {
		return domain.Node{}, mapErr(err)
	}
	return out, nil
}

func mergeNode(existing NodeModel, node domain.Node) NodeModel {
	if node.Name != "" {
		existing.Name = node.Name
	}
	if node.Type != "" {
		existing.NodeType = string(node.Type)
	}
	if node.BaseURL != "" {
		existing.BaseURL = node.BaseURL
	}
	if len(node.PublicKey) > 0 {
		existing.PublicKey = copyBytes(node.PublicKey)
	}
	if len(node.ProvidesEvent) > 0 {
		existing.ProvidesEvent = node.ProvidesEvent
	}
	if len(node.ProvidesState) > 0 {
		existing.ProvidesState = node.ProvidesState
	}
	if node.Status != "" {
		existing.Status = string(node.Status)
	}
	if !node.LastSeen.IsZero() {
		seen := node.LastSeen.UTC()
		existing.LastSeen = &seen
	}
	return existing
}

func (r *NodeRepository) Get(ctx context.Context, rid string) (*domain.Node, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model NodeModel
	if err := r.db.WithContext(ctx).First(&model, "rid = ?", rid).Error; err != nil {
		return nil, mapErr(err)
	}
	node := nodeFromModel(model)
	return &node, nil
}

func (r *NodeRepository) ResolveAlias(ctx context.Context, alias string) (string, error) {
	if r.db == nil {
		return "", errDBUnavailable
	}
	var model NodeAliasModel
	if err := r.db.WithContext(ctx).First(&model, "alias = ?", alias).Error; err != nil {
		return "", mapErr(err)
	}
	return model.NodeRID, nil
}

func (r *NodeRepository) SetAlias(ctx context.Context, alias, rid string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := NodeAliasModel{Alias: alias, NodeRID: rid, CreatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "alias"}},
			DoUpdates: clause.AssignmentColumns([]string{"node_rid"}),
		}).
		Create(&model).Error
	return mapErr(err)
}

func (r *NodeRepository) MarkSeen(ctx context.Context, rid string, at time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&NodeModel{}).
		Where("rid = ?", rid).
		Update("last_seen", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *NodeRepository) SetStatus(ctx context.Context, rid string, status domain.NodeStatus) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&NodeModel{}).
		Where("rid = ?", rid).
		Updates(map[string]any{"status": string(status), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *NodeRepository) List(ctx context.Context) ([]domain.Node, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []NodeModel
	if err := r.db.WithContext(ctx).Order("rid ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Node, 0, len(models))
	for _, m := range models {
		out = append(out, nodeFromModel(m))
	}
	return out, nil
}

func nodeToModel(node domain.Node) NodeModel {
	model := NodeModel{
		RID:           node.RID,
		Name:          node.Name,
		NodeType:      string(node.Type),
		BaseURL:       node.BaseURL,
		PublicKey:     copyBytes(node.PublicKey),
		ProvidesEvent: node.ProvidesEvent,
		ProvidesState: node.ProvidesState,
		Status:        string(node.Status),
	}
	if model.Status == "" {
		model.Status = string(domain.NodeStatusActive)
	}
	if !node.LastSeen.IsZero() {
		seen := node.LastSeen.UTC()
		model.LastSeen = &seen
	}
	return model
}

func nodeFromModel(model NodeModel) domain.Node {
	node := domain.Node{
		RID:           model.RID,
		Name:          model.Name,
		Type:          domain.NodeType(model.NodeType),
		BaseURL:       model.BaseURL,
		PublicKey:     copyBytes(model.PublicKey),
		ProvidesEvent: model.ProvidesEvent,
		ProvidesState: model.ProvidesState,
		Status:        domain.NodeStatus(model.Status),
	}
	if model.LastSeen != nil {
		node.LastSeen = model.LastSeen.UTC()
	}
	return node
}
