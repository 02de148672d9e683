package db

import (
	"context"
	"time"

	"octo/internal/domain"

	"gorm.io/gorm"
)

type EdgeRepository struct {
	db *gorm.DB
}

func NewEdgeRepository(db *gorm.DB) *EdgeRepository {
	return &EdgeRepository{db: db}
}

func (r *EdgeRepository) Create(ctx context.Context, edge domain.Edge) error {
	if r.db == nil {
		return errDBUnavailable
	}
	now := time.Now().UTC()
	model := EdgeModel{
		RID:        edge.RID,
		SourceNode: edge.SourceNode,
		TargetNode: edge.TargetNode,
		EdgeType:   string(edge.EdgeType),
		Status:     string(edge.Status),
		RIDTypes:   edge.RIDTypes,
		Metadata:   edge.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return mapErr(r.db.WithContext(ctx).Create(&model).Error)
}

func (r *EdgeRepository) Get(ctx context.Context, rid string) (*domain.Edge, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model EdgeModel
	if err := r.db.WithContext(ctx).First(&model, "rid = ?", rid).Error; err != nil {
		return nil, mapErr(err)
	}
	edge := edgeFromModel(model)
	return &edge, nil
}

func (r *EdgeRepository) UpdateStatus(ctx context.Context, rid string, status domain.EdgeStatus) error {
	return r.update(ctx, rid, map[string]any{"status": string(status)})
}

func (r *EdgeRepository) UpdateRIDTypes(ctx context.Context, rid string, ridTypes []string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	var model EdgeModel
	if err := r.db.WithContext(ctx).First(&model, "rid = ?", rid).Error; err != nil {
		return mapErr(err)
	}
	model.RIDTypes = ridTypes
	model.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(&model).Error
}

func (r *EdgeRepository) update(ctx context.Context, rid string, fields map[string]any) error {
	if r.db == nil {
		return errDBUnavailable
	}
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&EdgeModel{}).Where("rid = ?", rid).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *EdgeRepository) ListApproved(ctx context.Context, nodeRID string, direction domain.Direction) ([]domain.Edge, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	q := r.db.WithContext(ctx).Where("status = ?", string(domain.EdgeStatusApproved))
	switch direction {
	case domain.DirectionOutgoing:
		q = q.Where("source_node = ?", nodeRID)
	case domain.DirectionIncoming:
		q = q.Where("target_node = ?", nodeRID)
	default:
		q = q.Where("(source_node = ? OR target_node = ?)", nodeRID, nodeRID)
	}
	var models []EdgeModel
	if err := q.Order("created_at ASC, rid ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Edge, 0, len(models))
	for _, m := range models {
		out = append(out, edgeFromModel(m))
	}
	return out, nil
}

func edgeFromModel(model EdgeModel) domain.Edge {
	return domain.Edge{
		RID:        model.RID,
		SourceNode: model.SourceNode,
		TargetNode: model.TargetNode,
		EdgeType:   domain.EdgeType(model.EdgeType),
		Status:     domain.EdgeStatus(model.Status),
		RIDTypes:   model.RIDTypes,
		Metadata:   model.Metadata,
		CreatedAt:  model.CreatedAt.UTC(),
		UpdatedAt:  model.UpdatedAt.UTC(),
	}
}
