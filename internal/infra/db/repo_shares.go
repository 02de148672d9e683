package db

import (
	"context"
	"time"

	"octo/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ShareRepository struct {
	db *gorm.DB
}

func NewShareRepository(db *gorm.DB) *ShareRepository {
	return &ShareRepository{db: db}
}

// Record inserts the pair if absent and re-activates it if it was retracted.
func (r *ShareRepository) Record(ctx context.Context, documentRID, targetNode string, at time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := OutboundShareModel{DocumentRID: documentRID, TargetNode: targetNode, SharedAt: at.UTC()}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&OutboundShareModel{}).
		Where("document_rid = ? AND target_node = ? AND retracted_at IS NOT NULL", documentRID, targetNode).
		Updates(map[string]any{"shared_at": at.UTC(), "retracted_at": nil}).Error
}

func (r *ShareRepository) MarkRetracted(ctx context.Context, documentRID, targetNode string, at time.Time) (bool, error) {
	if r.db == nil {
		return false, errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&OutboundShareModel{}).
		Where("document_rid = ? AND target_node = ? AND retracted_at IS NULL", documentRID, targetNode).
		Update("retracted_at", at.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *ShareRepository) ListActiveByTarget(ctx context.Context, targetNode string) ([]domain.OutboundShare, error) {
	return r.listActive(ctx, "target_node = ?", targetNode)
}

func (r *ShareRepository) ListActiveByDocument(ctx context.Context, documentRID string) ([]domain.OutboundShare, error) {
	return r.listActive(ctx, "document_rid = ?", documentRID)
}

func (r *ShareRepository) listActive(ctx context.Context, cond string, arg string) ([]domain.OutboundShare, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []OutboundShareModel
	err := r.db.WithContext(ctx).
		Where(cond, arg).
		Where("retracted_at IS NULL").
		Order("shared_at ASC, document_rid ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.OutboundShare, 0, len(models))
	for _, m := range models {
		out = append(out, domain.OutboundShare{
			DocumentRID: m.DocumentRID,
			TargetNode:  m.TargetNode,
			SharedAt:    m.SharedAt.UTC(),
			RetractedAt: utcPtr(m.RetractedAt),
		})
	}
	return out, nil
}
