package db

import (
	"context"

	"octo/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CrossReferenceRepository struct {
	db *gorm.DB
}

func NewCrossReferenceRepository(db *gorm.DB) *CrossReferenceRepository {
	return &CrossReferenceRepository{db: db}
}

func (r *CrossReferenceRepository) Upsert(ctx context.Context, ref domain.CrossReference) (domain.CrossReference, error) {
	if r.db == nil {
		return domain.CrossReference{}, errDBUnavailable
	}
	model := CrossReferenceModel{
		LocalURI:     ref.LocalURI,
		RemoteRID:    ref.RemoteRID,
		RemoteNode:   ref.RemoteNode,
		Relationship: ref.Relationship,
		Confidence:   ref.Confidence,
		CreatedAt:    utc(ref.CreatedAt),
		UpdatedAt:    utc(ref.UpdatedAt),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "local_uri"}, {Name: "remote_rid"}},
			DoUpdates: clause.AssignmentColumns([]string{"remote_node", "relationship", "confidence", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return domain.CrossReference{}, mapErr(err)
	}
	var stored CrossReferenceModel
	if err := r.db.WithContext(ctx).First(&stored, "local_uri = ? AND remote_rid = ?", ref.LocalURI, ref.RemoteRID).Error; err != nil {
		return domain.CrossReference{}, mapErr(err)
	}
	return xrefFromModel(stored), nil
}

func (r *CrossReferenceRepository) ListByRemote(ctx context.Context, remoteRID string) ([]domain.CrossReference, error) {
	return r.list(ctx, "remote_rid = ?", remoteRID)
}

func (r *CrossReferenceRepository) ListByLocal(ctx context.Context, localURI string) ([]domain.CrossReference, error) {
	return r.list(ctx, "local_uri = ?", localURI)
}

func (r *CrossReferenceRepository) list(ctx context.Context, cond, arg string) ([]domain.CrossReference, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []CrossReferenceModel
	if err := r.db.WithContext(ctx).Where(cond, arg).Order("confidence DESC, local_uri ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.CrossReference, 0, len(models))
	for _, m := range models {
		out = append(out, xrefFromModel(m))
	}
	return out, nil
}

func xrefFromModel(m CrossReferenceModel) domain.CrossReference {
	return domain.CrossReference{
		LocalURI:     m.LocalURI,
		RemoteRID:    m.RemoteRID,
		RemoteNode:   m.RemoteNode,
		Relationship: m.Relationship,
		Confidence:   m.Confidence,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}
