package db

import (
	"context"
	"errors"

	"octo/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultIntakeListLimit = 200

type IntakeRepository struct {
	db *gorm.DB
}

func NewIntakeRepository(db *gorm.DB) *IntakeRepository {
	return &IntakeRepository{db: db}
}

func (r *IntakeRepository) Insert(ctx context.Context, doc domain.SharedDocument) (domain.SharedDocument, bool, error) {
	if r.db == nil {
		return domain.SharedDocument{}, false, errDBUnavailable
	}
	manifest, err := encodeManifest(doc.Manifest)
	if err != nil {
		return domain.SharedDocument{}, false, err
	}
	if doc.ID == "" {
		doc.ID = newUUID()
	}
	model := SharedDocumentModel{
		ID:            doc.ID,
		EventID:       doc.EventID,
		SenderNode:    doc.SenderNode,
		DocumentRID:   doc.DocumentRID,
		EventType:     string(doc.EventType),
		ManifestJSON:  manifest,
		Contents:      copyBytes(doc.Contents),
		RecipientType: string(doc.RecipientType),
		Status:        string(doc.Status),
		IntakeStatus:  string(doc.IntakeStatus),
		ReviewedAt:    utcPtr(doc.ReviewedAt),
		ReviewedBy:    doc.ReviewedBy,
		ReviewNotes:   doc.ReviewNotes,
		ReceivedAt:    utc(doc.ReceivedAt),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return domain.SharedDocument{}, false, mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		if doc.EventID == nil {
			return domain.SharedDocument{}, false, domain.ErrConflict
		}
		var existing SharedDocumentModel
		err := r.db.WithContext(ctx).
			First(&existing, "sender_node = ? AND event_id = ?", doc.SenderNode, *doc.EventID).Error
		if err != nil {
			return domain.SharedDocument{}, false, mapErr(err)
		}
		stored, err := documentFromModel(existing)
		return stored, false, err
	}
	stored, err := documentFromModel(model)
	return stored, true, err
}

// RetractDocument marks every record of the document from senderNode retracted, whatever its
// review state. Copies received from other senders are theirs to retract.
func (r *IntakeRepository) RetractDocument(ctx context.Context, documentRID, senderNode string) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&SharedDocumentModel{}).
		Where("document_rid = ? AND sender_node = ?", documentRID, senderNode).
		Update("status", string(domain.DocumentRetracted))
	return res.RowsAffected, res.Error
}

func (r *IntakeRepository) Latest(ctx context.Context, documentRID string) (*domain.SharedDocument, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SharedDocumentModel
	err := r.db.WithContext(ctx).
		Where("document_rid = ?", documentRID).
		Order("received_at DESC").
		First(&model).Error
	if err != nil {
		return nil, mapErr(err)
	}
	doc, err := documentFromModel(model)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateReview writes review fields unless the record was retracted in the meantime.
func (r *IntakeRepository) UpdateReview(ctx context.Context, doc domain.SharedDocument) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&SharedDocumentModel{}).
		Where("id = ? AND status <> ?", doc.ID, string(domain.DocumentRetracted)).
		Updates(map[string]any{
			"status":        string(doc.Status),
			"intake_status": string(doc.IntakeStatus),
			"reviewed_at":   utcPtr(doc.ReviewedAt),
			"reviewed_by":   doc.ReviewedBy,
			"review_notes":  doc.ReviewNotes,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&SharedDocumentModel{}).Where("id = ?", doc.ID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func (r *IntakeRepository) List(ctx context.Context, filter domain.IntakeFilter) ([]domain.SharedDocument, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	q := r.db.WithContext(ctx).Model(&SharedDocumentModel{})
	if filter.DocumentRID != "" {
		q = q.Where("document_rid = ?", filter.DocumentRID)
	}
	if filter.SenderNode != "" {
		q = q.Where("sender_node = ?", filter.SenderNode)
	}
	if filter.RecipientType != "" {
		q = q.Where("recipient_type = ?", string(filter.RecipientType))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.IntakeStatus != "" {
		q = q.Where("intake_status = ?", string(filter.IntakeStatus))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultIntakeListLimit
	}
	var models []SharedDocumentModel
	if err := q.Order("received_at ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.SharedDocument, 0, len(models))
	for _, m := range models {
		doc, err := documentFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func documentFromModel(model SharedDocumentModel) (domain.SharedDocument, error) {
	manifest, err := decodeManifest(model.ManifestJSON)
	if err != nil {
		return domain.SharedDocument{}, errors.Join(errors.New("decode stored manifest"), err)
	}
	return domain.SharedDocument{
		ID:            model.ID,
		EventID:       model.EventID,
		DocumentRID:   model.DocumentRID,
		SenderNode:    model.SenderNode,
		EventType:     domain.EventType(model.EventType),
		Manifest:      manifest,
		Contents:      rawJSON(model.Contents),
		RecipientType: domain.RecipientType(model.RecipientType),
		Status:        domain.DocumentStatus(model.Status),
		IntakeStatus:  domain.IntakeStatus(model.IntakeStatus),
		ReviewedAt:    utcPtr(model.ReviewedAt),
		ReviewedBy:    model.ReviewedBy,
		ReviewNotes:   model.ReviewNotes,
		ReceivedAt:    model.ReceivedAt.UTC(),
	}, nil
}
