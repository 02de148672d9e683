package db

import (
	"context"
	"time"

	"octo/internal/domain"
	"octo/internal/usecase"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Insert(ctx context.Context, event domain.Event) (domain.Event, bool, error) {
	if r.db == nil {
		return domain.Event{}, false, errDBUnavailable
	}
	manifest, err := encodeManifest(event.Manifest)
	if err != nil {
		return domain.Event{}, false, err
	}
	model := EventModel{
		SourceNode:   event.SourceNode,
		EventID:      event.EventID,
		EventType:    string(event.EventType),
		RID:          event.RID,
		RIDType:      domain.RIDType(event.RID),
		ManifestJSON: manifest,
		Contents:     copyBytes(event.Contents),
		TargetNode:   event.TargetNode,
		QueuedAt:     utc(event.QueuedAt),
		ExpiresAt:    utc(event.ExpiresAt),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_node"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(&model)
	if res.Error != nil {
		return domain.Event{}, false, mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		var existing EventModel
		err := r.db.WithContext(ctx).
			First(&existing, "source_node = ? AND event_id = ?", event.SourceNode, event.EventID).Error
		if err != nil {
			return domain.Event{}, false, mapErr(err)
		}
		stored, err := eventFromModel(existing)
		return stored, false, err
	}
	stored, err := eventFromModel(model)
	return stored, true, err
}

// ListPending pages by seq, the insert order. The cursor is a seq, so ordering by anything else
// would let a page end past rows that were never returned.
func (r *EventRepository) ListPending(ctx context.Context, q usecase.EventQuery) ([]domain.Event, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if len(q.RIDTypes) == 0 {
		return []domain.Event{}, nil
	}
	delivered := r.db.Model(&EventReceiptModel{}).
		Select("1").
		Where("event_receipts.source_node = events.source_node").
		Where("event_receipts.event_id = events.event_id").
		Where("event_receipts.node_rid = ? AND event_receipts.kind = ?", q.Requester, receiptDelivered)

	query := r.db.WithContext(ctx).
		Where("events.source_node = ?", q.SourceNode).
		Where("events.expires_at > ?", q.Now.UTC()).
		Where("events.seq > ?", q.AfterSeq).
		Where("(events.target_node IS NULL OR events.target_node = ?)", q.Requester).
		Where("events.rid_type IN ?", q.RIDTypes).
		Where("NOT EXISTS (?)", delivered).
		Order("events.seq ASC")
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	var models []EventModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(models))
	for _, m := range models {
		e, err := eventFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := r.attachReceipts(ctx, q.SourceNode, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *EventRepository) attachReceipts(ctx context.Context, sourceNode string, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	ids := make([]string, 0, len(events))
	index := make(map[string]int, len(events))
	for i, e := range events {
		ids = append(ids, e.EventID)
		index[e.EventID] = i
	}
	var receipts []EventReceiptModel
	err := r.db.WithContext(ctx).
		Where("source_node = ? AND event_id IN ?", sourceNode, ids).
		Order("id ASC").
		Find(&receipts).Error
	if err != nil {
		return err
	}
	for _, rc := range receipts {
		i, ok := index[rc.EventID]
		if !ok {
			continue
		}
		switch rc.Kind {
		case receiptDelivered:
			events[i].DeliveredTo = append(events[i].DeliveredTo, rc.NodeRID)
		case receiptConfirmed:
			events[i].ConfirmedBy = append(events[i].ConfirmedBy, rc.NodeRID)
		}
	}
	return nil
}

func (r *EventRepository) MarkDelivered(ctx context.Context, sourceNode, nodeRID string, eventIDs []string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.addReceipts(ctx, sourceNode, nodeRID, receiptDelivered, eventIDs, time.Now().UTC())
}

// MarkConfirmed adds nodeRID to confirmed_by for the ids that exist and have not expired.
func (r *EventRepository) MarkConfirmed(ctx context.Context, sourceNode, nodeRID string, eventIDs []string, now time.Time) (int, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	if len(eventIDs) == 0 {
		return 0, nil
	}
	var known []string
	err := r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("source_node = ? AND event_id IN ? AND expires_at > ?", sourceNode, eventIDs, now.UTC()).
		Pluck("event_id", &known).Error
	if err != nil {
		return 0, err
	}
	if err := r.addReceipts(ctx, sourceNode, nodeRID, receiptConfirmed, known, now.UTC()); err != nil {
		return 0, err
	}
	return len(known), nil
}

func (r *EventRepository) addReceipts(ctx context.Context, sourceNode, nodeRID, kind string, eventIDs []string, at time.Time) error {
	if len(eventIDs) == 0 {
		return nil
	}
	rows := make([]EventReceiptModel, 0, len(eventIDs))
	for _, id := range eventIDs {
		rows = append(rows, EventReceiptModel{
			SourceNode: sourceNode,
			EventID:    id,
			NodeRID:    nodeRID,
			Kind:       kind,
			CreatedAt:  at,
		})
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// DeleteExpired removes expired events and receipts that no longer point at an event.
func (r *EventRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("expires_at <= ?", now.UTC()).Delete(&EventModel{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return tx.Exec(`DELETE FROM event_receipts WHERE NOT EXISTS (
			SELECT 1 FROM events
			WHERE events.source_node = event_receipts.source_node
			AND events.event_id = event_receipts.event_id)`).Error
	})
	return deleted, err
}

func eventFromModel(model EventModel) (domain.Event, error) {
	manifest, err := decodeManifest(model.ManifestJSON)
	if err != nil {
		return domain.Event{}, err
	}
	return domain.Event{
		Seq:        model.Seq,
		EventID:    model.EventID,
		EventType:  domain.EventType(model.EventType),
		RID:        model.RID,
		Manifest:   manifest,
		Contents:   rawJSON(model.Contents),
		SourceNode: model.SourceNode,
		TargetNode: model.TargetNode,
		QueuedAt:   model.QueuedAt.UTC(),
		ExpiresAt:  model.ExpiresAt.UTC(),
	}, nil
}
