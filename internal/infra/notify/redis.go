package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"octo/internal/domain"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "octo:intake"

// DocumentChange is what subscribers of the intake channel receive.
type DocumentChange struct {
	ID            string                `json:"id"`
	DocumentRID   string                `json:"document_rid"`
	SenderNode    string                `json:"sender_node"`
	EventType     domain.EventType      `json:"event_type"`
	RecipientType domain.RecipientType  `json:"recipient_type"`
	Status        domain.DocumentStatus `json:"status"`
	IntakeStatus  domain.IntakeStatus   `json:"intake_status"`
	ReceivedAt    time.Time             `json:"received_at"`
}

// RedisNotifier publishes intake changes on a pub/sub channel for the note storage layer.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Channel() string {
	return n.channel
}

func (n *RedisNotifier) DocumentChanged(ctx context.Context, doc domain.SharedDocument) error {
	if n == nil || n.client == nil {
		return errors.New("redis notifier is not configured")
	}
	payload, err := json.Marshal(DocumentChange{
		ID:            doc.ID,
		DocumentRID:   doc.DocumentRID,
		SenderNode:    doc.SenderNode,
		EventType:     doc.EventType,
		RecipientType: doc.RecipientType,
		Status:        doc.Status,
		IntakeStatus:  doc.IntakeStatus,
		ReceivedAt:    doc.ReceivedAt,
	})
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}
