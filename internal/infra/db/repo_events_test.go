package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"octo/internal/domain"
	"octo/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	srcNode = "orn:koi-net.node:src+01"
	nodeB   = "orn:koi-net.node:b+02"
	nodeC   = "orn:koi-net.node:c+03"
)

func queueEvent(t *testing.T, repo *EventRepository, id, rid string, target *string, queuedAt time.Time) domain.Event {
	t.Helper()
	stored, created, err := repo.Insert(context.Background(), domain.Event{
		EventID:    id,
		EventType:  domain.EventTypeNew,
		RID:        rid,
		Manifest:   &domain.Manifest{RID: rid, Timestamp: queuedAt},
		Contents:   json.RawMessage(`{"title":"x"}`),
		SourceNode: srcNode,
		TargetNode: target,
		QueuedAt:   queuedAt,
		ExpiresAt:  queuedAt.Add(time.Hour),
	})
	require.NoError(t, err)
	require.True(t, created)
	return stored
}

func TestEventRepository_InsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepository(setupTestDB(t))
	first := queueEvent(t, repo, "e1", "orn:note:1", nil, testNow)
	assert.NotZero(t, first.Seq)
	require.NotNil(t, first.Manifest)
	assert.Equal(t, "orn:note:1", first.Manifest.RID)

	again, created, err := repo.Insert(ctx, domain.Event{
		EventID:    "e1",
		EventType:  domain.EventTypeUpdate,
		RID:        "orn:note:other",
		SourceNode: srcNode,
		QueuedAt:   testNow,
		ExpiresAt:  testNow.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Seq, again.Seq)
	assert.Equal(t, "orn:note:1", again.RID)
	assert.JSONEq(t, `{"title":"x"}`, string(again.Contents))
}

func TestEventRepository_ListPendingFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepository(setupTestDB(t))
	queueEvent(t, repo, "open", "orn:note:1", nil, testNow)
	queueEvent(t, repo, "for-b", "orn:note:2", strPtr(nodeB), testNow.Add(time.Second))
	queueEvent(t, repo, "for-c", "orn:note:3", strPtr(nodeC), testNow.Add(2*time.Second))
	queueEvent(t, repo, "task", "orn:task:4", nil, testNow.Add(3*time.Second))

	query := usecase.EventQuery{
		SourceNode: srcNode,
		Requester:  nodeB,
		RIDTypes:   []string{"note"},
		Now:        testNow.Add(time.Minute),
		Limit:      10,
	}
	events, err := repo.ListPending(ctx, query)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "open", events[0].EventID)
	assert.Equal(t, "for-b", events[1].EventID)

	require.NoError(t, repo.MarkDelivered(ctx, srcNode, nodeB, []string{"open"}))
	events, err = repo.ListPending(ctx, query)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "for-b", events[0].EventID)

	query.Requester = nodeC
	events, err = repo.ListPending(ctx, query)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, []string{nodeB}, events[0].DeliveredTo)

	query.RIDTypes = nil
	events, err = repo.ListPending(ctx, query)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventRepository_ListPendingSkipsExpiredAndPages(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepository(setupTestDB(t))
	first := queueEvent(t, repo, "e1", "orn:note:1", nil, testNow)
	queueEvent(t, repo, "e2", "orn:note:2", nil, testNow.Add(time.Second))
	queueEvent(t, repo, "e3", "orn:note:3", nil, testNow.Add(2*time.Second))

	events, err := repo.ListPending(ctx, usecase.EventQuery{
		SourceNode: srcNode,
		Requester:  nodeB,
		RIDTypes:   []string{"note"},
		AfterSeq:   first.Seq,
		Now:        testNow,
		Limit:      1,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].EventID)

	events, err = repo.ListPending(ctx, usecase.EventQuery{
		SourceNode: srcNode,
		Requester:  nodeB,
		RIDTypes:   []string{"note"},
		Now:        testNow.Add(time.Hour).Add(time.Second),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e3", events[0].EventID)
}

func TestEventRepository_ListPendingCursorFollowsInsertOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepository(setupTestDB(t))
	late := queueEvent(t, repo, "late", "orn:note:1", nil, testNow.Add(2*time.Second))
	early := queueEvent(t, repo, "early", "orn:note:2", nil, testNow.Add(time.Second))
	require.Less(t, late.Seq, early.Seq)

	query := usecase.EventQuery{
		SourceNode: srcNode,
		Requester:  nodeB,
		RIDTypes:   []string{"note"},
		Now:        testNow,
		Limit:      1,
	}
	var seen []string
	for i := 0; i < 3; i++ {
		events, err := repo.ListPending(ctx, query)
		require.NoError(t, err)
		if len(events) == 0 {
			break
		}
		seen = append(seen, events[0].EventID)
		query.AfterSeq = events[len(events)-1].Seq
	}
	assert.Equal(t, []string{"late", "early"}, seen)
}

func TestEventRepository_ConfirmAndCompact(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepository(setupTestDB(t))
	queueEvent(t, repo, "old", "orn:note:1", nil, testNow.Add(-2*time.Hour))
	queueEvent(t, repo, "new", "orn:note:2", nil, testNow)

	n, err := repo.MarkConfirmed(ctx, srcNode, nodeB, []string{"old", "new", "missing"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = repo.MarkConfirmed(ctx, srcNode, nodeB, []string{"new"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, repo.MarkDelivered(ctx, srcNode, nodeB, []string{"old"}))

	deleted, err := repo.DeleteExpired(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var receipts []EventReceiptModel
	require.NoError(t, repo.db.Find(&receipts).Error)
	require.Len(t, receipts, 1)
	assert.Equal(t, "new", receipts[0].EventID)
	assert.Equal(t, receiptConfirmed, receipts[0].Kind)

	events, err := repo.ListPending(ctx, usecase.EventQuery{
		SourceNode: srcNode,
		Requester:  nodeC,
		RIDTypes:   []string{"note"},
		Now:        testNow,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{nodeB}, events[0].ConfirmedBy)
}
