package presence

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create presence store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestHeartbeatAndSummary(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Heartbeat(ctx, "user-1"); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if err := store.Heartbeat(ctx, "user-2"); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	ids, err := store.OnlineUserIDs(ctx)
	if err != nil {
		t.Fatalf("OnlineUserIDs failed: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "user-1" || ids[1] != "user-2" {
		t.Fatalf("expected both users online, got %v", ids)
	}
}

func TestOnlineMarkerExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Heartbeat(ctx, "user-1"); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	ids, err := store.OnlineUserIDs(ctx)
	if err != nil {
		t.Fatalf("OnlineUserIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected marker to expire, got %v", ids)
	}
}

func TestMarkOffline(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Heartbeat(ctx, "user-1"); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if err := store.MarkOffline(ctx, "user-1"); err != nil {
		t.Fatalf("MarkOffline failed: %v", err)
	}

	ids, err := store.OnlineUserIDs(ctx)
	if err != nil {
		t.Fatalf("OnlineUserIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no users online, got %v", ids)
	}
}

func TestFileOpenAndClose(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.FileOpened(ctx, "f1", "user-1", "alice"); err != nil {
		t.Fatalf("FileOpened failed: %v", err)
	}
	if err := store.FileOpened(ctx, "f1", "user-2", "bob"); err != nil {
		t.Fatalf("FileOpened failed: %v", err)
	}

	participants, err := store.FileParticipants(ctx, "f1")
	if err != nil {
		t.Fatalf("FileParticipants failed: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("expected two participants, got %v", participants)
	}

	if err := store.FileClosed(ctx, "f1", "user-1"); err != nil {
		t.Fatalf("FileClosed failed: %v", err)
	}
	participants, err = store.FileParticipants(ctx, "f1")
	if err != nil {
		t.Fatalf("FileParticipants failed: %v", err)
	}
	if len(participants) != 1 || participants[0].Username != "bob" {
		t.Fatalf("expected only bob left, got %v", participants)
	}
}

func TestAbandonedFilePresenceExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.FileOpened(ctx, "f1", "user-1", "alice"); err != nil {
		t.Fatalf("FileOpened failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	participants, err := store.FileParticipants(ctx, "f1")
	if err != nil {
		t.Fatalf("FileParticipants failed: %v", err)
	}
	if len(participants) != 0 {
		t.Fatalf("expected presence to expire, got %v", participants)
	}
}
