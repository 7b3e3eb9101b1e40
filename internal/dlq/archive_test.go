package dlq_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/leadflow/internal/dlq"
	"github.com/jonesrussell/leadflow/internal/domain"
	"github.com/jonesrussell/leadflow/internal/logger"
)

func newTestArchive(t *testing.T) (*dlq.Archive, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return dlq.NewArchive(client, logger.NewNopLogger()), mr
}

func TestArchive_FlushAndLoad(t *testing.T) {
	archive, _ := newTestArchive(t)
	ctx := context.Background()

	q := newTestQueue(3)
	addEvent(q, domain.EventTypeWebhookIngestion, "storage down")
	addEvent(q, domain.EventTypeOutboundNotification, "channel gone")

	if err := archive.Flush(ctx, q.Export()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	loaded, err := archive.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Load returned %d events, want 2", len(loaded))
	}

	// Round-trip back into a fresh queue via the Import merge
	restored := newTestQueue(3)
	if got := restored.Import(loaded); got != 2 {
		t.Errorf("Import = %d, want 2", got)
	}
}

func TestArchive_FlushEmptyIsNoOp(t *testing.T) {
	archive, _ := newTestArchive(t)
	if err := archive.Flush(context.Background(), nil); err != nil {
		t.Fatalf("Flush(nil) error = %v", err)
	}
}

func TestArchive_Delete(t *testing.T) {
	archive, _ := newTestArchive(t)
	ctx := context.Background()

	q := newTestQueue(3)
	id := addEvent(q, domain.EventTypeWebhookIngestion, "boom")
	if err := archive.Flush(ctx, q.Export()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if err := archive.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	loaded, err := archive.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("Load after Delete = %d events, want 0", len(loaded))
	}
}

func TestArchive_LoadSkipsCorruptEntries(t *testing.T) {
	archive, mr := newTestArchive(t)
	ctx := context.Background()

	good := domain.DeadLetterEvent{
		ID:      "good",
		Type:    domain.EventTypeWebhookIngestion,
		Payload: json.RawMessage(`{}`),
	}
	data, _ := json.Marshal(&good)
	mr.HSet("leadflow:dlq:events", "good", string(data))
	mr.HSet("leadflow:dlq:events", "bad", "{not json")

	loaded, err := archive.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "good" {
		t.Errorf("Load = %+v, want only the good event", loaded)
	}
}

func TestArchive_Clear(t *testing.T) {
	archive, _ := newTestArchive(t)
	ctx := context.Background()

	q := newTestQueue(3)
	addEvent(q, domain.EventTypeWebhookIngestion, "boom")
	if err := archive.Flush(ctx, q.Export()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if err := archive.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	loaded, _ := archive.Load(ctx)
	if len(loaded) != 0 {
		t.Errorf("Load after Clear = %d events", len(loaded))
	}
}
