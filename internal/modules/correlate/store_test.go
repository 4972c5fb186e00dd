// README: Redis-backed correlation tests (env-gated; run with RELAY_TEST_REDIS set).
package correlate

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestResolveRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	if err := store.RecordOutboundMessage(ctx, "wamid.test.1", "1001"); err != nil {
		t.Fatalf("record message: %v", err)
	}
	ref, ok, err := store.ResolveByMessageID(ctx, "wamid.test.1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !ok || ref != "1001" {
		t.Fatalf("resolve = (%q, %v), want (1001, true)", ref, ok)
	}

	_, ok, err = store.ResolveByMessageID(ctx, "wamid.test.unknown")
	if err != nil {
		t.Fatalf("resolve unknown: %v", err)
	}
	if ok {
		t.Fatal("expected unknown message id to miss")
	}
}

func TestPhoneLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	if err := store.RecordLatestOrderForPhone(ctx, "923001234567", "1001"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.RecordLatestOrderForPhone(ctx, "923001234567", "1002"); err != nil {
		t.Fatalf("record overwrite: %v", err)
	}
	ref, ok, err := store.ResolveByPhone(ctx, "923001234567")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !ok || ref != "1002" {
		t.Fatalf("resolve = (%q, %v), want (1002, true)", ref, ok)
	}
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("RELAY_TEST_REDIS")
	if addr == "" {
		t.Skip("RELAY_TEST_REDIS not set; skipping redis-backed correlation tests")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client)
}
