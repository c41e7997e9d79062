//go:build integration

package activitylog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedisStore_Integration_AppendAndRecent(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(redisClient, RedisKey("posts"), 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		entry := Entry{Time: time.Now(), Status: StatusSuccess, Message: fmt.Sprintf("item %d", i)}
		if err := store.Append(ctx, entry); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	entries, err := store.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("len = %d, want 5 (capped)", len(entries))
	}
	if entries[0].Message != "item 3" || entries[4].Message != "item 7" {
		t.Errorf("unexpected order: first=%q last=%q", entries[0].Message, entries[4].Message)
	}

	latest, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent(2) error = %v", err)
	}
	if len(latest) != 2 || latest[1].Message != "item 7" {
		t.Errorf("Recent(2) = %+v", latest)
	}

	ttl, err := redisClient.TTL(ctx, RedisKey("posts")).Result()
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want (0, 1m]", ttl)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	entries, _ = store.Recent(ctx, 0)
	if len(entries) != 0 {
		t.Errorf("len after Clear = %d, want 0", len(entries))
	}
}
