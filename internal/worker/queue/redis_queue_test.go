package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx := context.Background()
	name := "test:renders:" + time.Now().Format("150405.000000")
	q := NewRedisQueue(rdb, name)
	defer rdb.Del(ctx, name)

	if err := q.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"b1", "b2"} {
		if err := q.Push(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := q.Len(ctx); n != 2 {
		t.Errorf("len = %d", n)
	}

	for _, want := range []string{"b1", "b2"} {
		got, err := q.Pop(ctx, time.Second)
		if err != nil || got != want {
			t.Fatalf("pop = %q, %v; want %q", got, err, want)
		}
	}

	got, err := q.Pop(ctx, time.Second)
	if err != nil || got != "" {
		t.Errorf("empty queue pop = %q, %v", got, err)
	}
}
