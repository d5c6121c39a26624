package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func TestKeyForIsStable(t *testing.T) {
	if KeyFor("b1") != KeyFor("b1") {
		t.Error("key not stable")
	}
	if KeyFor("b1") == KeyFor("b2") {
		t.Error("distinct bulletins share a key")
	}
}

// exerciseLocker checks the contract every Locker must satisfy.
func exerciseLocker(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()

	t.Run("exclusive", func(t *testing.T) {
		var acquired atomic.Int32
		var leases sync.Map
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				lease, ok, err := l.TryAcquire(ctx, "bulletin-x")
				if err != nil {
					t.Errorf("try acquire: %v", err)
					return
				}
				if ok {
					acquired.Add(1)
					leases.Store(i, lease)
				}
			}(i)
		}
		wg.Wait()

		if n := acquired.Load(); n != 1 {
			t.Fatalf("expected exactly one holder, got %d", n)
		}
		leases.Range(func(_, v any) bool {
			if err := v.(Lease).Release(ctx); err != nil {
				t.Errorf("release: %v", err)
			}
			return true
		})
	})

	t.Run("reacquire after release", func(t *testing.T) {
		lease, ok, err := l.TryAcquire(ctx, "bulletin-y")
		if err != nil || !ok {
			t.Fatalf("first acquire: ok=%v err=%v", ok, err)
		}
		if _, ok, _ := l.TryAcquire(ctx, "bulletin-y"); ok {
			t.Fatal("second acquire should fail while held")
		}
		if err := lease.Release(ctx); err != nil {
			t.Fatal(err)
		}
		if err := lease.Release(ctx); err != nil {
			t.Errorf("double release: %v", err)
		}
		again, ok, err := l.TryAcquire(ctx, "bulletin-y")
		if err != nil || !ok {
			t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
		}
		again.Release(ctx)
	})

	t.Run("independent keys", func(t *testing.T) {
		a, okA, _ := l.TryAcquire(ctx, "bulletin-a")
		b, okB, _ := l.TryAcquire(ctx, "bulletin-b")
		if !okA || !okB {
			t.Fatal("different bulletins must not contend")
		}
		a.Release(ctx)
		b.Release(ctx)
	})
}

func TestMemoryLocker(t *testing.T) {
	exerciseLocker(t, NewMemoryLocker())
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	exerciseLocker(t, NewRedisLocker(rdb, "test:lock:", time.Minute))
}

func TestPGLocker(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	exerciseLocker(t, NewPGLocker(pool))
}
