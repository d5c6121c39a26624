package shutdown

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
)

func TestShutdownRunsHandlersNewestFirst(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	var order []string
	for _, name := range []string{"postgres", "redis", "worker"} {
		name := name
		mgr.RegisterSimple(name, func() { order = append(order, name) })
	}

	mgr.Shutdown()

	want := []string{"worker", "redis", "postgres"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("expected order %v, got %v", want, order)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	var calls atomic.Int32
	mgr.RegisterSimple("once", func() { calls.Add(1) })

	mgr.Shutdown()
	mgr.Shutdown()

	if calls.Load() != 1 {
		t.Errorf("expected handler to run once, ran %d times", calls.Load())
	}
}

func TestShutdownCollectsErrors(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	var ranAfter bool
	mgr.RegisterSimple("after", func() { ranAfter = true })
	mgr.Register("failing", func(ctx context.Context) error {
		return fmt.Errorf("close failed")
	})

	mgr.Shutdown()

	if mgr.Err() == nil {
		t.Fatal("expected joined error")
	}
	if !ranAfter {
		t.Error("a failing handler must not stop the remaining ones")
	}
}

func TestDoneAndContext(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)
	ctx := mgr.Context()

	select {
	case <-mgr.Done():
		t.Fatal("done closed before shutdown")
	case <-ctx.Done():
		t.Fatal("context canceled before shutdown")
	default:
	}

	mgr.Shutdown()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("expected context to be canceled after shutdown")
	}
}

func TestShutdownTimeout(t *testing.T) {
	mgr := NewManager(logger.Discard(), 100*time.Millisecond)

	var skipped atomic.Bool
	skipped.Store(true)
	mgr.RegisterSimple("never", func() { skipped.Store(false) })
	mgr.Register("slow", func(ctx context.Context) error {
		time.Sleep(5 * time.Second)
		return nil
	})

	start := time.Now()
	mgr.Shutdown()

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown took too long: %v", elapsed)
	}
	if !skipped.Load() {
		t.Error("handlers after the deadline should be skipped")
	}
}

func TestWaitWithContext(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mgr.WaitWithContext(ctx)

	select {
	case <-mgr.Done():
	default:
		t.Error("expected shutdown to run after context cancel")
	}
}
