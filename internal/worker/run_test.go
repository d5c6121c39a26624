package worker

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
)

type fakeQueue struct {
	mu    sync.Mutex
	ids   []string
	fails int
}

func (q *fakeQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	q.mu.Lock()
	if q.fails > 0 {
		q.fails--
		q.mu.Unlock()
		return "", stderrors.New("connection reset")
	}
	if len(q.ids) > 0 {
		id := q.ids[0]
		q.ids = q.ids[1:]
		q.mu.Unlock()
		return id, nil
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(timeout):
		return "", nil
	}
}

type recordingHandler struct {
	mu   sync.Mutex
	seen []string
	done chan struct{}
	want int
}

func (h *recordingHandler) ProcessBulletin(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, id)
	if len(h.seen) == h.want {
		close(h.done)
	}
	if id == "bad" {
		return stderrors.New("render failed")
	}
	return nil
}

type countingSweeper struct{ calls int }

func (s *countingSweeper) MarkInterrupted(ctx context.Context, staleAfter time.Duration) (int64, error) {
	s.calls++
	return 1, nil
}

func TestRunDrainsQueue(t *testing.T) {
	q := &fakeQueue{ids: []string{"b1", "bad", "b2", "b3"}, fails: 2}
	h := &recordingHandler{done: make(chan struct{}), want: 4}
	sw := &countingSweeper{}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- Run(ctx, Deps{
			Queue:        q,
			Handler:      h,
			Sweeper:      sw,
			StaleAfter:   time.Hour,
			Concurrency:  2,
			PopTimeout:   10 * time.Millisecond,
			ErrorBackoff: time.Millisecond,
			Log:          logger.Discard(),
		})
	}()

	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue not drained")
	}
	cancel()

	select {
	case err := <-errc:
		if !stderrors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	h.mu.Lock()
	got := append([]string(nil), h.seen...)
	h.mu.Unlock()
	sort.Strings(got)
	want := []string{"b1", "b2", "b3", "bad"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("processed %v, want %v", got, want)
		}
	}
	if sw.calls != 1 {
		t.Errorf("sweeper ran %d times", sw.calls)
	}
}
