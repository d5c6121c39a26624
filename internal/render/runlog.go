package render

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// MaxLogTail is how much of a run log is kept with the bulletin.
const MaxLogTail = 5000

// RunLog is the human-readable log of one render attempt. Lines are stamped
// with the time since the run started.
type RunLog struct {
	mu    sync.Mutex
	b     strings.Builder
	start time.Time
	now   func() time.Time
}

func NewRunLog() *RunLog {
	return &RunLog{start: time.Now(), now: time.Now}
}

func (l *RunLog) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(&l.b, "[%7.1fs] ", l.now().Sub(l.start).Seconds())
	fmt.Fprintf(&l.b, format, args...)
	l.b.WriteByte('\n')

	// Only the tail is ever persisted.
	if l.b.Len() > 8*MaxLogTail {
		keep := l.b.String()[l.b.Len()-2*MaxLogTail:]
		l.b.Reset()
		l.b.WriteString(keep)
	}
}

func (l *RunLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

// Tail returns the last MaxLogTail bytes.
func (l *RunLog) Tail() string {
	s := l.String()
	if len(s) <= MaxLogTail {
		return s
	}
	return s[len(s)-MaxLogTail:]
}
