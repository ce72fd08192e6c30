package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type mockPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
	calls   chan struct{}
}

func (m *mockPruner) PruneSessions(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	m.cutoffs = append(m.cutoffs, cutoff)
	m.mu.Unlock()

	select {
	case m.calls <- struct{}{}:
	default:
	}
	return 2, m.err
}

func TestPruneSessions(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantLog string
	}{
		{name: "Pruned", wantLog: "Pruned idle sessions"},
		{name: "Store error", err: errors.New("disk full"), wantLog: "disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockPruner{err: tt.err, calls: make(chan struct{}, 8)}
			var logs syncBuffer
			logger := slog.New(slog.NewTextHandler(&logs, nil))

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			start := time.Now()
			go func() {
				defer close(done)
				pruneSessions(ctx, p, time.Hour, 10*time.Millisecond, logger)
			}()

			// The first run happens at start, the second after one interval.
			for range 2 {
				select {
				case <-p.calls:
				case <-time.After(time.Second):
					t.Fatal("PruneSessions was not called")
				}
			}
			cancel()
			<-done

			p.mu.Lock()
			defer p.mu.Unlock()
			if cutoff := p.cutoffs[0]; cutoff.After(start.Add(-time.Hour + time.Second)) {
				t.Errorf("cutoff = %v, want an hour before %v", cutoff, start)
			}
			if got := logs.String(); !strings.Contains(got, tt.wantLog) {
				t.Errorf("logs = %q, want to contain %q", got, tt.wantLog)
			}
		})
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
