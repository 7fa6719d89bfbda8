package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes buffered log records on shutdown.
type Closer interface {
	Close()
}

// nopCloser backs synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// queuedRecord pairs a record with the handler it was enqueued through,
// so attrs and groups added via WithAttrs/WithGroup survive the queue.
type queuedRecord struct {
	h   slog.Handler
	rec slog.Record
}

// asyncCore is the queue and worker pool shared by an AsyncHandler and
// every derivative it spawns.
type asyncCore struct {
	ch      chan queuedRecord
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func (c *asyncCore) run() {
	defer c.wg.Done()
	for q := range c.ch {
		_ = q.h.Handle(context.Background(), q.rec)
	}
}

// AsyncHandler decouples log emission from IO: Handle enqueues, a worker
// pool writes. When the queue is full the record is dropped rather than
// blocking the caller.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

// NewAsyncHandler wraps inner with a queue of the given capacity drained
// by the given number of workers.
func NewAsyncHandler(inner slog.Handler, queueSize, workers int) *AsyncHandler {
	core := &asyncCore{ch: make(chan queuedRecord, queueSize)}
	for range workers {
		core.wg.Add(1)
		go core.run()
	}
	return &AsyncHandler{inner: inner, core: core}
}

// Enabled delegates to the wrapped handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.core.ch <- queuedRecord{h: h.inner, rec: rec}:
	default:
		h.core.dropped.Add(1)
	}
	return nil
}

// WithAttrs derives a handler sharing the same queue and workers.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

// WithGroup derives a handler sharing the same queue and workers.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// DroppedCount returns how many records were discarded on a full queue.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.core.dropped.Load()
}

// Close drains the queue, stops the workers, and reports any drops
// through the wrapped handler.
func (h *AsyncHandler) Close() {
	close(h.core.ch)
	h.core.wg.Wait()

	if n := h.core.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async logger dropped records", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.inner.Handle(context.Background(), rec)
	}
}
