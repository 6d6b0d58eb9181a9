package storage

import (
	"context"
	"sync"

	"github.com/yndnr/farmsync-go/pkg/cmap"
)

// deviceQueue serializes device-level writes (credentials, session).
// Partition queue ids always contain a '/', so it cannot collide.
const deviceQueue = "device"

type writeOp struct {
	fn     func() error
	result chan error
}

// partitionWriter drains the write operations of one partition in order.
type partitionWriter struct {
	ops  chan writeOp
	done chan struct{}
}

func (w *partitionWriter) run() {
	defer close(w.done)
	for op := range w.ops {
		op.result <- op.fn()
	}
}

// writerPool owns one single-writer goroutine per partition, created on
// first use.
type writerPool struct {
	mu      sync.RWMutex
	closed  bool
	writers *cmap.Map[*partitionWriter]
}

func newWriterPool() *writerPool {
	return &writerPool{writers: cmap.New[*partitionWriter]()}
}

// submit runs fn on the partition's writer and waits for its result.
// Once enqueued an operation always runs to completion.
func (p *writerPool) submit(ctx context.Context, partition string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result := make(chan error, 1)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	w := p.writers.Update(partition, func(existing *partitionWriter, exists bool) *partitionWriter {
		if exists {
			return existing
		}
		nw := &partitionWriter{
			ops:  make(chan writeOp, 16),
			done: make(chan struct{}),
		}
		go nw.run()
		return nw
	})
	w.ops <- writeOp{fn: fn, result: result}
	p.mu.RUnlock()

	return <-result
}

// close drains and stops every writer.
func (p *writerPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for _, w := range p.writers.Values() {
		close(w.ops)
		<-w.done
	}
	p.writers.Clear()
}

// active returns the number of partition writers started so far.
func (p *writerPool) active() int {
	return p.writers.Count()
}
