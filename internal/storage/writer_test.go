package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/goleak"
)

func TestWriterPool_SerializesPerPartition(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := newWriterPool()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		running int
		maxSeen int
		total   int
	)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.submit(ctx, "A/f1", func() error {
				mu.Lock()
				running++
				if running > maxSeen {
					maxSeen = running
				}
				mu.Unlock()

				mu.Lock()
				running--
				total++
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("submit() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent writes = %d, want 1", maxSeen)
	}
	if total != 50 {
		t.Errorf("total = %d, want 50", total)
	}
	if got := p.active(); got != 1 {
		t.Errorf("active writers = %d, want 1", got)
	}

	p.close()
}

func TestWriterPool_PropagatesErrors(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := newWriterPool()
	defer p.close()

	boom := errors.New("boom")
	if err := p.submit(context.Background(), "A/f1", func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("submit() error = %v, want %v", err, boom)
	}
}

func TestWriterPool_Closed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := newWriterPool()
	if err := p.submit(context.Background(), "A/f1", func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	p.close()
	p.close()

	if err := p.submit(context.Background(), "A/f1", func() error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("submit() after close error = %v, want ErrClosed", err)
	}
}

func TestWriterPool_CancelledContext(t *testing.T) {
	p := newWriterPool()
	defer p.close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := p.submit(ctx, "A/f1", func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("submit() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("operation should not run with a cancelled context")
	}
}
