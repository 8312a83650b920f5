package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestShutdownRunsAllCallbacks(t *testing.T) {
	m := NewManager()
	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		m.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
			defer wg.Done()
			ran.Add(1)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Shutdown(ctx)

	if got := ran.Load(); got != 3 {
		t.Fatalf("callbacks run = %d, want 3", got)
	}
}

func TestShutdownTimesOutOnStuckCallback(t *testing.T) {
	m := NewManager()
	release := make(chan struct{})
	m.OnShutdown(func(ctx context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		<-release
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.Shutdown(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not respect the context deadline")
	}
	close(release)
}

func TestShutdownWithNoCallbacks(t *testing.T) {
	NewManager().Shutdown(context.Background()) // returns immediately
}
