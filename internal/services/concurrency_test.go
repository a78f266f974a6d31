package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soochol/inflow/internal/inbound"
)

var (
	limProcA = inbound.ProcessIdentity{ProcessKey: "proc-a", TenantID: "t1"}
	limProcB = inbound.ProcessIdentity{ProcessKey: "proc-b", TenantID: "t1"}
	limProcC = inbound.ProcessIdentity{ProcessKey: "proc-c", TenantID: "t1"}
)

func TestConcurrencyLimiter_BasicAcquireRelease(t *testing.T) {
	limiter := NewConcurrencyLimiter(inbound.ConcurrencyLimits{GlobalMax: 2, PerProcess: 1})
	ctx := context.Background()

	if err := limiter.Acquire(ctx, limProcA); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if stats := limiter.Stats(); stats.Active != 1 {
		t.Fatalf("expected 1 active, got %d", stats.Active)
	}

	limiter.Release(limProcA)
	if stats := limiter.Stats(); stats.Active != 0 {
		t.Fatalf("expected 0 active, got %d", stats.Active)
	}
}

func TestConcurrencyLimiter_Defaults(t *testing.T) {
	limiter := NewConcurrencyLimiter(inbound.ConcurrencyLimits{})
	stats := limiter.Stats()
	if stats.GlobalMax != 10 || stats.PerProcess != 1 {
		t.Fatalf("unexpected defaults: %+v", stats)
	}
}

func TestConcurrencyLimiter_GlobalLimit(t *testing.T) {
	limiter := NewConcurrencyLimiter(inbound.ConcurrencyLimits{GlobalMax: 2, PerProcess: 1})
	ctx := context.Background()

	limiter.Acquire(ctx, limProcA)
	limiter.Acquire(ctx, limProcB)

	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	if err := limiter.Acquire(timeoutCtx, limProcC); err == nil {
		t.Fatal("expected timeout error, got nil")
	}

	// the timed-out caller must not keep its per-process slot
	limiter.Release(limProcA)
	if err := limiter.Acquire(ctx, limProcC); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestConcurrencyLimiter_SerializesSameProcess(t *testing.T) {
	limiter := NewConcurrencyLimiter(inbound.ConcurrencyLimits{GlobalMax: 10, PerProcess: 1})
	ctx := context.Background()

	limiter.Acquire(ctx, limProcA)

	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(timeoutCtx, limProcA); err == nil {
		t.Fatal("expected timeout error for same process, got nil")
	}

	if err := limiter.Acquire(ctx, limProcB); err != nil {
		t.Fatalf("different process should succeed: %v", err)
	}

	limiter.Release(limProcA)
	limiter.Release(limProcB)
}

func TestConcurrencyLimiter_NoOverlapPerProcess(t *testing.T) {
	limiter := NewConcurrencyLimiter(inbound.ConcurrencyLimits{GlobalMax: 5, PerProcess: 1})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(ctx, limProcA); err != nil {
				return
			}
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			limiter.Release(limProcA)
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Fatal("two holders for the same process at once")
	}
	if stats := limiter.Stats(); stats.Active != 0 {
		t.Fatalf("expected 0 active after all done, got %d", stats.Active)
	}
}
