package services

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/soochol/inflow/internal/inbound"
)

// ConcurrencyLimiter bounds how many processes are reconciled at once and
// serializes work on the same process. It uses channel-based counting
// semaphores at two levels: per-process and global.
type ConcurrencyLimiter struct {
	global      chan struct{}
	perProcess  map[inbound.ProcessIdentity]chan struct{}
	mu          sync.Mutex
	limits      inbound.ConcurrencyLimits
	activeCount atomic.Int64
}

// NewConcurrencyLimiter creates a limiter with the given limits.
func NewConcurrencyLimiter(limits inbound.ConcurrencyLimits) *ConcurrencyLimiter {
	def := inbound.DefaultConcurrencyLimits()
	if limits.GlobalMax <= 0 {
		limits.GlobalMax = def.GlobalMax
	}
	if limits.PerProcess <= 0 {
		limits.PerProcess = def.PerProcess
	}

	return &ConcurrencyLimiter{
		global:     make(chan struct{}, limits.GlobalMax),
		perProcess: make(map[inbound.ProcessIdentity]chan struct{}),
		limits:     limits,
	}
}

// Acquire blocks until both a per-process and a global slot are available,
// or returns an error if the context is cancelled.
//
// The per-process slot is taken first so that callers queued behind the same
// process do not hold global slots while they wait.
func (c *ConcurrencyLimiter) Acquire(ctx context.Context, id inbound.ProcessIdentity) error {
	procCh := c.getOrCreateProcessChan(id)
	select {
	case procCh <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case c.global <- struct{}{}:
		c.activeCount.Add(1)
		return nil
	case <-ctx.Done():
		<-procCh
		return ctx.Err()
	}
}

// Release returns both the global and per-process slots.
func (c *ConcurrencyLimiter) Release(id inbound.ProcessIdentity) {
	c.activeCount.Add(-1)

	select {
	case <-c.global:
	default:
	}

	c.mu.Lock()
	ch, ok := c.perProcess[id]
	c.mu.Unlock()
	if ok {
		select {
		case <-ch:
		default:
		}
	}
}

// ConcurrencyStats reports current usage.
type ConcurrencyStats struct {
	Active     int `json:"active"`
	GlobalMax  int `json:"global_max"`
	PerProcess int `json:"per_process"`
}

// Stats returns the current concurrency statistics.
func (c *ConcurrencyLimiter) Stats() ConcurrencyStats {
	return ConcurrencyStats{
		Active:     int(c.activeCount.Load()),
		GlobalMax:  c.limits.GlobalMax,
		PerProcess: c.limits.PerProcess,
	}
}

func (c *ConcurrencyLimiter) getOrCreateProcessChan(id inbound.ProcessIdentity) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.perProcess[id]
	if !ok {
		ch = make(chan struct{}, c.limits.PerProcess)
		c.perProcess[id] = ch
	}
	return ch
}
