// Package admission bounds the number of connections serviced at once.
package admission

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultCapacity is the number of concurrent tunnels allowed when the
// configuration does not say otherwise.
const DefaultCapacity = 1000

// Gate is a counting gate. Acquire blocks the caller while every slot is
// taken. After each acquisition the low-capacity hook fires when the free
// slots drop to a tenth of the capacity or less.
type Gate struct {
	sem       *semaphore.Weighted
	capacity  int64
	threshold int64
	inUse     atomic.Int64
	onLow     func(available int64)
}

// New returns a gate with capacity slots. onLow may be nil.
func New(capacity int, onLow func(available int64)) *Gate {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Gate{
		sem:       semaphore.NewWeighted(int64(capacity)),
		capacity:  int64(capacity),
		threshold: int64(capacity) / 10,
		onLow:     onLow,
	}
}

// Acquire waits for a free slot. The returned Permit must be released exactly
// once; extra Release calls are ignored.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	used := g.inUse.Add(1)
	if avail := g.capacity - used; avail <= g.threshold && g.onLow != nil {
		g.onLow(avail)
	}
	return &Permit{g: g}, nil
}

// TryAcquire takes a slot only if one is free right now.
func (g *Gate) TryAcquire() (*Permit, bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	used := g.inUse.Add(1)
	if avail := g.capacity - used; avail <= g.threshold && g.onLow != nil {
		g.onLow(avail)
	}
	return &Permit{g: g}, true
}

// Available is a racy snapshot of the free slots.
func (g *Gate) Available() int64 { return g.capacity - g.inUse.Load() }

func (g *Gate) InUse() int64 { return g.inUse.Load() }

func (g *Gate) Capacity() int64 { return g.capacity }

// Permit is one slot taken from a Gate.
type Permit struct {
	g    *Gate
	once sync.Once
}

func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.g.inUse.Add(-1)
		p.g.sem.Release(1)
	})
}
