package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGateNeverExceedsCapacity(t *testing.T) {
	const capacity = 16
	g := New(capacity, nil)

	var live, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 400; i++ {
		wg.Go(func() {
			p, err := g.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer p.Release()

			n := live.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			live.Add(-1)
		})
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int64(capacity))
	require.Equal(t, int64(capacity), g.Available())
	require.Zero(t, g.InUse())
}

func TestAcquireBlocksWhenFull(t *testing.T) {
	g := New(1, nil)
	p, err := g.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan *Permit)
	go func() {
		p2, err := g.Acquire(context.Background())
		if err == nil {
			acquired <- p2
		}
	}()

	select {
	case <-acquired:
		t.Fatalf("second acquire must wait for a release")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release()
	select {
	case p2 := <-acquired:
		p2.Release()
	case <-time.After(2 * time.Second):
		t.Fatalf("second acquire never woke up")
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	g := New(1, nil)
	p, err := g.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int64(1), g.InUse())
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := New(2, nil)
	p, err := g.Acquire(context.Background())
	require.NoError(t, err)
	p.Release()
	p.Release()
	require.Equal(t, int64(2), g.Available())

	var nilPermit *Permit
	nilPermit.Release()
}

func TestLowCapacityWarning(t *testing.T) {
	var warnings []int64
	g := New(20, func(avail int64) { warnings = append(warnings, avail) })

	var permits []*Permit
	for i := 0; i < 20; i++ {
		p, ok := g.TryAcquire()
		require.True(t, ok)
		permits = append(permits, p)
	}
	// Threshold is 2 free slots out of 20.
	require.Equal(t, []int64{2, 1, 0}, warnings)

	_, ok := g.TryAcquire()
	require.False(t, ok)

	for _, p := range permits {
		p.Release()
	}
	require.Equal(t, int64(20), g.Available())
}

func TestDefaultCapacity(t *testing.T) {
	g := New(0, nil)
	require.Equal(t, int64(DefaultCapacity), g.Capacity())
}
