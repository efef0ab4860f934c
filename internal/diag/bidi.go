package diag

import (
	"context"
	"io"
)

type closeWriter interface {
	CloseWrite() error
}

// halfClose shuts down the write side of c when it supports that.
func halfClose(c io.Closer) bool {
	cw, ok := c.(closeWriter)
	if !ok {
		return false
	}
	return cw.CloseWrite() == nil
}

// BidiCopy runs the two halves of a tunnel and returns once both have stopped.
// f1 copies from a into b, f2 copies from b into a.
//
// A half that ends cleanly only shuts down the write side of its destination
// when that end supports it, and the other half keeps running. An error, ctx
// being done, or a destination without a write shutdown closes both ends so
// the other half unblocks.
//
// The errors come back in the order of f1 and f2. Callers usually filter them
// through IsBenignStreamErr.
func BidiCopy(ctx context.Context, a io.Closer, b io.Closer, f1 func() error, f2 func() error) (error, error) {
	ch1 := make(chan error, 1)
	ch2 := make(chan error, 1)
	go func() { ch1 <- f1() }()
	go func() { ch2 <- f2() }()

	closed := false
	closeBoth := func() {
		if closed {
			return
		}
		closed = true
		if a != nil {
			_ = a.Close()
		}
		if b != nil {
			_ = b.Close()
		}
	}

	var err1, err2 error
	got1, got2 := false, false
	done := ctx.Done()
	for !got1 || !got2 {
		select {
		case <-done:
			done = nil
			closeBoth()
		case err1 = <-ch1:
			got1 = true
			if got2 || err1 != nil || !halfClose(b) {
				closeBoth()
			}
		case err2 = <-ch2:
			got2 = true
			if got1 || err2 != nil || !halfClose(a) {
				closeBoth()
			}
		}
	}
	closeBoth()
	return err1, err2
}

// Splice copies bytes both ways between a client and the connection opened on
// its behalf until both directions are done, counting the tunnel as active
// meanwhile.
func Splice(ctx context.Context, client, upstream io.ReadWriteCloser) (errUp, errDown error) {
	IncActive()
	defer DecActive()
	return BidiCopy(
		ctx,
		client,
		upstream,
		func() error { return CopyUp(upstream, client) },
		func() error { return CopyDown(client, upstream) },
	)
}
