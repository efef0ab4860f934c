package diag

import (
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"noadproxy/internal/pkg/buffer"
)

// CopyUp copies client bytes towards the target and counts them.
func CopyUp(dst io.Writer, src io.Reader) error {
	n, err := copyPooled(dst, src)
	AddUp(n)
	return err
}

// CopyDown copies target bytes back to the client and counts them.
func CopyDown(dst io.Writer, src io.Reader) error {
	n, err := copyPooled(dst, src)
	AddDown(n)
	return err
}

func copyPooled(dst io.Writer, src io.Reader) (int64, error) {
	bufp := buffer.Pool.Get().(*[]byte)
	defer buffer.Pool.Put(bufp)
	return copyWithWriteRetry(dst, src, *bufp)
}

func copyWithWriteRetry(dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	// Keep splice(2) for TCP to TCP.
	if rf, ok := dst.(io.ReaderFrom); ok {
		return readFromWithRetry(rf, src)
	}
	if wt, ok := src.(io.WriterTo); ok {
		return wt.WriteTo(&retryWriter{w: dst})
	}
	return io.CopyBuffer(&retryWriter{w: dst}, src, buf)
}

type retryWriter struct{ w io.Writer }

func (w *retryWriter) Write(p []byte) (int, error) {
	return writeFullWithRetry(w.w, p)
}

// newRetryBackoff paces retries of ENOBUFS/ENOMEM and gives up once 500ms
// have passed without progress.
func newRetryBackoff() *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Microsecond),
		backoff.WithMaxInterval(20*time.Millisecond),
		backoff.WithMaxElapsedTime(500*time.Millisecond),
		backoff.WithRandomizationFactor(0),
	)
}

func wait(bo backoff.BackOff) bool {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return false
	}
	time.Sleep(d)
	return true
}

func readFromWithRetry(dst io.ReaderFrom, src io.Reader) (int64, error) {
	var written int64
	bo := newRetryBackoff()
	for {
		n, err := dst.ReadFrom(src)
		if n > 0 {
			written += n
			bo.Reset()
		}
		if err == nil || errors.Is(err, io.EOF) {
			return written, nil
		}
		if !IsNoBufferOrNoMem(err) || !wait(bo) {
			return written, err
		}
	}
}

func writeFullWithRetry(dst io.Writer, p []byte) (int, error) {
	bo := newRetryBackoff()
	written := 0
	for len(p) > 0 {
		n, err := dst.Write(p)
		if n > 0 {
			written += n
			p = p[n:]
			bo.Reset()
		}
		if err == nil {
			if n == 0 {
				return written, io.ErrShortWrite
			}
			continue
		}
		if IsNoBufferOrNoMem(err) && wait(bo) {
			continue
		}
		return written, err
	}
	return written, nil
}
