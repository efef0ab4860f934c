package httpconnect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// DefaultReadTimeout bounds each read of the request.
const DefaultReadTimeout = 2 * time.Second

// DeadlineReader is the part of a connection ReadRequest needs.
type DeadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// ReadRequest accumulates bytes from r until they end with the blank line
// closing a request header section. Every read gets its own timeout. The
// whole request has to fit in OverflowLimit bytes.
func ReadRequest(r DeadlineReader, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	defer r.SetReadDeadline(time.Time{})

	var buf [OverflowLimit]byte
	total := 0
	for {
		if total == len(buf) {
			return nil, ErrOverflow
		}
		if err := r.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			if isTimeout(err) {
				return nil, ErrTimeout
			}
			if errors.Is(err, io.EOF) {
				if complete(buf[:total]) {
					break
				}
				return nil, ErrUnexpectedEOF
			}
			return nil, err
		}
		if n == 0 {
			return nil, ErrUnexpectedEOF
		}
		if complete(buf[:total]) {
			break
		}
	}

	req := make([]byte, total)
	copy(req, buf[:total])
	return req, nil
}

func complete(b []byte) bool {
	return len(b) >= UnderflowLimit && bytes.HasSuffix(b, crlf2)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
