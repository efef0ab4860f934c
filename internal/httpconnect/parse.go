// Package httpconnect reads and parses the single HTTP CONNECT request that
// opens a tunnel.
package httpconnect

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// OverflowLimit is the largest request the scanner will look through.
	OverflowLimit = 4096
	// UnderflowLimit is the shortest buffer worth parsing.
	UnderflowLimit = 32
)

var (
	crlf  = []byte("\r\n")
	crlf2 = []byte("\r\n\r\n")
	verb  = []byte("CONNECT")

	// ConnectEstablished is written to the client once a direct tunnel is up.
	ConnectEstablished = []byte("HTTP/1.1 200 Connection Established\r\n\r\n")
	// BadRequest is written to the client when the domain is blocked.
	BadRequest = []byte("HTTP/1.1 400 Bad Request\r\n\r\n")
)

var (
	ErrMalformed     = errors.New("malformed CONNECT request")
	ErrOverflow      = errors.New("CONNECT request exceeds maximum request size")
	ErrTimeout       = errors.New("timed out reading CONNECT request")
	ErrUnexpectedEOF = errors.New("connection closed before CONNECT request completed")
)

var hostPattern = regexp.MustCompile(`^([a-zA-Z0-9.-]+|\d{1,3}(\.\d{1,3}){3}):\d+$`)

// Parse looks for a complete CONNECT request at the start of buf.
//
// It returns the requested host:port and the length of the request including
// the blank line that ends its header section. A zero length with a nil error
// means buf does not hold a complete request yet and the caller should read
// more and call Parse again.
func Parse(buf []byte) (target string, n int, err error) {
	if len(buf) <= UnderflowLimit {
		return "", 0, nil
	}
	if !bytes.Equal(buf[:len(verb)], verb) {
		return "", 0, fmt.Errorf("%w: not a CONNECT verb", ErrMalformed)
	}

	lineEnd, err := scan(buf, 0, crlf)
	if err != nil || lineEnd < 0 {
		return "", 0, err
	}

	target, err = parseRequestLine(buf[:lineEnd])
	if err != nil {
		return "", 0, err
	}

	// The request line's own CRLF may already be the first half of the
	// terminator when the request carries no headers.
	end, err := scan(buf, lineEnd, crlf2)
	if err != nil || end < 0 {
		return "", 0, err
	}
	return target, end + len(crlf2), nil
}

// scan returns the index of the first sep at or after from, -1 when buf runs
// out first, or ErrOverflow once the search passes OverflowLimit.
func scan(buf []byte, from int, sep []byte) (int, error) {
	for i := from; ; i++ {
		if i > OverflowLimit {
			return -1, ErrOverflow
		}
		if len(buf)-i < len(sep) {
			return -1, nil
		}
		if bytes.Equal(buf[i:i+len(sep)], sep) {
			return i, nil
		}
	}
}

func parseRequestLine(line []byte) (string, error) {
	if !utf8.Valid(line) {
		return "", fmt.Errorf("%w: request line is not valid UTF-8", ErrMalformed)
	}
	segments := strings.Split(string(line), " ")
	if len(segments) != 3 {
		return "", fmt.Errorf("%w: request line has %d segments", ErrMalformed, len(segments))
	}
	if !strings.HasPrefix(segments[2], "HTTP/") {
		return "", fmt.Errorf("%w: bad protocol version %q", ErrMalformed, segments[2])
	}
	if !hostPattern.MatchString(segments[1]) {
		return "", fmt.Errorf("%w: bad host %q", ErrMalformed, segments[1])
	}
	return segments[1], nil
}

// Domain strips the trailing :port from a validated host:port.
func Domain(host string) (string, error) {
	i := strings.LastIndexByte(host, ':')
	if i < 0 {
		return "", fmt.Errorf("%w: %q should be domain:port", ErrMalformed, host)
	}
	return host[:i], nil
}
