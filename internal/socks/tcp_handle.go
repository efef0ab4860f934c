package socks

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"noadproxy/internal/diag"
	"noadproxy/internal/flog"

	"github.com/txthinking/socks5"
)

func (s *Server) handleConnect(ctx context.Context, conn net.Conn, r *socks5.Request) error {
	target := r.Address()
	host, _, err := net.SplitHostPort(target)
	if err != nil {
		_ = writeReply(conn, socks5.RepAddressNotSupported, nil)
		return err
	}

	ok, err := s.b.Allowed(ctx, host)
	if err != nil {
		diag.IncFailed()
		_ = writeReply(conn, socks5.RepServerFailure, nil)
		return err
	}
	if !ok {
		return writeReply(conn, socks5.RepNotAllowed, nil)
	}

	var out net.Conn
	if s.b.Terminal() {
		out, err = s.b.DialTarget(ctx, target)
		if err != nil {
			diag.IncFailed()
			_ = writeReply(conn, socks5.RepHostUnreachable, nil)
			return err
		}
		diag.IncDirect()
	} else {
		var rep byte
		out, rep, err = s.connectVia(ctx, target)
		if err != nil {
			diag.IncFailed()
			_ = writeReply(conn, rep, nil)
			return err
		}
		diag.IncChained()
	}
	defer out.Close()

	bound, _ := conn.LocalAddr().(*net.TCPAddr)
	if err := writeReply(conn, socks5.RepSuccess, bound); err != nil {
		return err
	}
	flog.Debugf("SOCKS5 tunnel %s -> %s established", conn.RemoteAddr(), target)

	errUp, errDown := diag.Splice(ctx, conn, out)
	if ctx.Err() != nil {
		return nil
	}
	if !diag.IsBenignStreamErr(errUp) {
		flog.Errorf("SOCKS5 tunnel %s -> %s failed (up): %v", conn.RemoteAddr(), target, errUp)
	}
	if !diag.IsBenignStreamErr(errDown) {
		flog.Errorf("SOCKS5 tunnel %s -> %s failed (down): %v", conn.RemoteAddr(), target, errDown)
	}
	return nil
}

// connectVia asks the next proxy for a tunnel to target with a CONNECT
// request and waits for its status line. On failure it also returns the
// SOCKS5 reply code to give the client.
func (s *Server) connectVia(ctx context.Context, target string) (net.Conn, byte, error) {
	out, err := s.b.OpenHop(ctx)
	if err != nil {
		return nil, socks5.RepNetworkUnreachable, err
	}

	_ = out.SetDeadline(time.Now().Add(s.timeout))
	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, target)
	if _, err := out.Write([]byte(req)); err != nil {
		_ = out.Close()
		return nil, socks5.RepNetworkUnreachable, err
	}

	br := bufio.NewReader(out)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		_ = out.Close()
		return nil, socks5.RepServerFailure, fmt.Errorf("read CONNECT response for %s: %w", target, err)
	}
	_ = resp.Body.Close()
	_ = out.SetDeadline(time.Time{})

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest:
		_ = out.Close()
		return nil, socks5.RepNotAllowed, fmt.Errorf("next proxy refused %s", target)
	default:
		_ = out.Close()
		return nil, socks5.RepServerFailure, fmt.Errorf("next proxy answered %s for %s", resp.Status, target)
	}
	if br.Buffered() > 0 {
		_ = out.Close()
		return nil, socks5.RepServerFailure, fmt.Errorf("next proxy sent data before the tunnel opened")
	}
	return out, socks5.RepSuccess, nil
}
