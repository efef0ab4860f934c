package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"noadproxy/internal/admission"
	"noadproxy/internal/diag"
	"noadproxy/internal/flog"
	"noadproxy/internal/httpconnect"

	"github.com/patrickmn/go-cache"
)

// Decision is what happens to a tunnel once its request has been parsed.
type Decision int

const (
	Rejected Decision = iota
	Direct
	Chained
)

func (d Decision) String() string {
	switch d {
	case Rejected:
		return "rejected"
	case Direct:
		return "direct"
	case Chained:
		return "chained"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	err := s.handleConn(ctx, conn)
	if err == nil {
		return
	}
	diag.IncFailed()
	if ctx.Err() != nil || isQuiet(err) {
		flog.Debugf("connection from %v dropped: %v", conn.RemoteAddr(), err)
		return
	}
	flog.Errorf("connection from %v failed: %v", conn.RemoteAddr(), err)
}

// isQuiet reports failures caused by the client rather than by this proxy.
func isQuiet(err error) bool {
	return errors.Is(err, httpconnect.ErrMalformed) ||
		errors.Is(err, httpconnect.ErrOverflow) ||
		errors.Is(err, httpconnect.ErrTimeout) ||
		errors.Is(err, httpconnect.ErrUnexpectedEOF) ||
		diag.IsBenignStreamErr(err)
}

// handleConn runs one client through read, parse, policy and transfer. Any
// failure before a response leaves the client with nothing but a close.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) error {
	raw, err := httpconnect.ReadRequest(conn, s.readTimeout)
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	target, n, err := httpconnect.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse request: %w", err)
	}
	if n == 0 {
		flog.Debugf("request from %v carries no CONNECT target", conn.RemoteAddr())
		return nil
	}
	domain, err := httpconnect.Domain(target)
	if err != nil {
		return fmt.Errorf("parse request: %w", err)
	}

	decision, err := s.Decide(ctx, domain)
	if err != nil {
		return err
	}
	switch decision {
	case Rejected:
		_, err := conn.Write(httpconnect.BadRequest)
		return err
	case Direct:
		return s.direct(ctx, conn, target, raw[n:])
	default:
		return s.chain(ctx, conn, target, raw)
	}
}

// Decide looks domain up in the blocklist. Lookups are never cached.
func (s *Server) Decide(ctx context.Context, domain string) (Decision, error) {
	blocked, err := s.checker.IsDomainBlocked(ctx, domain)
	if err != nil {
		return Rejected, fmt.Errorf("blocklist lookup for %s: %w", domain, err)
	}
	if blocked {
		s.deny(domain)
		return Rejected, nil
	}
	if s.terminal {
		return Direct, nil
	}
	return Chained, nil
}

func (s *Server) deny(domain string) {
	diag.IncRejected()
	// Add fails while the domain is still remembered, which keeps a client
	// retrying a blocked host from flooding the log.
	if err := s.denied.Add(domain, struct{}{}, cache.DefaultExpiration); err == nil {
		flog.Infof("Denied connection to %s", domain)
	}
}

// direct connects to target itself. rest holds any client bytes that arrived
// after the request and is delivered to target ahead of the tunnel.
func (s *Server) direct(ctx context.Context, conn net.Conn, target string, rest []byte) error {
	out, err := s.DialTarget(ctx, target)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := conn.Write(httpconnect.ConnectEstablished); err != nil {
		return fmt.Errorf("write 200 to client: %w", err)
	}
	if len(rest) > 0 {
		if _, err := out.Write(rest); err != nil {
			return fmt.Errorf("write early data to %s: %w", target, err)
		}
		diag.AddUp(int64(len(rest)))
	}

	diag.IncDirect()
	flog.Debugf("tunnel %v -> %s established", conn.RemoteAddr(), target)
	return s.splice(ctx, conn, out, target)
}

// chain relays the untouched request to the next proxy, which answers the
// client itself.
func (s *Server) chain(ctx context.Context, conn net.Conn, target string, raw []byte) error {
	out, err := s.OpenHop(ctx)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.Write(raw); err != nil {
		return fmt.Errorf("write request to %s: %w", s.hop, err)
	}

	diag.IncChained()
	flog.Debugf("tunnel %v -> %s via %s established", conn.RemoteAddr(), target, s.hop)
	return s.splice(ctx, conn, out, target)
}

func (s *Server) splice(ctx context.Context, conn, out net.Conn, target string) error {
	errUp, errDown := diag.Splice(ctx, conn, out)
	flog.Debugf("tunnel %v -> %s closed", conn.RemoteAddr(), target)

	if ctx.Err() != nil {
		return nil
	}
	if !diag.IsBenignStreamErr(errUp) {
		return fmt.Errorf("tunnel to %s (up): %w", target, errUp)
	}
	if !diag.IsBenignStreamErr(errDown) {
		return fmt.Errorf("tunnel to %s (down): %w", target, errDown)
	}
	return nil
}

// DialTarget opens a plain TCP connection to target.
func (s *Server) DialTarget(ctx context.Context, target string) (net.Conn, error) {
	return s.dialer.Dial(ctx, target)
}

// OpenHop opens a connection to the next proxy.
func (s *Server) OpenHop(ctx context.Context) (net.Conn, error) {
	if s.hop == nil {
		return nil, errors.New("no forward hop in terminal mode")
	}
	return s.hop.Open(ctx)
}

// Allowed reports whether tunnels to domain may be opened.
func (s *Server) Allowed(ctx context.Context, domain string) (bool, error) {
	d, err := s.Decide(ctx, domain)
	return d != Rejected, err
}

func (s *Server) Admit(ctx context.Context) (*admission.Permit, error) {
	return s.gate.Acquire(ctx)
}

func (s *Server) Terminal() bool { return s.terminal }
