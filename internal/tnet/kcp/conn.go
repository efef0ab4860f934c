package kcp

import (
	"context"
	"errors"
	"fmt"
	"net"

	"noadproxy/internal/conf"

	"github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/smux"
)

// Session is one KCP association between two instances.
type Session struct {
	udp *kcp.UDPSession
	mux *smux.Session
}

// Dial opens a client session to a peer listening with Listen.
func Dial(ctx context.Context, addr string, cfg *conf.KCP) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	udp, err := kcp.DialWithOptions(addr, cfg.Block, cfg.Dshard, cfg.Pshard)
	if err != nil {
		return nil, fmt.Errorf("kcp dial %s: %w", addr, err)
	}
	tune(udp, cfg)
	mux, err := smux.Client(udp, muxConfig(cfg))
	if err != nil {
		_ = udp.Close()
		return nil, fmt.Errorf("smux client %s: %w", addr, err)
	}
	return &Session{udp: udp, mux: mux}, nil
}

// OpenStream starts a new tunnel on the session.
func (s *Session) OpenStream() (net.Conn, error) {
	strm, err := s.mux.OpenStream()
	if err != nil {
		return nil, err
	}
	return strm, nil
}

// AcceptStream waits for the peer to open a tunnel.
func (s *Session) AcceptStream() (net.Conn, error) {
	strm, err := s.mux.AcceptStream()
	if err != nil {
		return nil, err
	}
	return strm, nil
}

func (s *Session) IsClosed() bool { return s.mux.IsClosed() }

func (s *Session) RemoteAddr() net.Addr { return s.udp.RemoteAddr() }

func (s *Session) Close() error {
	return errors.Join(s.mux.Close(), s.udp.Close())
}
