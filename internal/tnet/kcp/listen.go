package kcp

import (
	"fmt"
	"net"

	"noadproxy/internal/conf"

	"github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/smux"
)

type Listener struct {
	cfg *conf.KCP
	l   *kcp.Listener
}

// Listen binds a UDP address for peers dialing with Dial.
func Listen(addr string, cfg *conf.KCP) (*Listener, error) {
	l, err := kcp.ListenWithOptions(addr, cfg.Block, cfg.Dshard, cfg.Pshard)
	if err != nil {
		return nil, fmt.Errorf("kcp listen %s: %w", addr, err)
	}
	return &Listener{cfg: cfg, l: l}, nil
}

func (l *Listener) Accept() (*Session, error) {
	udp, err := l.l.AcceptKCP()
	if err != nil {
		return nil, err
	}
	tune(udp, l.cfg)
	mux, err := smux.Server(udp, muxConfig(l.cfg))
	if err != nil {
		_ = udp.Close()
		return nil, err
	}
	return &Session{udp: udp, mux: mux}, nil
}

func (l *Listener) Close() error { return l.l.Close() }

func (l *Listener) Addr() net.Addr { return l.l.Addr() }
