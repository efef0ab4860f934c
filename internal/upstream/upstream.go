// Package upstream opens the outbound side of a tunnel: either straight to the
// requested target or to the next proxy in the chain.
package upstream

import (
	"context"
	"fmt"
	"net"
	"time"

	"noadproxy/internal/conf"
)

// Direct dials requested targets over plain TCP.
type Direct struct {
	d net.Dialer
}

func NewDirect(timeout time.Duration) *Direct {
	return &Direct{d: net.Dialer{Timeout: timeout}}
}

func (d *Direct) Dial(ctx context.Context, target string) (net.Conn, error) {
	conn, err := d.d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("dial target %s: %w", target, err)
	}
	return conn, nil
}

// Hop is a connection source for the next proxy in the chain.
type Hop interface {
	Open(ctx context.Context) (net.Conn, error)
	Close() error
	String() string
}

// NewHop returns the hop described by the forward section.
func NewHop(cfg *conf.Forward, timeout time.Duration) (Hop, error) {
	switch cfg.Transport {
	case "tcp":
		return &tcpHop{addr: cfg.Addr.String(), d: net.Dialer{Timeout: timeout}}, nil
	case "kcp":
		if cfg.KCP == nil {
			return nil, fmt.Errorf("forward transport kcp has no kcp section")
		}
		return NewKCPHop(cfg.Addr.String(), cfg.KCP), nil
	default:
		return nil, fmt.Errorf("unknown forward transport %q", cfg.Transport)
	}
}

type tcpHop struct {
	addr string
	d    net.Dialer
}

func (h *tcpHop) Open(ctx context.Context) (net.Conn, error) {
	conn, err := h.d.DialContext(ctx, "tcp", h.addr)
	if err != nil {
		return nil, fmt.Errorf("dial forward %s: %w", h.addr, err)
	}
	return conn, nil
}

func (h *tcpHop) Close() error   { return nil }
func (h *tcpHop) String() string { return "tcp://" + h.addr }
