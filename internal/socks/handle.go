// Package socks is a SOCKS5 front-end that applies the same domain policy as
// the CONNECT listener.
package socks

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"noadproxy/internal/admission"
	"noadproxy/internal/flog"

	"github.com/txthinking/socks5"
)

const socksReplyBufCap = 4 + 1 + 255 + 2 // header + addr + port (max domain length 255)

var rPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, socksReplyBufCap)
		return &b
	},
}

// Backend decides and opens tunnels for the front-end.
type Backend interface {
	Admit(ctx context.Context) (*admission.Permit, error)
	Allowed(ctx context.Context, domain string) (bool, error)
	Terminal() bool
	DialTarget(ctx context.Context, target string) (net.Conn, error)
	OpenHop(ctx context.Context) (net.Conn, error)
}

type Server struct {
	b       Backend
	proto   *socks5.Server
	timeout time.Duration
	wg      sync.WaitGroup
}

// New returns a front-end for the listener bound to addr. timeout bounds the
// SOCKS5 handshake and, in chained mode, the wait for the next proxy's answer.
func New(b Backend, addr string, timeout time.Duration) (*Server, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	proto, err := socks5.NewClassicServer(addr, host, "", "", 0, 0)
	if err != nil {
		return nil, err
	}
	return &Server{b: b, proto: proto, timeout: timeout}, nil
}

// Serve accepts SOCKS5 clients from l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		permit, err := s.b.Admit(ctx)
		if err != nil {
			return nil
		}
		conn, err := l.Accept()
		if err != nil {
			permit.Release()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Go(func() {
			defer permit.Release()
			defer conn.Close()
			if err := s.handle(ctx, conn); err != nil {
				flog.Debugf("SOCKS5 connection from %s closed: %v", conn.RemoteAddr(), err)
			}
		})
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) error {
	_ = conn.SetDeadline(time.Now().Add(s.timeout))
	if err := s.proto.Negotiate(conn); err != nil {
		return err
	}
	r, err := s.proto.GetRequest(conn)
	if err != nil {
		return err
	}
	_ = conn.SetDeadline(time.Time{})

	if r.Cmd != socks5.CmdConnect {
		flog.Debugf("unsupported SOCKS5 command %d from %s", r.Cmd, conn.RemoteAddr())
		return writeReply(conn, socks5.RepCommandNotSupported, nil)
	}
	return s.handleConnect(ctx, conn, r)
}

// writeReply sends a SOCKS5 reply carrying bound, or the zero IPv4 address
// when bound is nil.
func writeReply(conn net.Conn, rep byte, bound *net.TCPAddr) error {
	if bound == nil {
		bound = &net.TCPAddr{IP: net.IPv4zero}
	}
	bufp := rPool.Get().(*[]byte)
	buf := (*bufp)[:0]
	defer func() {
		*bufp = buf[:0]
		rPool.Put(bufp)
	}()

	buf = append(buf, socks5.Ver, rep, 0x00)
	if ip4 := bound.IP.To4(); ip4 != nil {
		buf = append(buf, socks5.ATYPIPv4)
		buf = append(buf, ip4...)
	} else {
		buf = append(buf, socks5.ATYPIPv6)
		buf = append(buf, bound.IP.To16()...)
	}
	buf = append(buf, byte(bound.Port>>8), byte(bound.Port&0xff))
	_, err := conn.Write(buf)
	return err
}
