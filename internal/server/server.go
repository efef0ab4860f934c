package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"noadproxy/internal/admission"
	"noadproxy/internal/blocklist"
	"noadproxy/internal/conf"
	"noadproxy/internal/diag"
	"noadproxy/internal/flog"
	"noadproxy/internal/socks"
	"noadproxy/internal/tnet/kcp"
	"noadproxy/internal/upstream"

	"github.com/patrickmn/go-cache"
)

// deniedQuiet is how long repeated denials of one domain stay out of the log.
const deniedQuiet = time.Minute

type Server struct {
	cfg      *conf.Conf
	checker  blocklist.Checker
	terminal bool

	dialer *upstream.Direct
	hop    upstream.Hop

	gate        *admission.Gate
	readTimeout time.Duration
	denied      *cache.Cache

	wg sync.WaitGroup
}

func New(cfg *conf.Conf, checker blocklist.Checker) (*Server, error) {
	s := &Server{
		cfg:         cfg,
		checker:     checker,
		terminal:    cfg.Terminal(),
		dialer:      upstream.NewDirect(cfg.Limits.DialTimeout),
		readTimeout: cfg.Limits.ReadTimeout,
		denied:      cache.New(deniedQuiet, 2*deniedQuiet),
	}
	s.gate = admission.New(cfg.Limits.MaxConns, func(available int64) {
		flog.Warnf("available permits %d (<=10%%)", available)
	})
	if !s.terminal {
		hop, err := upstream.NewHop(&cfg.Forward, cfg.Limits.DialTimeout)
		if err != nil {
			return nil, err
		}
		s.hop = hop
	}
	diag.TrackPermits(func() (int64, int64) {
		return s.gate.Available(), s.gate.Capacity()
	})
	return s, nil
}

// Start serves until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
			flog.Infof("Shutdown signal received, closing listeners and tunnels...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return s.Run(ctx)
}

// Run binds every configured listener and serves until ctx is done. Bind
// failures are returned before any connection is accepted.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen.Addr.String())
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", s.cfg.Listen.Addr, err)
	}
	closers := []func() error{ln.Close}
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()

	var kl *kcp.Listener
	if k := s.cfg.Listen.KCP; k != nil {
		kl, err = kcp.Listen(k.Addr.String(), &k.KCP)
		if err != nil {
			return fmt.Errorf("could not start KCP listener on %s: %w", k.Addr, err)
		}
		closers = append(closers, kl.Close)
	}

	var (
		sl  net.Listener
		srv *socks.Server
	)
	if s.cfg.Listen.SOCKS5 != nil {
		sl, err = net.Listen("tcp", s.cfg.Listen.SOCKS5.String())
		if err != nil {
			return fmt.Errorf("could not listen for SOCKS5 on %s: %w", s.cfg.Listen.SOCKS5, err)
		}
		closers = append(closers, sl.Close)
		srv, err = socks.New(s, sl.Addr().String(), s.readTimeout)
		if err != nil {
			return fmt.Errorf("could not start SOCKS5 front-end: %w", err)
		}
	}
	if s.hop != nil {
		closers = append(closers, s.hop.Close)
	}

	s.wg.Go(func() { s.Serve(ctx, ln) })
	if kl != nil {
		s.wg.Go(func() { s.serveKCP(ctx, kl) })
		flog.Infof("accepting KCP tunnels on %s", kl.Addr())
	}
	if srv != nil {
		s.wg.Go(func() {
			if err := srv.Serve(ctx, sl); err != nil {
				flog.Errorf("SOCKS5 front-end on %s stopped: %v", sl.Addr(), err)
			}
		})
		flog.Infof("SOCKS5 front-end listening on %s", sl.Addr())
	}

	if s.terminal {
		flog.Infof("noadproxy is listening on %s", ln.Addr())
	} else {
		flog.Infof("noadproxy is listening on %s and forwarding to %s", ln.Addr(), s.hop)
	}

	s.wg.Wait()
	flog.Infof("Server shutdown completed")
	return nil
}

// Serve accepts client connections from l until ctx is done. A permit is
// taken before each accept so a full gate stops accepting.
func (s *Server) Serve(ctx context.Context, l net.Listener) {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	acceptBackoff := 100 * time.Millisecond
	for {
		permit, err := s.gate.Acquire(ctx)
		if err != nil {
			return
		}
		conn, err := l.Accept()
		if err != nil {
			permit.Release()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			flog.Warnf("failed to accept connection on %s: %v", l.Addr(), err)
			time.Sleep(acceptBackoff)
			acceptBackoff = min(acceptBackoff*2, 5*time.Second)
			continue
		}
		acceptBackoff = 100 * time.Millisecond

		s.wg.Go(func() {
			defer permit.Release()
			s.serveConn(ctx, conn)
		})
	}
}

// serveKCP accepts sessions from downstream proxies. Each stream on a session
// is treated like one accepted client connection.
func (s *Server) serveKCP(ctx context.Context, l *kcp.Listener) {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	for {
		sess, err := l.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) && !diag.IsBenignStreamErr(err) {
				flog.Errorf("failed to accept KCP session: %v", err)
			}
			return
		}
		flog.Infof("accepted KCP session from %v", sess.RemoteAddr())
		s.wg.Go(func() { s.serveSession(ctx, sess) })
	}
}

// serveSession takes the permit once a stream has arrived, so an idle session
// holds none. While the gate is full the session stops accepting streams and
// smux queues the rest.
func (s *Server) serveSession(ctx context.Context, sess *kcp.Session) {
	stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
	defer stop()
	defer sess.Close()

	for {
		strm, err := sess.AcceptStream()
		if err != nil {
			if ctx.Err() == nil && !diag.IsBenignStreamErr(err) {
				flog.Errorf("KCP session from %v closed: %v", sess.RemoteAddr(), err)
			} else {
				flog.Debugf("KCP session from %v closed: %v", sess.RemoteAddr(), err)
			}
			return
		}
		permit, err := s.gate.Acquire(ctx)
		if err != nil {
			_ = strm.Close()
			return
		}
		s.wg.Go(func() {
			defer permit.Release()
			s.serveConn(ctx, strm)
		})
	}
}
