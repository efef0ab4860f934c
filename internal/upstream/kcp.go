package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"noadproxy/internal/conf"
	"noadproxy/internal/flog"
	"noadproxy/internal/tnet/kcp"

	"github.com/cenkalti/backoff/v4"
)

var errHopClosed = errors.New("forward hop closed")

// redialWindow bounds how long one Open keeps retrying a dead session.
const redialWindow = 5 * time.Second

// KCPHop keeps one KCP session to the next proxy and opens a stream per
// tunnel. A broken session is replaced on the next Open.
type KCPHop struct {
	addr string
	cfg  *conf.KCP

	mu     sync.Mutex
	sess   *kcp.Session
	closed bool

	dial func(ctx context.Context, addr string, cfg *conf.KCP) (*kcp.Session, error)
}

func NewKCPHop(addr string, cfg *conf.KCP) *KCPHop {
	return &KCPHop{addr: addr, cfg: cfg, dial: kcp.Dial}
}

func (h *KCPHop) Open(ctx context.Context) (net.Conn, error) {
	// A fresh session may still fail its first stream if the peer went away
	// between dial and open, so try twice.
	var lastErr error
	for range 2 {
		sess, err := h.session(ctx)
		if err != nil {
			return nil, err
		}
		strm, err := sess.OpenStream()
		if err == nil {
			return strm, nil
		}
		flog.Debugf("failed to open stream on %s, redialing: %v", h.addr, err)
		h.markBroken(sess)
		lastErr = err
	}
	return nil, fmt.Errorf("open stream to %s: %w", h.addr, lastErr)
}

func (h *KCPHop) session(ctx context.Context) (*kcp.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errHopClosed
	}
	if h.sess != nil && !h.sess.IsClosed() {
		return h.sess, nil
	}
	if h.sess != nil {
		_ = h.sess.Close()
		h.sess = nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = redialWindow

	var sess *kcp.Session
	err := backoff.RetryNotify(func() error {
		s, err := h.dial(ctx, h.addr, h.cfg)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		sess = s
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		flog.Warnf("kcp session to %s failed, retrying in %v: %v", h.addr, d, err)
	})
	if err != nil {
		return nil, fmt.Errorf("connect forward %s: %w", h.addr, err)
	}
	flog.Infof("kcp session to %s established", h.addr)
	h.sess = sess
	return sess, nil
}

func (h *KCPHop) markBroken(sess *kcp.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess == sess {
		_ = h.sess.Close()
		h.sess = nil
	}
}

func (h *KCPHop) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if h.sess == nil {
		return nil
	}
	err := h.sess.Close()
	h.sess = nil
	return err
}

func (h *KCPHop) String() string { return "kcp://" + h.addr }
