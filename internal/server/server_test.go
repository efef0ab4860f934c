package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	kcpgo "github.com/xtaci/kcp-go/v5"

	"noadproxy/internal/conf"
	"noadproxy/internal/diag"
	"noadproxy/internal/httpconnect"
	"noadproxy/internal/tnet/kcp"
	"noadproxy/internal/upstream"
)

type mapChecker map[string]bool

func (m mapChecker) IsDomainBlocked(_ context.Context, domain string) (bool, error) {
	return m[domain], nil
}

type errChecker struct{}

func (errChecker) IsDomainBlocked(context.Context, string) (bool, error) {
	return false, errors.New("storage unavailable")
}

func loadConf(t *testing.T, yaml string) *conf.Conf {
	t.Helper()
	c, err := conf.Load([]byte(yaml))
	require.NoError(t, err)
	return c
}

func terminalConf(t *testing.T, maxConns int) *conf.Conf {
	return loadConf(t, fmt.Sprintf(`
listen:
  addr: "127.0.0.1:18118"
blocklist:
  database: unused.db
limits:
  max_conns: %d
  read_timeout: 500ms
`, maxConns))
}

func chainedConf(t *testing.T, forward string) *conf.Conf {
	return loadConf(t, fmt.Sprintf(`
listen:
  addr: "127.0.0.1:18118"
forward:
  addr: %q
blocklist:
  database: unused.db
limits:
  read_timeout: 500ms
`, forward))
}

// start serves s on a loopback listener and returns its address.
func start(t *testing.T, s *Server) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Serve(ctx, l)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		s.wg.Wait()
	})
	return l.Addr().String()
}

type target struct {
	net.Listener
	accepted atomic.Int32
	mu       sync.Mutex
	received []byte
}

// echoTarget accepts connections and echoes everything back.
func echoTarget(t *testing.T) *target {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	tg := &target{Listener: l}
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			tg.accepted.Add(1)
			go func() {
				defer c.Close()
				buf := make([]byte, 1024)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						tg.mu.Lock()
						tg.received = append(tg.received, buf[:n]...)
						tg.mu.Unlock()
						if _, werr := c.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	return tg
}

func (tg *target) Received() []byte {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return append([]byte(nil), tg.received...)
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	return c
}

func connectRequest(hostport string) []byte {
	return []byte("CONNECT " + hostport + " HTTP/1.1\r\nHost: " + hostport + "\r\n\r\n")
}

func readExactly(t *testing.T, c net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := io.ReadFull(c, buf)
	require.NoError(t, err)
	return buf
}

func requireClosed(t *testing.T, c net.Conn) {
	t.Helper()
	n, err := c.Read(make([]byte, 1))
	require.Zero(t, n)
	require.Error(t, err)
}

func TestTerminalTunnel(t *testing.T) {
	tg := echoTarget(t)
	s, err := New(terminalConf(t, 10), mapChecker{"ads.example.com": true})
	require.NoError(t, err)
	addr := start(t, s)

	c := dial(t, addr)
	_, err = c.Write(connectRequest(tg.Addr().String()))
	require.NoError(t, err)
	require.Equal(t, httpconnect.ConnectEstablished, readExactly(t, c, len(httpconnect.ConnectEstablished)))

	_, err = c.Write([]byte("\x16\x03\x01client hello"))
	require.NoError(t, err)
	require.Equal(t, "\x16\x03\x01client hello", string(readExactly(t, c, 15)))
	require.Equal(t, "\x16\x03\x01client hello", string(tg.Received()))
}

// TestHalfClosedClientStillGetsReply covers a client that shuts down its
// write side after the request and waits for the target's answer.
func TestHalfClosedClientStillGetsReply(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		body, err := io.ReadAll(c)
		if err != nil {
			return
		}
		_, _ = c.Write(append([]byte("echo:"), body...))
	}()

	s, err := New(terminalConf(t, 10), mapChecker{})
	require.NoError(t, err)
	addr := start(t, s)

	c := dial(t, addr)
	_, err = c.Write(connectRequest(l.Addr().String()))
	require.NoError(t, err)
	require.Equal(t, httpconnect.ConnectEstablished, readExactly(t, c, len(httpconnect.ConnectEstablished)))

	_, err = c.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, c.(*net.TCPConn).CloseWrite())

	got, err := io.ReadAll(c)
	require.NoError(t, err)
	require.Equal(t, "echo:hello", string(got))
}

func TestBlockedDomainGets400(t *testing.T) {
	tg := echoTarget(t)
	before := diag.Snapshot().Rejected

	s, err := New(terminalConf(t, 10), mapChecker{"127.0.0.1": true})
	require.NoError(t, err)
	addr := start(t, s)

	c := dial(t, addr)
	_, err = c.Write(connectRequest(tg.Addr().String()))
	require.NoError(t, err)
	require.Equal(t, httpconnect.BadRequest, readExactly(t, c, len(httpconnect.BadRequest)))
	requireClosed(t, c)

	require.Zero(t, tg.accepted.Load(), "no outbound connection may be attempted")
	require.Equal(t, before+1, diag.Snapshot().Rejected)
}

func TestChainedForwardsRawRequest(t *testing.T) {
	got := make(chan []byte, 1)
	next, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer next.Close()
	go func() {
		c, err := next.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		raw, err := httpconnect.ReadRequest(c, time.Second)
		if err != nil {
			got <- nil
			return
		}
		got <- raw
		_, _ = c.Write([]byte("HTTP/1.1 200 Connection Established\r\nVia: next\r\n\r\n"))
		_, _ = io.Copy(c, c)
	}()

	s, err := New(chainedConf(t, next.Addr().String()), mapChecker{})
	require.NoError(t, err)
	require.False(t, s.Terminal())
	addr := start(t, s)

	req := []byte("CONNECT www.example.org:443 HTTP/1.1\r\nHost: www.example.org:443\r\nUser-Agent: test\r\n\r\n")
	c := dial(t, addr)
	_, err = c.Write(req)
	require.NoError(t, err)

	select {
	case raw := <-got:
		require.Equal(t, req, raw)
	case <-time.After(5 * time.Second):
		t.Fatal("next proxy never received the request")
	}

	// The next proxy's own answer reaches the client untouched.
	want := "HTTP/1.1 200 Connection Established\r\nVia: next\r\n\r\n"
	require.Equal(t, want, string(readExactly(t, c, len(want))))

	_, err = c.Write([]byte("payload"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(readExactly(t, c, 7)))
}

func TestMalformedRequestClosesSilently(t *testing.T) {
	s, err := New(terminalConf(t, 10), mapChecker{})
	require.NoError(t, err)
	addr := start(t, s)

	cases := []string{
		"GET / HTTP/1.1\r\nHost: www.example.org\r\n\r\n",
		"CONNECT www.example.org HTTP/1.1\r\nHost: www.example.org\r\n\r\n",
		"CONNECT www.example.org:443 HTTP/1.1 extra\r\nHost: x\r\n\r\n",
	}
	for _, req := range cases {
		c := dial(t, addr)
		_, err := c.Write([]byte(req))
		require.NoError(t, err)
		requireClosed(t, c)
	}
}

func TestIncompleteRequestTimesOut(t *testing.T) {
	s, err := New(terminalConf(t, 10), mapChecker{})
	require.NoError(t, err)
	addr := start(t, s)

	c := dial(t, addr)
	_, err = c.Write([]byte("CONNECT www.example.org:443 HTTP/1.1\r\nHost: "))
	require.NoError(t, err)
	began := time.Now()
	requireClosed(t, c)
	require.GreaterOrEqual(t, time.Since(began), 400*time.Millisecond)
}

func TestLookupFailureDropsConnection(t *testing.T) {
	tg := echoTarget(t)
	s, err := New(terminalConf(t, 10), errChecker{})
	require.NoError(t, err)
	addr := start(t, s)

	c := dial(t, addr)
	_, err = c.Write(connectRequest(tg.Addr().String()))
	require.NoError(t, err)
	requireClosed(t, c)
	require.Zero(t, tg.accepted.Load())
}

func TestTrailingBytesReachTarget(t *testing.T) {
	tg := echoTarget(t)
	s, err := New(terminalConf(t, 10), mapChecker{})
	require.NoError(t, err)
	addr := start(t, s)

	c := dial(t, addr)
	early := "PING\r\n\r\n"
	_, err = c.Write(append(connectRequest(tg.Addr().String()), early...))
	require.NoError(t, err)
	require.Equal(t, httpconnect.ConnectEstablished, readExactly(t, c, len(httpconnect.ConnectEstablished)))
	require.Equal(t, early, string(readExactly(t, c, len(early))))
}

func TestAdmissionBoundsConcurrentTunnels(t *testing.T) {
	tg := echoTarget(t)
	s, err := New(terminalConf(t, 2), mapChecker{})
	require.NoError(t, err)
	addr := start(t, s)

	open := func() net.Conn {
		c := dial(t, addr)
		_, err := c.Write(connectRequest(tg.Addr().String()))
		require.NoError(t, err)
		return c
	}

	first := open()
	require.Equal(t, httpconnect.ConnectEstablished, readExactly(t, first, len(httpconnect.ConnectEstablished)))
	second := open()
	require.Equal(t, httpconnect.ConnectEstablished, readExactly(t, second, len(httpconnect.ConnectEstablished)))
	require.Zero(t, s.gate.Available())

	third := open()
	_ = third.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, err = third.Read(make([]byte, 1))
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "third tunnel must wait for a permit, got %v", err)

	require.NoError(t, first.Close())
	_ = third.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.Equal(t, httpconnect.ConnectEstablished, readExactly(t, third, len(httpconnect.ConnectEstablished)))
}

func TestDenialLogIsThrottled(t *testing.T) {
	s, err := New(terminalConf(t, 10), mapChecker{"ads.example.com": true})
	require.NoError(t, err)

	before := diag.Snapshot().Rejected
	for range 3 {
		d, err := s.Decide(context.Background(), "ads.example.com")
		require.NoError(t, err)
		require.Equal(t, Rejected, d)
	}
	require.Equal(t, before+3, diag.Snapshot().Rejected, "every denial is counted")
	require.Equal(t, 1, s.denied.ItemCount(), "only the first denial is logged")
}

func TestDecide(t *testing.T) {
	s, err := New(terminalConf(t, 10), mapChecker{"ads.example.com": true})
	require.NoError(t, err)
	d, err := s.Decide(context.Background(), "www.example.org")
	require.NoError(t, err)
	require.Equal(t, Direct, d)

	c, err := New(chainedConf(t, "127.0.0.1:9"), mapChecker{})
	require.NoError(t, err)
	d, err = c.Decide(context.Background(), "www.example.org")
	require.NoError(t, err)
	require.Equal(t, Chained, d)

	e, err := New(terminalConf(t, 10), errChecker{})
	require.NoError(t, err)
	_, err = e.Decide(context.Background(), "www.example.org")
	require.ErrorContains(t, err, "storage unavailable")

	require.Equal(t, "rejected", Rejected.String())
	require.Equal(t, "direct", Direct.String())
	require.Equal(t, "chained", Chained.String())
}

func TestKCPStreamsAreServedLikeConnections(t *testing.T) {
	tg := echoTarget(t)
	block, err := kcpgo.NewNoneBlockCrypt(nil)
	require.NoError(t, err)
	kcfg := &conf.KCP{Mode: "fast3", MTU: 1350, Rcvwnd: 256, Sndwnd: 256, Smuxbuf: 4 << 20, Block: block}

	s, err := New(terminalConf(t, 10), mapChecker{})
	require.NoError(t, err)
	l, err := kcp.Listen("127.0.0.1:0", kcfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.serveKCP(ctx, l)
	}()
	defer func() {
		cancel()
		<-done
		s.wg.Wait()
	}()

	hop := upstream.NewKCPHop(l.Addr().String(), kcfg)
	defer hop.Close()

	for range 2 {
		strm, err := hop.Open(context.Background())
		require.NoError(t, err)
		_ = strm.SetDeadline(time.Now().Add(5 * time.Second))
		_, err = strm.Write(connectRequest(tg.Addr().String()))
		require.NoError(t, err)
		require.Equal(t, httpconnect.ConnectEstablished, readExactly(t, strm, len(httpconnect.ConnectEstablished)))
		_, err = strm.Write([]byte("over kcp"))
		require.NoError(t, err)
		require.Equal(t, "over kcp", string(readExactly(t, strm, 8)))
		_ = strm.Close()
	}

	// Once the tunnels are gone the open session holds no permit.
	require.Eventually(t, func() bool {
		return s.gate.InUse() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunFailsWhenAddressIsTaken(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	s, err := New(loadConf(t, fmt.Sprintf("listen:\n  addr: %q\nblocklist:\n  database: unused.db\n", busy.Addr().String())), mapChecker{})
	require.NoError(t, err)
	require.Error(t, s.Run(context.Background()))
}
