// Package kcp carries proxy tunnels between two chained instances over a
// KCP session multiplexed with smux. Every tunnel is one smux stream.
package kcp

import (
	"time"

	"noadproxy/internal/conf"

	"github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/smux"
)

type nodelay struct {
	noDelay, interval, resend, noCongestion int
	wDelay, ackNoDelay                      bool
}

var modes = map[string]nodelay{
	"normal": {0, 40, 2, 0, true, false},
	"fast":   {0, 30, 2, 0, true, false},
	"fast2":  {1, 20, 2, 0, false, true},
	"fast3":  {1, 10, 2, 0, false, true},
}

func tune(sess *kcp.UDPSession, cfg *conf.KCP) {
	// smux needs a byte stream.
	sess.SetStreamMode(true)

	nd, ok := modes[cfg.Mode]
	if !ok {
		nd = nodelay{cfg.NoDelay, cfg.Interval, cfg.Resend, cfg.NoCongestion, cfg.WDelay, cfg.AckNoDelay}
	}
	sess.SetNoDelay(nd.noDelay, nd.interval, nd.resend, nd.noCongestion)
	sess.SetWindowSize(cfg.Sndwnd, cfg.Rcvwnd)
	sess.SetMtu(cfg.MTU)
	sess.SetWriteDelay(nd.wDelay)
	sess.SetACKNoDelay(nd.ackNoDelay)
}

func muxConfig(cfg *conf.KCP) *smux.Config {
	c := smux.DefaultConfig()
	c.KeepAliveInterval = 2 * time.Second
	c.KeepAliveTimeout = 8 * time.Second
	c.MaxFrameSize = 65535
	c.MaxReceiveBuffer = cfg.Smuxbuf
	return c
}
