package diag

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"noadproxy/cmd/version"
)

var startTime = time.Now()

type ConfigInfo struct {
	ListenAddr  string `json:"listen_addr,omitempty"`
	ForwardAddr string `json:"forward_addr,omitempty"`
	Transport   string `json:"transport,omitempty"`
	Terminal    bool   `json:"terminal"`
	KCPAddr     string `json:"kcp_addr,omitempty"`
	SOCKS5Addr  string `json:"socks5_addr,omitempty"`
	Blocklist   string `json:"blocklist,omitempty"`
	MaxConns    int    `json:"max_conns,omitempty"`
	Pprof       string `json:"pprof,omitempty"`
}

var enabled atomic.Bool

var cfg atomic.Value // *ConfigInfo

var permits atomic.Value // func() (available, capacity int64)

var (
	active   atomic.Int64
	direct   atomic.Uint64
	chained  atomic.Uint64
	rejected atomic.Uint64
	failed   atomic.Uint64

	upBytes   atomic.Uint64
	downBytes atomic.Uint64
)

type Status struct {
	Now    time.Time `json:"now"`
	Uptime string    `json:"uptime"`

	Version   string `json:"version"`
	GitTag    string `json:"git_tag"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`

	Config ConfigInfo `json:"config"`

	ActiveTunnels  int64  `json:"active_tunnels"`
	DirectTunnels  uint64 `json:"direct_tunnels"`
	ChainedTunnels uint64 `json:"chained_tunnels"`
	Rejected       uint64 `json:"rejected"`
	Failed         uint64 `json:"failed"`

	PermitsAvailable int64 `json:"permits_available"`
	PermitsCapacity  int64 `json:"permits_capacity"`

	UpBytes   uint64 `json:"up_bytes"`
	DownBytes uint64 `json:"down_bytes"`

	Goroutines   int    `json:"goroutines"`
	AllocBytes   uint64 `json:"alloc_bytes"`
	SysBytes     uint64 `json:"sys_bytes"`
	NumGC        uint32 `json:"num_gc"`
	PauseTotalNs uint64 `json:"pause_total_ns"`
}

func Enable(on bool) { enabled.Store(on) }
func Enabled() bool  { return enabled.Load() }

func SetConfig(info ConfigInfo) {
	cfg.Store(&info)
}

// TrackPermits installs the source of the admission gate numbers.
func TrackPermits(fn func() (available, capacity int64)) {
	permits.Store(fn)
}

func permitStats() (int64, int64) {
	if fn, ok := permits.Load().(func() (int64, int64)); ok && fn != nil {
		return fn()
	}
	return 0, 0
}

func IncActive() { active.Add(1) }
func DecActive() { active.Add(-1) }

func IncDirect()   { direct.Add(1) }
func IncChained()  { chained.Add(1) }
func IncRejected() { rejected.Add(1) }
func IncFailed()   { failed.Add(1) }

func AddUp(n int64) {
	if n > 0 {
		upBytes.Add(uint64(n))
	}
}

func AddDown(n int64) {
	if n > 0 {
		downBytes.Add(uint64(n))
	}
}

func Snapshot() Status {
	avail, capacity := permitStats()
	s := Status{
		Now:              time.Now(),
		Uptime:           time.Since(startTime).Truncate(time.Second).String(),
		Version:          version.Version,
		GitTag:           version.GitTag,
		GitCommit:        version.GitCommit,
		BuildTime:        version.BuildTime,
		ActiveTunnels:    active.Load(),
		DirectTunnels:    direct.Load(),
		ChainedTunnels:   chained.Load(),
		Rejected:         rejected.Load(),
		Failed:           failed.Load(),
		PermitsAvailable: avail,
		PermitsCapacity:  capacity,
		UpBytes:          upBytes.Load(),
		DownBytes:        downBytes.Load(),
		Goroutines:       runtime.NumGoroutine(),
	}
	if v := cfg.Load(); v != nil {
		s.Config = *v.(*ConfigInfo)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.AllocBytes = ms.Alloc
	s.SysBytes = ms.Sys
	s.NumGC = ms.NumGC
	s.PauseTotalNs = ms.PauseTotalNs
	return s
}

func FormatText(s Status) string {
	mode := "chained"
	if s.Config.Terminal {
		mode = "terminal"
	}
	return fmt.Sprintf(
		"noadproxy status\n"+
			"  mode: %s\n"+
			"  uptime: %s\n"+
			"  version: %s (tag=%s commit=%s)\n"+
			"  tunnels: active=%d direct=%d chained=%d\n"+
			"  rejected: %d  failed: %d\n"+
			"  permits: %d/%d available\n"+
			"  bytes: up=%d  down=%d\n"+
			"  runtime: goroutines=%d alloc=%dB sys=%dB gc=%d\n"+
			"  config: listen=%s forward=%s transport=%s kcp=%s socks5=%s blocklist=%s pprof=%s\n",
		mode,
		s.Uptime,
		s.Version, s.GitTag, s.GitCommit,
		s.ActiveTunnels, s.DirectTunnels, s.ChainedTunnels,
		s.Rejected, s.Failed,
		s.PermitsAvailable, s.PermitsCapacity,
		s.UpBytes, s.DownBytes,
		s.Goroutines, s.AllocBytes, s.SysBytes, s.NumGC,
		s.Config.ListenAddr, s.Config.ForwardAddr, s.Config.Transport, s.Config.KCPAddr, s.Config.SOCKS5Addr, s.Config.Blocklist, s.Config.Pprof,
	)
}
