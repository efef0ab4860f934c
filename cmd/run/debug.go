package run

import (
	"net/http"
	_ "net/http/pprof"

	"noadproxy/internal/diag"
	"noadproxy/internal/flog"
)

// startDebug serves pprof, plus the status and metrics endpoints when
// diagnostics are enabled, on addr.
func startDebug(addr string) {
	if addr == "" {
		return
	}
	diag.RegisterHTTP(http.DefaultServeMux)
	go func() {
		flog.Infof("pprof enabled on http://%s/debug/pprof/ (bind carefully)", addr)
		if diag.Enabled() {
			flog.Infof("status on http://%s/debug/noadproxy/text, metrics on http://%s/metrics", addr, addr)
		}
		if err := http.ListenAndServe(addr, nil); err != nil {
			flog.Errorf("debug server failed: %v", err)
		}
	}()
}
