package diag

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var httpOnce sync.Once

// RegisterHTTP adds the status and metrics endpoints to mux.
func RegisterHTTP(mux *http.ServeMux) {
	if !Enabled() {
		return
	}
	httpOnce.Do(func() {
		mux.HandleFunc("/debug/noadproxy/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})

		mux.HandleFunc("/debug/noadproxy/status", func(w http.ResponseWriter, r *http.Request) {
			st := Snapshot()
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			_ = enc.Encode(st)
		})

		mux.HandleFunc("/debug/noadproxy/text", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte(FormatText(Snapshot())))
		})

		mux.Handle("/metrics", promhttp.HandlerFor(NewRegistry(), promhttp.HandlerOpts{}))
	})
}
