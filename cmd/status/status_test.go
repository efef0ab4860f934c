package status

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func reset(t *testing.T) {
	t.Cleanup(func() {
		confPath, pprofAddr, jsonOut, timeout = "config.yaml", "", false, 2*time.Second
	})
	timeout = time.Second
}

func TestRunPrintsText(t *testing.T) {
	reset(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/debug/noadproxy/text":
			_, _ = w.Write([]byte("noadproxy status\n"))
		case "/debug/noadproxy/status":
			_, _ = w.Write([]byte(`{"active_tunnels":0}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	pprofAddr = strings.TrimPrefix(srv.URL, "http://")

	var out bytes.Buffer
	if err := run(&out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String() != "noadproxy status\n" {
		t.Fatalf("unexpected output %q", out.String())
	}

	jsonOut = true
	out.Reset()
	if err := run(&out); err != nil {
		t.Fatalf("run --json: %v", err)
	}
	if !strings.Contains(out.String(), "active_tunnels") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunHintsWhenDiagIsOff(t *testing.T) {
	reset(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := "listen:\n  addr: \"127.0.0.1:8118\"\nblocklist:\n  database: x.db\ndebug:\n  pprof: \"" + strings.TrimPrefix(srv.URL, "http://") + "\"\n"
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	confPath = path

	err := run(&bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "debug.diag") {
		t.Fatalf("expected a hint about debug.diag, got %v", err)
	}
}

func TestResolveDebugAddrDefault(t *testing.T) {
	reset(t)
	confPath = filepath.Join(t.TempDir(), "missing.yaml")
	addr, diagOn, err := resolveDebugAddr()
	if err != nil || addr != "127.0.0.1:6060" || diagOn {
		t.Fatalf("resolveDebugAddr() = %q, %v, %v", addr, diagOn, err)
	}
}
