package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"retrace/internal/testsupport"
)

// fakeRecorder completes an unauthenticated obs-websocket handshake and
// then idles until the client hangs up.
func fakeRecorder(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{Subprotocols: []string{"obswebsocket.json"}}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		hello := map[string]any{"op": 0, "d": map[string]any{"obsWebSocketVersion": "5.0.0", "rpcVersion": 1}}
		if conn.WriteJSON(hello) != nil {
			return
		}
		var identify map[string]any
		if conn.ReadJSON(&identify) != nil {
			return
		}
		if conn.WriteJSON(map[string]any{"op": 2, "d": map[string]any{"negotiatedRpcVersion": 1}}) != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func closedAddr(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()
	return addr
}

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "free") {
		t.Fatalf("expected free space in detail, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckCatalogCreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")
	result := CheckCatalog(context.Background(), path)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected catalog file: %v", err)
	}
	if result := CheckCatalog(context.Background(), ""); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckCaptureEndpoint_OK(t *testing.T) {
	srv := fakeRecorder(t)
	result := CheckCaptureEndpoint(context.Background(), srv.Listener.Addr().String(), "")
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckCaptureEndpoint_Unreachable(t *testing.T) {
	result := CheckCaptureEndpoint(context.Background(), closedAddr(t), "")
	if result.Passed {
		t.Fatal("expected failure for closed port")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckCaptureEndpoint_MissingURL(t *testing.T) {
	result := CheckCaptureEndpoint(context.Background(), " ", "")
	if result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestCheckTransferReceiver(t *testing.T) {
	if result := CheckTransferReceiver(context.Background(), ""); !result.Passed {
		t.Fatalf("unconfigured receiver should pass, got: %s", result.Detail)
	}

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if result := CheckTransferReceiver(context.Background(), srv.URL); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result := CheckTransferReceiver(context.Background(), closedAddr(t)); result.Passed {
		t.Fatal("expected failure for closed port")
	}
}

func TestCheckCaptureFromConfig_Disabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	result := CheckCaptureFromConfig(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("disabled capture should pass, got: %s", result.Detail)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg)
	// Recordings directory + catalog
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_IncludesCaptureWhenEnabled(t *testing.T) {
	srv := fakeRecorder(t)
	cfg := testsupport.NewConfig(t,
		testsupport.WithCapture(srv.Listener.Addr().String()),
		testsupport.WithStubbedBinaries("obs"),
	)
	cfg.Capture.OBSPath = "obs"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %+v", results)
	}
	found := false
	for _, r := range results {
		if r.Name == "Capture recorder" {
			found = true
		}
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
	if !found {
		t.Fatal("expected capture check in results")
	}
}

func TestRunAll_ReportsMissingRecordingsDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	failed := Failed(RunAll(context.Background(), cfg))
	if len(failed) != 1 || failed[0].Name != "Recordings directory" {
		t.Fatalf("expected only the recordings directory to fail, got %+v", failed)
	}
}

func TestCheckSystemDeps(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("obs"))
	statuses := CheckSystemDeps(cfg)
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	if !statuses[0].Available {
		t.Fatalf("expected stubbed recorder to resolve, got %q", statuses[0].Detail)
	}
	if !statuses[0].Optional {
		t.Fatal("recorder should be optional while capture is disabled")
	}
}

func TestProbeLatest(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Recordings")
	probe := ProbeLatest(root)
	if probe.Found {
		t.Fatal("expected no recording in empty root")
	}
	if probe.Detail() != "No recordings yet" {
		t.Fatalf("unexpected detail: %s", probe.Detail())
	}

	rec := testsupport.RecordLab(t, root, 30)
	probe = ProbeLatest(root)
	if !probe.Found || probe.Dir != rec.Dir {
		t.Fatalf("expected probe of %s, got %+v", rec.Dir, probe)
	}
	if !probe.Complete || probe.Frames == 0 {
		t.Fatalf("expected completed recording with frames, got %+v", probe)
	}
	if !strings.Contains(probe.Detail(), "frames") {
		t.Fatalf("unexpected detail: %s", probe.Detail())
	}
}
