package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"retrace/internal/capture"
	"retrace/internal/catalog"
	"retrace/internal/config"
	"retrace/internal/deps"
	"retrace/internal/transfer"
)

// MinFreeBytes is the free space below which the recordings directory
// check fails. An hour at 60 Hz with a few hundred tracked objects stays
// well under it.
const MinFreeBytes = 64 << 20

// CheckDirectoryAccess verifies that the directory exists, is
// readable/writable, and has room for new logs.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	free, err := FreeBytes(path)
	if err != nil {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok, free space unknown)", path)}
	}
	if free < MinFreeBytes {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: only %s free)", path, humanize.IBytes(free))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok, %s free)", path, humanize.IBytes(free))}
}

// FreeBytes returns the space available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// CheckCatalog verifies the catalog database opens and its schema is
// current.
func CheckCatalog(ctx context.Context, path string) Result {
	const name = "Catalog"
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "missing path"}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	store, err := catalog.Open(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	defer store.Close()
	entries, err := store.List(ctx, catalog.Filter{})
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d recordings)", path, len(entries))}
}

// CheckCaptureEndpoint connects to the screen recorder's websocket,
// completes the identify handshake and disconnects. It uses a 5-second
// timeout and a single attempt.
func CheckCaptureEndpoint(ctx context.Context, endpoint, password string) Result {
	const name = "Capture recorder"

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := capture.NewOBSClient(nil)
	if err := client.Connect(checkCtx, endpoint, password); err != nil {
		return Result{Name: name, Detail: summarizeConnectError(err)}
	}
	_ = client.Close()
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckTransferReceiver verifies a TCP connection can be opened to the
// receiver a push would target.
func CheckTransferReceiver(ctx context.Context, target string) Result {
	const name = "Transfer receiver"

	target = strings.TrimSpace(target)
	if target == "" {
		return Result{Name: name, Passed: true, Detail: "Not configured"}
	}
	u, err := url.Parse(transfer.NormalizeURL(target))
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url (%v)", err)}
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "wss" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	dialer := net.Dialer{Timeout: 3 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return Result{Name: name, Detail: summarizeConnectError(err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", host)}
}

// CheckRecorderBinary reports whether the configured screen recorder can be
// launched.
func CheckRecorderBinary(path string) Result {
	status := deps.ResolveRecorder(path)
	if status.Available {
		return Result{Name: status.Name, Passed: true, Detail: status.Command}
	}
	return Result{Name: status.Name, Detail: status.Detail}
}

// CheckSystemDeps evaluates the external binaries the given config relies
// on. The recorder is optional unless capture launches it.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	recorder := deps.ResolveRecorder(cfg.Capture.OBSPath)
	recorder.Optional = !cfg.Capture.Enabled || cfg.Capture.OBSPath == ""
	return []deps.Status{recorder}
}

// summarizeConnectError produces a human-readable summary for connection
// failures.
func summarizeConnectError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "connection timed out (recorder unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "connection timed out (host unreachable)"
	}
	return err.Error()
}
