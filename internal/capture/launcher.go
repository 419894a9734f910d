package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"retrace/internal/logging"
)

const stopGrace = 5 * time.Second

// Launcher starts the external recorder binary when it is not running.
type Launcher struct {
	// Path is the recorder executable. An empty path disables launching.
	Path string
	Args []string
	// KillStale terminates other processes running the same executable
	// before launching.
	KillStale bool
	// ProcRoot is the procfs mount used to find stale processes.
	ProcRoot string

	logger *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// NewLauncher returns a launcher for path.
func NewLauncher(path string, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Launcher{Path: path, ProcRoot: "/proc", logger: logging.NewComponentLogger(logger, "capture_launcher")}
}

// Running reports whether the process this launcher started is alive.
func (l *Launcher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runningLocked()
}

func (l *Launcher) runningLocked() bool {
	if l.done == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Start launches the recorder unless it is already running. The process
// is not bound to ctx; Stop ends it.
func (l *Launcher) Start(ctx context.Context) error {
	if l == nil || strings.TrimSpace(l.Path) == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.KillStale {
		l.killStale()
	}
	if l.runningLocked() {
		return nil
	}
	cmd := exec.Command(l.Path, l.Args...)
	cmd.Dir = filepath.Dir(l.Path)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch capture recorder %s: %w", l.Path, err)
	}
	done := make(chan struct{})
	l.cmd, l.done = cmd, done
	go func() {
		err := cmd.Wait()
		l.logger.Debug("capture recorder exited", logging.Int("pid", cmd.Process.Pid), logging.Error(err))
		close(done)
	}()
	l.logger.Info("capture recorder launched",
		logging.String("path", l.Path),
		logging.Int("pid", cmd.Process.Pid),
	)
	return nil
}

// killStale terminates processes running the launcher's executable that it
// did not start itself.
func (l *Launcher) killStale() {
	name := filepath.Base(l.Path)
	own := 0
	if l.runningLocked() {
		own = l.cmd.Process.Pid
	}
	entries, err := os.ReadDir(l.ProcRoot)
	if err != nil {
		l.logger.Debug("cannot scan processes", logging.Error(err))
		return
	}
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == own || pid == os.Getpid() {
			continue
		}
		comm, err := os.ReadFile(filepath.Join(l.ProcRoot, entry.Name(), "comm"))
		if err != nil || strings.TrimSpace(string(comm)) != truncateComm(name) {
			continue
		}
		if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			l.logger.Warn("failed to stop stale capture recorder", logging.Int("pid", pid), logging.Error(err))
			continue
		}
		l.logger.Info("stopped stale capture recorder", logging.Int("pid", pid))
	}
}

// truncateComm mirrors the kernel's 15-byte limit on process names.
func truncateComm(name string) string {
	if len(name) > 15 {
		return name[:15]
	}
	return name
}

// Stop terminates the launched process and waits for it to exit.
func (l *Launcher) Stop() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	cmd, done := l.cmd, l.done
	running := l.runningLocked()
	l.mu.Unlock()
	if !running {
		return nil
	}
	if err := cmd.Process.Signal(unix.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop capture recorder: %w", err)
	}
	select {
	case <-done:
	case <-time.After(stopGrace):
		l.logger.Warn("capture recorder ignored SIGTERM, killing", logging.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
		<-done
	}
	return nil
}
