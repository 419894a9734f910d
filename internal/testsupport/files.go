package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"retrace/internal/logfile"
)

// WriteLog writes a log of kind into dir from literal CSV lines, each
// without its line terminator, and returns the file path.
func WriteLog(t testing.TB, dir string, kind logfile.Kind, lines ...string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	var b strings.Builder
	b.WriteString(strings.Join(kind.Header(), ","))
	b.WriteByte('\n')
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	path := filepath.Join(dir, kind.FileName())
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
