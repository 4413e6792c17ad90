// Package writers resolves log output destinations from a CLI-style
// specification string.
package writers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Open resolves an output specification to a writer:
//   - "" or "stdout" - os.Stdout
//   - "stderr"       - os.Stderr
//   - "file:///path" or a bare path - append to the file, creating parent
//     directories as needed
func Open(spec string) (io.Writer, error) {
	switch {
	case spec == "" || spec == "stdout":
		return os.Stdout, nil
	case spec == "stderr":
		return os.Stderr, nil
	case strings.HasPrefix(spec, "file://"):
		return openFile(strings.TrimPrefix(spec, "file://"))
	case looksLikePath(spec):
		return openFile(spec)
	default:
		return nil, fmt.Errorf("unsupported log output %q", spec)
	}
}

func looksLikePath(spec string) bool {
	if strings.Contains(spec, "://") {
		return false
	}
	return strings.ContainsAny(spec, `/\`)
}

func openFile(path string) (io.Writer, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	return file, nil
}
