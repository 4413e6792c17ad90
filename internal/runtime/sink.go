package runtime

import (
	"fmt"
	"sync"
)

// logSink collects console rows pushed out of the sandbox. The preamble
// forwards each console.log call to the sink as it happens, so rows
// emitted before a throw or a missed deadline survive the execution that
// lost them.
type logSink struct {
	mu   sync.Mutex
	rows [][]LogItem
}

// capture receives one formatted console row from the script side. Each
// item is a {"type", "value"} map produced by the preamble's formatter;
// anything else is skipped.
func (s *logSink) capture(row []any) {
	items := make([]LogItem, 0, len(row))
	for _, raw := range row {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		typ, _ := item["type"].(string)
		items = append(items, LogItem{Type: typ, Value: fmt.Sprintf("%v", item["value"])})
	}
	s.mu.Lock()
	s.rows = append(s.rows, items)
	s.mu.Unlock()
}

// snapshot returns the rows captured so far, nil when nothing was logged.
func (s *logSink) snapshot() [][]LogItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rows) == 0 {
		return nil
	}
	out := make([][]LogItem, len(s.rows))
	copy(out, s.rows)
	return out
}
