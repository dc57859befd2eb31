package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"scholarq/internal/logs"
)

const sample = `{"ts":"t1","level":"info","msg":"task completed","task_id":"aaaa1111","target":"echo"}
{"ts":"t2","level":"warn","msg":"task failed","task_id":"bbbb2222","target":"llm"}
not json
{"ts":"t3","level":"info","msg":"workflow step completed","task_id":"aaaa1111","workflow_id":"run-1"}
{"ts":"t4","level":"error","msg":"task failed","task_id":"aaaa1111","target":"echo"}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scholarq.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func collect(t *testing.T, path string, opts logs.TailOptions) []string {
	t.Helper()
	var lines []string
	if err := logs.Tail(context.Background(), path, opts, func(line string) error {
		lines = append(lines, line)
		return nil
	}); err != nil {
		t.Fatalf("Tail: %v", err)
	}
	return lines
}

func TestTailLastLines(t *testing.T) {
	path := writeLog(t, sample)
	lines := collect(t, path, logs.TailOptions{Lines: 2})
	if len(lines) != 2 || lines[1] != `{"ts":"t4","level":"error","msg":"task failed","task_id":"aaaa1111","target":"echo"}` {
		t.Fatalf("unexpected lines %#v", lines)
	}
	if all := collect(t, path, logs.TailOptions{Lines: -1}); len(all) != 5 {
		t.Fatalf("expected whole file, got %d lines", len(all))
	}
	if none := collect(t, filepath.Join(t.TempDir(), "missing.log"), logs.TailOptions{Lines: 10}); len(none) != 0 {
		t.Fatalf("missing file should be empty, got %v", none)
	}
}

func TestTailFilters(t *testing.T) {
	path := writeLog(t, sample)
	cases := map[string]struct {
		filter logs.Filter
		want   int
	}{
		"task prefix": {logs.Filter{TaskID: "aaaa"}, 3},
		"workflow":    {logs.Filter{WorkflowID: "run-1"}, 1},
		"target":      {logs.Filter{Target: "echo"}, 2},
		"level":       {logs.Filter{MinLevel: "warn"}, 2},
		"combined":    {logs.Filter{TaskID: "aaaa1111", MinLevel: "error"}, 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			lines := collect(t, path, logs.TailOptions{Lines: -1, Filter: tc.filter})
			if len(lines) != tc.want {
				t.Fatalf("expected %d lines, got %d: %v", tc.want, len(lines), lines)
			}
		})
	}
}

func TestTailFollowPicksUpAppendedRecords(t *testing.T) {
	path := writeLog(t, sample)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var lines []string
	done := make(chan error, 1)
	go func() {
		done <- logs.Tail(ctx, path, logs.TailOptions{
			Lines:  -1,
			Follow: true,
			Poll:   5 * time.Millisecond,
			Filter: logs.Filter{TaskID: "cccc"},
		}, func(line string) error {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
			return nil
		})
	}()

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := file.WriteString(`{"level":"info","msg":"task started","task_id":"cccc3333"}` + "\n" + `{"level":"info","task_id":"dddd"}` + "\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	file.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(lines)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Tail: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 1 {
		t.Fatalf("expected the appended cccc record, got %v", lines)
	}
}
