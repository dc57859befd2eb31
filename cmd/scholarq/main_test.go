package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scholarq/internal/queue"
)

type cliTestEnv struct {
	baseDir    string
	dataDir    string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("NO_COLOR", "1")
	env := &cliTestEnv{
		baseDir:    base,
		dataDir:    filepath.Join(base, "data"),
		configPath: filepath.Join(base, "config.toml"),
	}
	content := fmt.Sprintf(`[paths]
data_dir = %q

[queue]
max_workers = 1
polling_interval_seconds = 0.01
retry_base_delay_seconds = 0
retry_max_delay_seconds = 0

[logging]
level = "error"
`, env.dataDir)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliTestEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("scholarq %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestSubmitListShowCancel(t *testing.T) {
	env := setupCLITestEnv(t)

	out := env.mustRun(t, "--json", "submit", "echo", `{"doc":1}`, "--priority", "urgent", "--method", "summarize")
	var submitted map[string]string
	if err := json.Unmarshal([]byte(out), &submitted); err != nil {
		t.Fatalf("decode submit output %q: %v", out, err)
	}
	id := submitted["id"]
	if id == "" {
		t.Fatalf("missing id in %q", out)
	}
	env.mustRun(t, "submit", "index", "plain")

	out = env.mustRun(t, "list")
	if !strings.Contains(out, id[:shortIDLength]) || !strings.Contains(out, "Pending") || !strings.Contains(out, "urgent") {
		t.Fatalf("list output missing task:\n%s", out)
	}
	out = env.mustRun(t, "list", "--target", "index", "--json")
	var tasks []queue.Task
	if err := json.Unmarshal([]byte(out), &tasks); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Target != "index" || string(tasks[0].Payload) != "plain" {
		t.Fatalf("unexpected filtered list %+v", tasks)
	}

	out = env.mustRun(t, "show", id[:shortIDLength])
	if !strings.Contains(out, "summarize") || !strings.Contains(out, `{"doc":1}`) {
		t.Fatalf("show output incomplete:\n%s", out)
	}

	out = env.mustRun(t, "stats")
	if !strings.Contains(out, "echo") || !strings.Contains(out, "total") {
		t.Fatalf("stats output incomplete:\n%s", out)
	}

	if _, err := env.run(t, "cancel"); err == nil {
		t.Fatal("cancel without a target should fail")
	}
	out = env.mustRun(t, "cancel", "--all")
	if !strings.Contains(out, "Cancelled 2") {
		t.Fatalf("unexpected cancel output %q", out)
	}

	out = env.mustRun(t, "retry", id)
	if !strings.Contains(out, "Requeued 0") {
		t.Fatalf("cancelled task should stay cancelled, got %q", out)
	}

	out = env.mustRun(t, "cleanup", "--older-than", "0s")
	if !strings.Contains(out, "Deleted 2 task(s)") {
		t.Fatalf("unexpected cleanup output %q", out)
	}
}

func TestSubmitRejectsUnknownPriority(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "submit", "echo", "x", "--priority", "asap"); err == nil {
		t.Fatal("expected priority error")
	}
}

func TestShowUnknownTask(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "show", "does-not-exist"); err == nil {
		t.Fatal("expected not found error")
	}
}

func TestWorkflowValidate(t *testing.T) {
	env := setupCLITestEnv(t)
	good := filepath.Join(env.baseDir, "good.toml")
	if err := os.WriteFile(good, []byte(`
[[workflow]]
name = "review"

[[workflow.step]]
name = "summarize"
target = "llm"
depends_on = ["search"]

[[workflow.step]]
name = "search"
target = "search"
`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := env.mustRun(t, "workflow", "validate", good)
	if !strings.Contains(out, "review: search -> summarize") {
		t.Fatalf("unexpected validate output:\n%s", out)
	}

	cyclic := filepath.Join(env.baseDir, "cyclic.toml")
	if err := os.WriteFile(cyclic, []byte(`
[[workflow]]
name = "loop"

[[workflow.step]]
name = "a"
target = "echo"
depends_on = ["b"]

[[workflow.step]]
name = "b"
target = "echo"
depends_on = ["a"]
`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := env.run(t, "workflow", "validate", cyclic); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}

	out = env.mustRun(t, "workflow", "runs")
	if !strings.Contains(out, "No workflow runs") {
		t.Fatalf("unexpected runs output %q", out)
	}
}

func TestHealthReportsDatabaseAndWorker(t *testing.T) {
	env := setupCLITestEnv(t)
	out := env.mustRun(t, "--json", "health")
	var report healthReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if !report.Database.DatabaseExists || !report.Database.IntegrityCheck || report.Database.SchemaVersion < 1 {
		t.Fatalf("unexpected database health %+v", report.Database)
	}
	if report.Worker.Running {
		t.Fatal("no worker should be running")
	}

	out = env.mustRun(t, "health")
	if !strings.Contains(out, "Integrity check") || !strings.Contains(out, "not running") {
		t.Fatalf("unexpected health output:\n%s", out)
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(env.baseDir, "fresh", "scholarq.toml")
	out := env.mustRun(t, "config", "init", "--path", target)
	if !strings.Contains(out, target) {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample not written: %v", err)
	}
	if _, err := env.run(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected refusal to overwrite")
	}
	env.mustRun(t, "config", "init", "--path", target, "--overwrite")

	out = env.mustRun(t, "config", "validate")
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected validate output %q", out)
	}
}

func TestSleepHandlerHonoursPayload(t *testing.T) {
	result, err := sleepHandler{}.Handle(context.Background(), "", []byte(`{"duration":"1ms"}`))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if string(result) != `{"slept":"1ms"}` {
		t.Fatalf("unexpected result %s", result)
	}
	if _, err := (sleepHandler{}).Handle(context.Background(), "", []byte(`{"duration":"soon"}`)); err == nil {
		t.Fatal("expected parse error")
	}
	echoed, err := echoHandler(context.Background(), "", []byte("hi"))
	if err != nil || string(echoed) != "hi" {
		t.Fatalf("echo returned %q, %v", echoed, err)
	}
}

func TestLogsFiltersByTask(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.MkdirAll(env.dataDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := `{"level":"info","msg":"task completed","task_id":"abc123"}
{"level":"info","msg":"task completed","task_id":"def456"}
`
	if err := os.WriteFile(filepath.Join(env.dataDir, "scholarq.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	out := env.mustRun(t, "logs", "--task", "abc")
	if !strings.Contains(out, "abc123") || strings.Contains(out, "def456") {
		t.Fatalf("unexpected logs output:\n%s", out)
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	t.Setenv("SCHOLARQ_NTFY_TOPIC", "")
	out := env.mustRun(t, "test-notify")
	if !strings.Contains(out, "Notifications disabled") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestConfigShowPrintsEffectiveValues(t *testing.T) {
	env := setupCLITestEnv(t)
	out := env.mustRun(t, "config", "show")
	if !strings.Contains(out, "[queue]") || !strings.Contains(out, "max_workers = 1") || !strings.Contains(out, env.dataDir) {
		t.Fatalf("unexpected config show output:\n%s", out)
	}
}
