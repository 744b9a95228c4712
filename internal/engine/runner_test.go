package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fiscalyze/backend/internal/classify"
	"github.com/fiscalyze/backend/internal/config"
)

// collectSink records every line pushed by the runner.
type collectSink struct {
	mu    sync.Mutex
	lines []Line
}

func (s *collectSink) Line(l Line) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, l)
}

func (s *collectSink) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	for i, l := range s.lines {
		out[i] = l.Text
	}
	return out
}

func writeEngineScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestRunner(t *testing.T, command string, timeout time.Duration) *Runner {
	t.Helper()
	return NewRunner(
		config.EngineConfig{Command: command, RunTimeout: timeout},
		config.StreamConfig{
			ProgressMarkers: []string{"Agent", "🚀"},
			SystemMarkers:   []string{"Starting", "Completed"},
			DedupThreshold:  50,
		},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func runJob(t *testing.T, r *Runner, sink Sink) (*RunResult, string) {
	t.Helper()
	dataDir := t.TempDir()
	res, err := r.Run(context.Background(), Job{
		SessionID: "s1",
		FilePath:  "/uploads/archive.zip",
		Question:  "total per supplier",
		DataDir:   dataDir,
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res, dataDir
}

func TestSentinelRoundTrip(t *testing.T) {
	script := writeEngineScript(t, `
echo "🚀 Agent starting analysis"
echo "reading documents"
echo "__RESULT_START__"
echo '{"success": true, "result": "X"}'
echo "__RESULT_END__"
exit 0`)

	sink := &collectSink{}
	res, _ := runJob(t, newTestRunner(t, script, 0), sink)

	if !res.Result.Success {
		t.Fatalf("Success = false, error = %q", res.Result.Error)
	}
	if res.Result.Payload != "X" {
		t.Errorf("Payload = %q, want X", res.Result.Payload)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}

	for _, line := range append(res.Transcript, sink.texts()...) {
		if strings.Contains(line, "__RESULT_") || strings.Contains(line, `"success"`) {
			t.Errorf("sentinel-region line leaked into stream: %q", line)
		}
	}
	if len(res.Transcript) != 2 {
		t.Errorf("Transcript = %v, want the 2 progress lines", res.Transcript)
	}
}

func TestMalformedPayloadFallsBackToExitCode(t *testing.T) {
	script := writeEngineScript(t, `
echo "__RESULT_START__"
echo 'this is not json {'
echo "__RESULT_END__"
exit 1`)

	res, _ := runJob(t, newTestRunner(t, script, 0), &collectSink{})

	if res.Result.Success {
		t.Fatal("Success = true for malformed payload")
	}
	if !strings.Contains(res.Result.Error, "code 1") {
		t.Errorf("Error = %q, want mention of exit code 1", res.Result.Error)
	}
}

func TestResultWithoutSuccessKeyIgnored(t *testing.T) {
	script := writeEngineScript(t, `
echo "__RESULT_START__"
echo '{"result": "no success key"}'
echo "__RESULT_END__"
exit 0`)

	res, _ := runJob(t, newTestRunner(t, script, 0), &collectSink{})

	if res.Result.Success {
		t.Fatal("payload without success key accepted as result")
	}
	if !strings.Contains(res.Result.Error, "code 0") {
		t.Errorf("Error = %q, want exit-code fallback", res.Result.Error)
	}
}

func TestEngineReportedFailure(t *testing.T) {
	script := writeEngineScript(t, `
echo "Agent working"
echo "__RESULT_START__"
echo '{"success": false, "error": "no invoices found in archive"}'
echo "__RESULT_END__"
exit 0`)

	res, _ := runJob(t, newTestRunner(t, script, 0), &collectSink{})

	if res.Result.Success {
		t.Fatal("Success = true")
	}
	if res.Result.Error != "no invoices found in archive" {
		t.Errorf("Error = %q, want engine-supplied text", res.Result.Error)
	}
}

func TestResultAuthoritativeOverExitCode(t *testing.T) {
	script := writeEngineScript(t, `
echo "__RESULT_START__"
echo '{"success": true, "result": "fine"}'
echo "__RESULT_END__"
exit 7`)

	res, _ := runJob(t, newTestRunner(t, script, 0), &collectSink{})

	if !res.Result.Success || res.Result.Payload != "fine" {
		t.Errorf("parsed result not authoritative: %+v", res.Result)
	}
	if res.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", res.ExitCode)
	}
}

func TestExitWithoutResult(t *testing.T) {
	script := writeEngineScript(t, `
echo "some output"
exit 3`)

	res, _ := runJob(t, newTestRunner(t, script, 0), &collectSink{})

	if res.Result.Success {
		t.Fatal("Success = true without a result")
	}
	if !strings.Contains(res.Result.Error, "code 3") {
		t.Errorf("Error = %q, want mention of exit code 3", res.Result.Error)
	}
}

func TestSpawnFailure(t *testing.T) {
	r := newTestRunner(t, "/nonexistent/engine-binary", 0)
	_, err := r.Run(context.Background(), Job{DataDir: t.TempDir()}, &collectSink{})
	if err == nil {
		t.Fatal("Run with missing binary should return error")
	}
}

func TestDedupAppliedToStream(t *testing.T) {
	long := strings.Repeat("repeated answer content ", 4)
	script := writeEngineScript(t, `
echo "`+long+`"
echo "spacer line"
echo "`+long+`"
exit 0`)

	sink := &collectSink{}
	runJob(t, newTestRunner(t, script, 0), sink)

	count := 0
	for _, text := range sink.texts() {
		if strings.HasPrefix(text, "repeated answer content") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("long duplicate delivered %d times, want 1", count)
	}
}

func TestOrderPreserved(t *testing.T) {
	script := writeEngineScript(t, `
for i in 1 2 3 4 5 6 7 8 9 10; do echo "step $i"; done
exit 0`)

	sink := &collectSink{}
	res, _ := runJob(t, newTestRunner(t, script, 0), sink)

	want := make([]string, 10)
	for i := range want {
		want[i] = res.Transcript[i]
	}
	got := sink.texts()
	if len(got) != 10 {
		t.Fatalf("delivered %d lines, want 10", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: delivered %q, transcript %q", i, got[i], want[i])
		}
	}
}

func TestCancellationCleansUp(t *testing.T) {
	script := writeEngineScript(t, `
echo "working"
exec sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	dataDir := t.TempDir()
	sink := &collectSink{}

	done := make(chan *RunResult, 1)
	go func() {
		res, err := newTestRunner(t, script, 0).Run(ctx, Job{
			SessionID: "s1",
			DataDir:   dataDir,
		}, sink)
		if err != nil {
			t.Errorf("Run: %v", err)
			done <- nil
			return
		}
		done <- res
	}()

	// Wait until the first line arrives so the process is known to be up.
	deadline := time.After(5 * time.Second)
	for len(sink.texts()) == 0 {
		select {
		case <-deadline:
			t.Fatal("engine produced no output")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	var res *RunResult
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not resolve after cancellation")
	}
	if res == nil {
		t.FailNow()
	}

	if res.Result.Success {
		t.Error("cancelled run reported success")
	}
	if !strings.Contains(res.Result.Error, "cancelled") {
		t.Errorf("Error = %q, want cancellation reason", res.Result.Error)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dataDir, "job-*.json"))
	if len(leftovers) != 0 {
		t.Errorf("invocation artifact leaked: %v", leftovers)
	}
}

func TestTimeout(t *testing.T) {
	script := writeEngineScript(t, `exec sleep 30`)

	res, dataDir := runJob(t, newTestRunner(t, script, 150*time.Millisecond), &collectSink{})

	if res.Result.Success {
		t.Fatal("timed-out run reported success")
	}
	if !strings.Contains(res.Result.Error, "timed out") {
		t.Errorf("Error = %q, want timeout reason", res.Result.Error)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dataDir, "job-*.json"))
	if len(leftovers) != 0 {
		t.Errorf("invocation artifact leaked: %v", leftovers)
	}
}

func TestOversizedLineDoesNotStallRun(t *testing.T) {
	// One line past the scanner limit stops line reading; the run must
	// still drain the pipe, let the child exit, and report the read
	// failure rather than misreport a timeout or hang on Wait.
	script := writeEngineScript(t, `
head -c 2000000 /dev/zero | tr '\0' x
echo ""
echo "__RESULT_START__"
echo '{"success": true, "result": "X"}'
echo "__RESULT_END__"`)

	res, dataDir := runJob(t, newTestRunner(t, script, 10*time.Second), &collectSink{})

	if res.Result.Success {
		t.Fatal("run with unreadable output reported success")
	}
	if !strings.Contains(res.Result.Error, "could not be read") {
		t.Errorf("Error = %q, want read failure reason", res.Result.Error)
	}
	if strings.Contains(res.Result.Error, "timed out") {
		t.Errorf("Error = %q, read failure misreported as timeout", res.Result.Error)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0 (child must be allowed to finish)", res.ExitCode)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dataDir, "job-*.json"))
	if len(leftovers) != 0 {
		t.Errorf("invocation artifact leaked: %v", leftovers)
	}
}

func TestJobFileRemovedOnSuccess(t *testing.T) {
	script := writeEngineScript(t, `
echo "__RESULT_START__"
echo '{"success": true, "result": "ok"}'
echo "__RESULT_END__"`)

	_, dataDir := runJob(t, newTestRunner(t, script, 0), &collectSink{})

	leftovers, _ := filepath.Glob(filepath.Join(dataDir, "job-*.json"))
	if len(leftovers) != 0 {
		t.Errorf("invocation artifact leaked: %v", leftovers)
	}
}

func TestWarmHandleReused(t *testing.T) {
	// The engine echoes its job file so the test can see what it was told.
	script := writeEngineScript(t, `
cat "$1"
echo ""
echo "__RESULT_START__"
echo '{"success": true, "result": "warm answer"}'
echo "__RESULT_END__"`)

	handleDir := t.TempDir()
	sink := &collectSink{}
	res, err := newTestRunner(t, script, 0).Run(context.Background(), Job{
		SessionID: "s1",
		FilePath:  "ignored when warm",
		Question:  "follow-up",
		DataDir:   handleDir,
		Handle: &Handle{
			FileID:   "f1",
			FilePath: "/uploads/original.zip",
			DataDir:  handleDir,
			WarmedAt: time.Now(),
		},
	}, sink)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Result.Success {
		t.Fatalf("run failed: %s", res.Result.Error)
	}

	joined := strings.Join(sink.texts(), "\n")
	if !strings.Contains(joined, `"warm":true`) {
		t.Errorf("job file not marked warm: %s", joined)
	}
	if !strings.Contains(joined, "/uploads/original.zip") {
		t.Errorf("handle file path not passed through: %s", joined)
	}
}

func TestLineCategories(t *testing.T) {
	script := writeEngineScript(t, `
echo "Starting extraction"
echo "plain output line"`)

	sink := &collectSink{}
	runJob(t, newTestRunner(t, script, 0), sink)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(sink.lines))
	}
	if sink.lines[0].Category != classify.System {
		t.Errorf("banner category = %s, want system", sink.lines[0].Category)
	}
	if sink.lines[1].Category != classify.Progress {
		t.Errorf("plain category = %s, want agent_progress", sink.lines[1].Category)
	}
	if sink.lines[1].ReceivedAt.Before(sink.lines[0].ReceivedAt) {
		t.Error("receipt timestamps not monotonic")
	}
}
