// Package engine supervises one external analysis engine invocation at a
// time: it spawns the engine as a child process, streams its merged
// stdout/stderr line by line through the classifier into a sink, and
// extracts the sentinel-delimited structured result.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/fiscalyze/backend/internal/classify"
	"github.com/fiscalyze/backend/internal/config"
)

const (
	// maxLineBytes bounds a single scanned output line. Engine answers can
	// paste back whole documents.
	maxLineBytes = 1024 * 1024
)

// Line is one unit of classified engine output.
type Line struct {
	Text       string
	Category   classify.Category
	ReceivedAt time.Time
}

// Sink receives accepted lines as they are produced. Implementations must
// be safe for concurrent use: the resource sampler emits system lines from
// its own goroutine.
type Sink interface {
	Line(line Line)
}

// Job describes one engine invocation.
type Job struct {
	SessionID string
	FilePath  string
	Question  string
	DataDir   string
	// Handle is non-nil for follow-up queries against an initialized
	// engine; the run then skips extraction.
	Handle *Handle
}

// RunResult is the resolved outcome of one supervised run.
type RunResult struct {
	Result     Result
	Transcript []string
	ExitCode   int
}

// Runner executes engine invocations. It is stateless across runs; per-run
// state (classifier history, sentinel capture) is scoped to a single Run
// call and discarded.
type Runner struct {
	cfg    config.EngineConfig
	stream config.StreamConfig
	log    *slog.Logger
}

func NewRunner(cfg config.EngineConfig, stream config.StreamConfig, log *slog.Logger) *Runner {
	return &Runner{cfg: cfg, stream: stream, log: log}
}

// Run launches the engine for job and supervises it to completion. The
// returned error covers setup failures only (the engine could not be
// spawned); everything after a successful spawn resolves into the
// RunResult, whose Result.Success is authoritative regardless of the
// process exit code. Cancelling ctx forcefully terminates the child.
func (r *Runner) Run(ctx context.Context, job Job, sink Sink) (*RunResult, error) {
	jf := jobFile{
		FilePath: job.FilePath,
		Question: job.Question,
		DataDir:  job.DataDir,
	}
	if job.Handle != nil {
		jf.FilePath = job.Handle.FilePath
		jf.DataDir = job.Handle.DataDir
		jf.Warm = true
	}

	jobPath, err := writeJobFile(jf.DataDir, jf)
	if err != nil {
		return nil, err
	}
	// The invocation artifact must not outlive the run, success or not.
	defer os.Remove(jobPath)

	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.cfg.Command, jobPath)

	// Merge stdout and stderr into a single pipe owned by this run. The
	// parent's write end is closed right after spawn so the read side sees
	// EOF when the child exits.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("spawn engine: %w", err)
	}
	pw.Close()
	defer pr.Close()

	r.log.Info("engine started",
		"session", job.SessionID,
		"pid", cmd.Process.Pid,
		"warm", jf.Warm,
	)

	sampleDone := make(chan struct{})
	if r.cfg.SampleInterval > 0 {
		go r.sample(ctx, sampleDone, int32(cmd.Process.Pid), sink)
	}

	classifier := classify.New(classify.Options{
		StripPrefix:     "[engine] ",
		ProgressMarkers: r.stream.ProgressMarkers,
		SystemMarkers:   r.stream.SystemMarkers,
		DedupThreshold:  r.stream.DedupThreshold,
	})

	var (
		capture    resultCapture
		transcript []string
		suppressed int
	)

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()

		// Sentinel-region lines belong to the result protocol, never to
		// the broadcast stream.
		if capture.consume(line) {
			continue
		}

		cat := classifier.Classify(line)
		if cat == classify.Suppressed {
			suppressed++
			continue
		}

		transcript = append(transcript, line)
		sink.Line(Line{Text: line, Category: cat, ReceivedAt: time.Now()})
	}

	readErr := scanner.Err()
	if readErr != nil {
		// The scanner stopped mid-stream. Keep draining so the child is
		// not blocked writing into a full pipe; whatever follows the bad
		// line (a sentinel trailer included) is unrecoverable anyway.
		io.Copy(io.Discard, pr)
	}

	waitErr := cmd.Wait()
	close(sampleDone)

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	res := RunResult{
		Transcript: transcript,
		ExitCode:   exitCode,
		Result:     r.resolve(ctx, capture.result, readErr, exitCode),
	}

	r.log.Info("engine finished",
		"session", job.SessionID,
		"exit_code", exitCode,
		"success", res.Result.Success,
		"lines", len(transcript),
		"suppressed", suppressed,
		"read_err", readErr,
		"wait_err", waitErr,
	)

	return &res, nil
}

// resolve turns the captured sentinel result (or its absence) plus the exit
// circumstances into the authoritative Result.
func (r *Runner) resolve(ctx context.Context, captured *Result, readErr error, exitCode int) Result {
	if captured != nil {
		return *captured
	}

	if readErr != nil {
		return Result{Error: fmt.Sprintf("engine output could not be read: %v", readErr)}
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Result{Error: fmt.Sprintf("engine run timed out after %s", r.cfg.RunTimeout)}
	case errors.Is(ctx.Err(), context.Canceled):
		return Result{Error: "engine run cancelled"}
	default:
		return Result{Error: fmt.Sprintf("engine exited with code %d without reporting a result", exitCode)}
	}
}
