// Package analysis orchestrates the full lifecycle of an analysis request:
// session registration, supervised engine runs, and observer notifications.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fiscalyze/backend/internal/engine"
	"github.com/fiscalyze/backend/internal/session"
	"github.com/fiscalyze/backend/internal/upload"
)

var ErrSessionNotReady = errors.New("session is not ready for queries")

// Publisher receives the observer-facing events the service emits.
// *ws.Broadcaster satisfies it.
type Publisher interface {
	AgentLine(text, category string, at time.Time)
	Log(level, message string)
	ProcessingStarted(fileID, sessionID string)
	ProcessingCompleted(fileID, sessionID string, success bool, message string)
}

// Runner abstracts the engine supervisor for tests.
type Runner interface {
	Run(ctx context.Context, job engine.Job, sink engine.Sink) (*engine.RunResult, error)
}

type Service struct {
	registry *session.Registry
	uploads  *upload.Store
	runner   Runner
	pub      Publisher
	log      *slog.Logger
}

func NewService(registry *session.Registry, uploads *upload.Store, runner Runner, pub Publisher, log *slog.Logger) *Service {
	return &Service{
		registry: registry,
		uploads:  uploads,
		runner:   runner,
		pub:      pub,
		log:      log,
	}
}

// publishSink forwards accepted engine lines to observers as they arrive.
type publishSink struct {
	pub Publisher
}

func (s publishSink) Line(l engine.Line) {
	s.pub.AgentLine(l.Text, l.Category.String(), l.ReceivedAt)
}

// Process runs the first analysis over an uploaded file. It creates the
// session, supervises the engine run to completion, and resolves the
// session to ready (storing the reusable handle) or failed. The session id
// is returned even when the run fails so callers can inspect the state.
func (s *Service) Process(ctx context.Context, fileID, question string) (string, *engine.RunResult, error) {
	filePath, err := s.uploads.Path(fileID)
	if err != nil {
		return "", nil, err
	}
	dataDir, err := s.uploads.DataDir(fileID)
	if err != nil {
		return "", nil, err
	}

	id := s.registry.Create(session.Input{
		FileID:  fileID,
		WorkDir: filePath,
		DataDir: dataDir,
	})

	s.pub.ProcessingStarted(fileID, id)
	s.pub.Log("info", fmt.Sprintf("🤖 Starting analysis of %s (session %s)", fileID, id))

	if err := s.registry.MarkProcessing(id); err != nil {
		return id, nil, err
	}

	res, err := s.runner.Run(ctx, engine.Job{
		SessionID: id,
		FilePath:  filePath,
		Question:  question,
		DataDir:   dataDir,
	}, publishSink{s.pub})
	if err != nil {
		// Spawn failure: the engine never ran.
		reason := fmt.Sprintf("engine could not be started: %v", err)
		s.registry.MarkFailed(id, reason)
		s.pub.Log("error", "❌ "+reason)
		s.pub.ProcessingCompleted(fileID, id, false, reason)
		return id, nil, err
	}

	s.registry.SetTranscript(id, res.Transcript)

	if !res.Result.Success {
		s.registry.MarkFailed(id, res.Result.Error)
		s.pub.Log("error", "❌ Analysis failed: "+res.Result.Error)
		s.pub.ProcessingCompleted(fileID, id, false, res.Result.Error)
		return id, res, nil
	}

	handle := &engine.Handle{
		FileID:   fileID,
		FilePath: filePath,
		DataDir:  dataDir,
		WarmedAt: time.Now(),
	}
	if err := s.registry.MarkReady(id, handle); err != nil {
		// The registry refused the transition; surface it rather than
		// serving queries against an inconsistent session.
		s.log.Error("mark ready failed", "session", id, "err", err)
		return id, res, err
	}

	s.pub.Log("success", "✅ Analysis completed")
	s.pub.ProcessingCompleted(fileID, id, true, "Analysis completed")
	return id, res, nil
}

// Query runs a follow-up question against a ready session, reusing its
// stored engine handle. Sessions that are not ready are rejected, never
// queued. A failed query leaves the session ready: the prepared engine
// state is still valid for the next attempt.
func (s *Service) Query(ctx context.Context, sessionID, question string) (*engine.RunResult, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != session.Ready {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotReady, sessionID, sess.State)
	}

	handle, ok := sess.Handle.(*engine.Handle)
	if !ok || handle == nil {
		return nil, fmt.Errorf("session %s has no engine handle", sessionID)
	}

	s.pub.Log("info", fmt.Sprintf("🔍 New query on session %s: %s", sessionID, question))

	res, err := s.runner.Run(ctx, engine.Job{
		SessionID: sessionID,
		Question:  question,
		DataDir:   handle.DataDir,
		Handle:    handle,
	}, publishSink{s.pub})
	if err != nil {
		s.pub.Log("error", fmt.Sprintf("❌ Query failed: %v", err))
		return nil, err
	}

	if res.Result.Success {
		s.pub.Log("success", "✅ Query completed")
	} else {
		s.pub.Log("error", "❌ Query failed: "+res.Result.Error)
	}
	return res, nil
}
