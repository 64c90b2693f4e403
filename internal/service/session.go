package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/QuantForge/internal/config"
	"github.com/Strob0t/QuantForge/internal/domain"
	"github.com/Strob0t/QuantForge/internal/domain/session"
	"github.com/Strob0t/QuantForge/internal/logger"
	"github.com/Strob0t/QuantForge/internal/workspace"
)

// SessionService owns session lifecycle: creation, lookup, cancellation
// and resumption. Each running session gets its own goroutine driving the
// orchestrator; the workspace store remains the single source of truth, so
// lookups always read through it.
type SessionService struct {
	store *workspace.Store
	orch  *Orchestrator
	cfg   config.Orchestrator
	log   *slog.Logger
	now   func() time.Time

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // session id -> running loop cancel
	dirs    map[string]string             // session id -> workspace dir
	wg      sync.WaitGroup
}

// NewSessionService creates a SessionService.
func NewSessionService(store *workspace.Store, orch *Orchestrator, cfg config.Orchestrator, log *slog.Logger) *SessionService {
	return &SessionService{
		store:   store,
		orch:    orch,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		cancels: make(map[string]context.CancelFunc),
		dirs:    make(map[string]string),
	}
}

// Create opens a new session for the goal, persists the session record,
// and starts the orchestration loop in the background.
func (s *SessionService) Create(ctx context.Context, req session.CreateRequest) (session.Session, error) {
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return session.Session{}, fmt.Errorf("%w: goal is required", domain.ErrValidation)
	}

	now := s.now().UTC()
	ws, err := s.store.Create(goal, now)
	if err != nil {
		return session.Session{}, fmt.Errorf("create workspace: %w", err)
	}

	sess := session.Session{
		ID:        uuid.NewString(),
		Goal:      goal,
		Phase:     session.PhaseInit,
		Workspace: ws,
		CreatedAt: now,
		UpdatedAt: now,
	}
	raw, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return session.Session{}, err
	}
	if _, err := s.store.WriteArtifact(ws, workspace.StageSession, 1, raw); err != nil {
		return session.Session{}, fmt.Errorf("write session record: %w", err)
	}

	s.launch(sess)
	s.log.Info("session created", "session_id", sess.ID, "workspace", ws, "goal", goal)
	return sess, nil
}

// Get returns the session with its live phase derived from the workspace.
func (s *SessionService) Get(ctx context.Context, id string) (session.Session, error) {
	ws, err := s.workspaceFor(id)
	if err != nil {
		return session.Session{}, err
	}
	return s.load(ws)
}

// List returns every session in the store, running or not.
func (s *SessionService) List(ctx context.Context) ([]session.Session, error) {
	dirs, err := s.store.Workspaces()
	if err != nil {
		return nil, err
	}
	out := make([]session.Session, 0, len(dirs))
	for _, ws := range dirs {
		sess, err := s.load(ws)
		if err != nil {
			s.log.Warn("skip unreadable workspace", "workspace", ws, "error", err)
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// Artifacts returns the artifact listing of the session's workspace.
func (s *SessionService) Artifacts(ctx context.Context, id string) ([]workspace.Meta, error) {
	ws, err := s.workspaceFor(id)
	if err != nil {
		return nil, err
	}
	return s.store.List(ws)
}

// Artifact reads one artifact from the session's workspace by file name.
func (s *SessionService) Artifact(ctx context.Context, id, name string) ([]byte, error) {
	ws, err := s.workspaceFor(id)
	if err != nil {
		return nil, err
	}
	if _, _, ok := workspace.ParseArtifactName(name); !ok {
		return nil, fmt.Errorf("%w: bad artifact name %q", domain.ErrValidation, name)
	}
	return s.store.ReadArtifact(ws, name)
}

// Cancel stops the session's orchestration loop. The workspace keeps all
// artifacts written so far and the session can be resumed later.
func (s *SessionService) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: session %s is not running", domain.ErrNotFound, id)
	}
	cancel()
	s.log.Info("session cancelled", "session_id", id)
	return nil
}

// Resume restarts the orchestration loop for every non-terminal session
// found in the store. Called once at startup.
func (s *SessionService) Resume(ctx context.Context) error {
	dirs, err := s.store.Workspaces()
	if err != nil {
		return err
	}
	for _, ws := range dirs {
		sess, err := s.load(ws)
		if err != nil {
			s.log.Warn("skip unreadable workspace", "workspace", ws, "error", err)
			continue
		}
		if sess.Phase.IsTerminal() {
			continue
		}
		s.log.Info("resuming session", "session_id", sess.ID, "workspace", ws, "phase", sess.Phase)
		s.launch(sess)
	}
	return nil
}

// Close cancels all running sessions and waits for their loops to stop.
func (s *SessionService) Close() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// launch starts the orchestration loop for sess in its own goroutine.
func (s *SessionService) launch(sess session.Session) {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithSessionID(ctx, sess.ID)

	s.mu.Lock()
	s.cancels[sess.ID] = cancel
	s.dirs[sess.ID] = sess.Workspace
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.cancels, sess.ID)
			s.mu.Unlock()
		}()
		if err := s.orch.Run(ctx, sess.Workspace); err != nil {
			s.log.Info("session finished", "session_id", sess.ID, "outcome", err.Error())
			return
		}
		s.log.Info("session finished", "session_id", sess.ID, "outcome", "done")
	}()
}

// load rebuilds a session from its workspace, deriving the live phase
// from the same decision function the orchestrator uses.
func (s *SessionService) load(ws string) (session.Session, error) {
	v, err := LoadView(s.store, ws)
	if err != nil {
		return session.Session{}, err
	}
	sess := v.Session
	sess.Phase = Decide(v, s.cfg).Phase()
	if sess.Phase == session.PhaseFailed {
		if raw, _, err := s.store.ReadLatest(ws, workspace.StageFailure); err == nil {
			var marker struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(raw, &marker) == nil {
				sess.Error = marker.Error
			}
		}
	}
	return sess, nil
}

// workspaceFor resolves a session id to its workspace directory, falling
// back to a store scan for sessions created by a previous process.
func (s *SessionService) workspaceFor(id string) (string, error) {
	s.mu.Lock()
	ws, ok := s.dirs[id]
	s.mu.Unlock()
	if ok {
		return ws, nil
	}

	dirs, err := s.store.Workspaces()
	if err != nil {
		return "", err
	}
	for _, dir := range dirs {
		sess, err := s.load(dir)
		if err != nil {
			continue
		}
		if sess.ID == id {
			s.mu.Lock()
			s.dirs[id] = dir
			s.mu.Unlock()
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
}
