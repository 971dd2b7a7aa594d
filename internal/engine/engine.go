// Package engine runs per-user automated trading sessions. Each session
// gets one monitor goroutine; the engine owns the registry that enforces
// the one-active-session-per-user rule.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradepilot/config"
	"tradepilot/internal/database"
	"tradepilot/internal/events"
	"tradepilot/internal/logging"
	"tradepilot/internal/pricing"
	"tradepilot/internal/signals"
)

// Engine is the session manager. All public methods are safe for
// concurrent use.
type Engine struct {
	cfg     *config.Config
	store   Store
	ledger  *Ledger
	riskMgr *RiskManager
	router  *Router
	feed    pricing.Feed
	signals signals.Provider
	bus     *events.EventBus
	metrics *Metrics
	log     *logging.Logger

	mu       sync.Mutex
	monitors map[string]*Monitor // userID -> running monitor
	closed   bool
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Store   Store
	Ledger  *Ledger
	Router  *Router
	Risk    *RiskManager
	Feed    pricing.Feed
	Signals signals.Provider
	Bus     *events.EventBus
	Metrics *Metrics
}

// New creates an engine.
func New(cfg *config.Config, deps Deps) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    deps.Store,
		ledger:   deps.Ledger,
		riskMgr:  deps.Risk,
		router:   deps.Router,
		feed:     deps.Feed,
		signals:  deps.Signals,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		log:      logging.WithComponent("engine"),
		monitors: make(map[string]*Monitor),
	}
}

// StartRequest is the caller's input to StartSession. Zero-valued risk
// fields fall back to configured defaults.
type StartRequest struct {
	Mode string               `json:"mode"`
	Risk database.RiskProfile `json:"risk"`
}

// StartReport is the start call's reply: the session, the positions the
// first evaluation opened, and the monitoring interval.
type StartReport struct {
	Session            *database.Session `json:"session"`
	InitialPositions   []PositionView    `json:"initial_positions"`
	MonitoringInterval string            `json:"monitoring_interval"`
}

// StartSession creates and starts a session for the user. The call
// returns after the monitor's first evaluation, so the report carries the
// initial positions and the reason any live fill degraded to simulated.
// Returns ErrSessionActive when the user already has one running.
func (e *Engine) StartSession(ctx context.Context, userID string, req StartRequest) (*StartReport, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}

	mode := req.Mode
	switch mode {
	case "":
		mode = database.ModePaper
	case database.ModeLive, database.ModePaper:
	default:
		return nil, fmt.Errorf("invalid mode: %s", mode)
	}

	risk := req.Risk
	e.riskMgr.ApplyDefaults(&risk)

	session := &database.Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		Status:         database.SessionActive,
		Mode:           mode,
		Risk:           risk,
		PortfolioValue: e.cfg.EngineConfig.PaperPortfolioValue,
		StartedAt:      time.Now().UTC(),
	}

	m, err := e.registerSession(ctx, userID, session)
	if err != nil {
		return nil, err
	}
	m.start()

	e.metrics.SessionsActive.Inc()
	e.metrics.SessionsStarted.Inc()
	e.bus.PublishSessionStarted(userID, session.ID, mode)
	e.log.Info("Session started", "user_id", userID, "session_id", session.ID, "mode", mode)

	m.waitFirstEvaluation(ctx)
	status := m.Status()

	return &StartReport{
		Session:            &status.Session,
		InitialPositions:   status.OpenPositions,
		MonitoringInterval: m.interval.String(),
	}, nil
}

// registerSession claims the user's registry slot and persists the new
// session row under the registry lock.
func (e *Engine) registerSession(ctx context.Context, userID string, session *database.Session) (*Monitor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	if _, running := e.monitors[userID]; running {
		return nil, ErrSessionActive
	}

	// The registry is authoritative for this process; the store check
	// guards against a second engine instance sharing the database.
	existing, err := e.store.GetActiveSessionByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check active session: %w", err)
	}
	if existing != nil {
		return nil, ErrSessionActive
	}

	if err := e.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m := newMonitor(e, session, nil)
	e.monitors[userID] = m
	return m, nil
}

// StopSession stops the user's running session, liquidating all open
// positions, and returns the terminal summary. Returns ErrNoActiveSession
// when nothing is running.
func (e *Engine) StopSession(ctx context.Context, userID string) (*SessionSummary, error) {
	e.mu.Lock()
	m, ok := e.monitors[userID]
	e.mu.Unlock()
	if !ok {
		return nil, ErrNoActiveSession
	}

	return m.Stop(ctx, StopUserRequest), nil
}

// Status returns a snapshot of the user's running session.
func (e *Engine) Status(userID string) (*StatusReport, error) {
	e.mu.Lock()
	m, ok := e.monitors[userID]
	e.mu.Unlock()
	if !ok {
		return nil, ErrNoActiveSession
	}
	return m.Status(), nil
}

// History returns execution records. With an empty sessionID the user's
// most recent session is used.
func (e *Engine) History(ctx context.Context, userID, sessionID string, limit int) ([]*database.ExecutionRecord, error) {
	if sessionID == "" {
		sessions, err := e.store.ListSessionsByUser(ctx, userID, 1)
		if err != nil {
			return nil, err
		}
		if len(sessions) == 0 {
			return nil, nil
		}
		sessionID = sessions[0].ID
	} else {
		session, err := e.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if session == nil || session.UserID != userID {
			return nil, fmt.Errorf("session not found")
		}
	}

	return e.ledger.History(ctx, sessionID, limit)
}

// Sessions returns the user's past and present sessions.
func (e *Engine) Sessions(ctx context.Context, userID string, limit int) ([]*database.Session, error) {
	return e.store.ListSessionsByUser(ctx, userID, limit)
}

// RestoreOnStartup resumes monitoring for every session left ACTIVE or
// STOPPING in the store. Idempotent: sessions already registered are
// skipped, so calling it twice never doubles a monitor. Sessions found in
// STOPPING crashed mid-stop and are driven to STOPPED.
func (e *Engine) RestoreOnStartup(ctx context.Context) error {
	sessions, err := e.store.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}

	type pendingStop struct {
		m      *Monitor
		reason string
	}
	var finishStopping []pendingStop

	e.mu.Lock()
	for _, session := range sessions {
		if _, running := e.monitors[session.UserID]; running {
			continue
		}

		open, err := e.store.GetOpenPositionsBySession(ctx, session.ID)
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("load open positions for session %s: %w", session.ID, err)
		}

		m := newMonitor(e, session, open)
		e.monitors[session.UserID] = m
		m.start()
		e.metrics.SessionsActive.Inc()
		e.log.Info("Session restored", "user_id", session.UserID,
			"session_id", session.ID, "open_positions", len(open), "status", session.Status)

		if session.Status == database.SessionStopping {
			// Finish the interrupted stop with its original reason.
			reason := StopUserRequest
			if session.StopReason != nil && *session.StopReason != "" {
				reason = *session.StopReason
			}
			finishStopping = append(finishStopping, pendingStop{m: m, reason: reason})
		}
	}
	e.mu.Unlock()

	for _, ps := range finishStopping {
		ps.m.Stop(ctx, ps.reason)
	}
	return nil
}

// Shutdown halts every monitor without closing positions or sessions;
// they stay ACTIVE in the store and resume on the next start.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	e.closed = true
	monitors := make([]*Monitor, 0, len(e.monitors))
	for _, m := range e.monitors {
		monitors = append(monitors, m)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, m := range monitors {
			m.halt()
		}
		close(done)
	}()

	select {
	case <-done:
		e.log.Info("All session monitors halted", "count", len(monitors))
	case <-ctx.Done():
		e.log.Warn("Shutdown timed out waiting for monitors")
	}
}

// release removes a monitor from the registry when its goroutine exits.
// Compared by pointer so a user's next session is never evicted by the
// tail of the previous one.
func (e *Engine) release(userID string, m *Monitor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if current, ok := e.monitors[userID]; ok && current == m {
		delete(e.monitors, userID)
	}
}
