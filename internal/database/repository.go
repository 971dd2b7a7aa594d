package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository provides data access methods for sessions, positions and
// executions.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateSession inserts a new session row.
func (r *Repository) CreateSession(ctx context.Context, s *Session) error {
	query := `
		INSERT INTO sessions (
			id, user_id, status, mode,
			max_daily_loss_pct, max_position_pct, stop_loss_pct, take_profit_pct,
			max_positions, session_duration_secs,
			portfolio_value, realized_pnl, trades_today, close_failures,
			started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.Pool.Exec(ctx, query,
		s.ID, s.UserID, s.Status, s.Mode,
		s.Risk.MaxDailyLossPct, s.Risk.MaxPositionPct, s.Risk.StopLossPct, s.Risk.TakeProfitPct,
		s.Risk.MaxPositions, int64(s.Risk.SessionDuration.Seconds()),
		s.PortfolioValue, s.RealizedPnL, s.TradesToday, s.CloseFailures,
		s.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

const sessionColumns = `
	id, user_id, status, mode,
	max_daily_loss_pct, max_position_pct, stop_loss_pct, take_profit_pct,
	max_positions, session_duration_secs,
	portfolio_value, realized_pnl, trades_today, close_failures,
	stop_reason, started_at, stopped_at, created_at, updated_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var durationSecs int64
	err := row.Scan(
		&s.ID, &s.UserID, &s.Status, &s.Mode,
		&s.Risk.MaxDailyLossPct, &s.Risk.MaxPositionPct, &s.Risk.StopLossPct, &s.Risk.TakeProfitPct,
		&s.Risk.MaxPositions, &durationSecs,
		&s.PortfolioValue, &s.RealizedPnL, &s.TradesToday, &s.CloseFailures,
		&s.StopReason, &s.StartedAt, &s.StoppedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Risk.SessionDuration = time.Duration(durationSecs) * time.Second
	return &s, nil
}

// GetSession returns a session by ID, or nil if not found.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	s, err := scanSession(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// GetActiveSessionByUser returns the user's ACTIVE or STOPPING session,
// or nil if the user has none.
func (r *Repository) GetActiveSessionByUser(ctx context.Context, userID string) (*Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND status IN ('ACTIVE', 'STOPPING')`

	s, err := scanSession(r.db.Pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return s, nil
}

// ListActiveSessions returns every ACTIVE or STOPPING session, used to
// resume monitoring after a restart.
func (r *Repository) ListActiveSessions(ctx context.Context) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE status IN ('ACTIVE', 'STOPPING')
		ORDER BY started_at`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ListSessionsByUser returns the user's sessions, most recent first.
func (r *Repository) ListSessionsByUser(ctx context.Context, userID string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// UpdateSessionStatus transitions a session to a new status. stopReason and
// stoppedAt are only written for terminal transitions.
func (r *Repository) UpdateSessionStatus(ctx context.Context, id, status string, stopReason *string, stoppedAt *time.Time) error {
	query := `
		UPDATE sessions
		SET status = $2, stop_reason = COALESCE($3, stop_reason), stopped_at = COALESCE($4, stopped_at)
		WHERE id = $1`

	_, err := r.db.Pool.Exec(ctx, query, id, status, stopReason, stoppedAt)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return nil
}

// UpdateSessionAggregates persists the running totals after each fill so a
// restart replays at most one tick of history.
func (r *Repository) UpdateSessionAggregates(ctx context.Context, id string, realizedPnL float64, tradesToday, closeFailures int) error {
	query := `
		UPDATE sessions
		SET realized_pnl = $2, trades_today = $3, close_failures = $4
		WHERE id = $1`

	_, err := r.db.Pool.Exec(ctx, query, id, realizedPnL, tradesToday, closeFailures)
	if err != nil {
		return fmt.Errorf("failed to update session aggregates: %w", err)
	}
	return nil
}

// CreatePosition inserts a new open position.
func (r *Repository) CreatePosition(ctx context.Context, p *Position) error {
	query := `
		INSERT INTO positions (
			id, session_id, user_id, symbol, side, status,
			entry_price, quantity, venue_name, simulated, fallback_reason, venue_order_id,
			stop_loss, take_profit, opened_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.Pool.Exec(ctx, query,
		p.ID, p.SessionID, p.UserID, p.Symbol, p.Side, p.Status,
		p.EntryPrice, p.Quantity, p.VenueName, p.Simulated, p.FallbackReason, p.VenueOrderID,
		p.StopLoss, p.TakeProfit, p.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}
	return nil
}

// ClosePosition writes the terminal fields of a position.
func (r *Repository) ClosePosition(ctx context.Context, p *Position) error {
	query := `
		UPDATE positions
		SET status = 'CLOSED', close_price = $2, close_reason = $3,
		    realized_pnl = $4, close_failed = $5, closed_at = $6
		WHERE id = $1 AND status = 'OPEN'`

	tag, err := r.db.Pool.Exec(ctx, query,
		p.ID, p.ClosePrice, p.CloseReason, p.RealizedPnL, p.CloseFailed, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s is not open", p.ID)
	}
	return nil
}

const positionColumns = `
	id, session_id, user_id, symbol, side, status,
	entry_price, quantity, venue_name, simulated, fallback_reason, venue_order_id,
	stop_loss, take_profit,
	close_price, close_reason, realized_pnl, close_failed, opened_at, closed_at`

func scanPosition(row pgx.Row) (*Position, error) {
	var p Position
	err := row.Scan(
		&p.ID, &p.SessionID, &p.UserID, &p.Symbol, &p.Side, &p.Status,
		&p.EntryPrice, &p.Quantity, &p.VenueName, &p.Simulated, &p.FallbackReason, &p.VenueOrderID,
		&p.StopLoss, &p.TakeProfit,
		&p.ClosePrice, &p.CloseReason, &p.RealizedPnL, &p.CloseFailed, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOpenPositionsBySession returns the session's open positions.
func (r *Repository) GetOpenPositionsBySession(ctx context.Context, sessionID string) ([]*Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE session_id = $1 AND status = 'OPEN'
		ORDER BY opened_at`

	rows, err := r.db.Pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get open positions: %w", err)
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetPositionsBySession returns all of the session's positions.
func (r *Repository) GetPositionsBySession(ctx context.Context, sessionID string) ([]*Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE session_id = $1
		ORDER BY opened_at`

	rows, err := r.db.Pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// InsertExecution appends one execution record. The partial unique index on
// (position_id) WHERE action = 'CLOSE' rejects duplicate closes.
func (r *Repository) InsertExecution(ctx context.Context, e *ExecutionRecord) error {
	query := `
		INSERT INTO executions (
			id, session_id, user_id, position_id, action, symbol, side,
			quantity, price, venue_name, reason, simulated,
			fallback_reason, venue_order_id, pnl, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.Pool.Exec(ctx, query,
		e.ID, e.SessionID, e.UserID, e.PositionID, e.Action, e.Symbol, e.Side,
		e.Quantity, e.Price, e.VenueName, e.Reason, e.Simulated,
		e.FallbackReason, e.VenueOrderID, e.PnL, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// GetExecutionsBySession returns the session's executions, most recent
// first, so a capped history query keeps the latest trades.
func (r *Repository) GetExecutionsBySession(ctx context.Context, sessionID string, limit int) ([]*ExecutionRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `
		SELECT id, session_id, user_id, position_id, action, symbol, side,
		       quantity, price, venue_name, reason, simulated,
		       fallback_reason, venue_order_id, pnl, created_at
		FROM executions
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get executions: %w", err)
	}
	defer rows.Close()

	var records []*ExecutionRecord
	for rows.Next() {
		var e ExecutionRecord
		err := rows.Scan(
			&e.ID, &e.SessionID, &e.UserID, &e.PositionID, &e.Action, &e.Symbol, &e.Side,
			&e.Quantity, &e.Price, &e.VenueName, &e.Reason, &e.Simulated,
			&e.FallbackReason, &e.VenueOrderID, &e.PnL, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		records = append(records, &e)
	}
	return records, rows.Err()
}
