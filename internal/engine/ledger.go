package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradepilot/internal/database"
)

// Ledger is the append-only execution trail. Every fill is written to the
// store and mirrored to a zerolog audit stream so the full trade history
// survives even if the API consumer never reads it.
type Ledger struct {
	store Store
	audit zerolog.Logger
}

// NewLedger creates a ledger writing its audit stream to w.
func NewLedger(store Store, w io.Writer) *Ledger {
	return &Ledger{
		store: store,
		audit: zerolog.New(w).With().Timestamp().Str("stream", "executions").Logger(),
	}
}

// RecordOpen appends the OPEN record for a freshly opened position.
func (l *Ledger) RecordOpen(ctx context.Context, s *database.Session, p *database.Position, fill *Fill) (*database.ExecutionRecord, error) {
	rec := &database.ExecutionRecord{
		ID:             uuid.New().String(),
		SessionID:      s.ID,
		UserID:         s.UserID,
		PositionID:     p.ID,
		Action:         database.ActionOpen,
		Symbol:         p.Symbol,
		Side:           p.Side,
		Quantity:       fill.Quantity,
		Price:          fill.Price,
		VenueName:      fill.VenueName,
		Reason:         database.ReasonSignal,
		Simulated:      fill.Simulated,
		FallbackReason: fill.FallbackReason,
		VenueOrderID:   fill.OrderID,
		CreatedAt:      time.Now().UTC(),
	}

	if err := l.store.InsertExecution(ctx, rec); err != nil {
		return nil, fmt.Errorf("ledger open record: %w", err)
	}

	l.auditEvent(rec).Send()
	return rec, nil
}

// RecordClose appends the one CLOSE record for a position. pnl is the
// realized profit of the round trip.
func (l *Ledger) RecordClose(ctx context.Context, s *database.Session, p *database.Position, fill *Fill, reason string, pnl float64) (*database.ExecutionRecord, error) {
	side := database.SideShort
	if p.Side == database.SideShort {
		side = database.SideLong
	}

	rec := &database.ExecutionRecord{
		ID:             uuid.New().String(),
		SessionID:      s.ID,
		UserID:         s.UserID,
		PositionID:     p.ID,
		Action:         database.ActionClose,
		Symbol:         p.Symbol,
		Side:           side,
		Quantity:       fill.Quantity,
		Price:          fill.Price,
		VenueName:      fill.VenueName,
		Reason:         reason,
		Simulated:      fill.Simulated,
		FallbackReason: fill.FallbackReason,
		VenueOrderID:   fill.OrderID,
		PnL:            &pnl,
		CreatedAt:      time.Now().UTC(),
	}

	if err := l.store.InsertExecution(ctx, rec); err != nil {
		return nil, fmt.Errorf("ledger close record: %w", err)
	}

	l.auditEvent(rec).Float64("pnl", pnl).Send()
	return rec, nil
}

// History returns the session's execution records, most recent first.
func (l *Ledger) History(ctx context.Context, sessionID string, limit int) ([]*database.ExecutionRecord, error) {
	return l.store.GetExecutionsBySession(ctx, sessionID, limit)
}

func (l *Ledger) auditEvent(rec *database.ExecutionRecord) *zerolog.Event {
	ev := l.audit.Info().
		Str("execution_id", rec.ID).
		Str("session_id", rec.SessionID).
		Str("user_id", rec.UserID).
		Str("position_id", rec.PositionID).
		Str("action", rec.Action).
		Str("symbol", rec.Symbol).
		Str("side", rec.Side).
		Float64("quantity", rec.Quantity).
		Float64("price", rec.Price).
		Str("venue", rec.VenueName).
		Str("reason", rec.Reason).
		Bool("simulated", rec.Simulated)
	if rec.FallbackReason != nil {
		ev = ev.Str("fallback_reason", *rec.FallbackReason)
	}
	return ev
}
