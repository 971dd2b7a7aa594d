package database

import "time"

// Session lifecycle states.
const (
	SessionActive   = "ACTIVE"
	SessionStopping = "STOPPING"
	SessionStopped  = "STOPPED"
)

// Trading modes.
const (
	ModeLive  = "LIVE"
	ModePaper = "PAPER"
)

// Position states and sides.
const (
	PositionOpen   = "OPEN"
	PositionClosed = "CLOSED"

	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Execution actions.
const (
	ActionOpen  = "OPEN"
	ActionClose = "CLOSE"
)

// Close reasons recorded on CLOSE executions.
const (
	ReasonSignal      = "SIGNAL"
	ReasonStopLoss    = "STOP_LOSS"
	ReasonTakeProfit  = "TAKE_PROFIT"
	ReasonRiskStop    = "RISK_STOP"
	ReasonSessionStop = "SESSION_STOP"
)

// RiskProfile holds the per-session risk limits. Percentages are whole
// numbers (2.0 means 2%).
type RiskProfile struct {
	MaxDailyLossPct float64       `json:"max_daily_loss_pct"`
	MaxPositionPct  float64       `json:"max_position_pct"`
	StopLossPct     float64       `json:"stop_loss_pct"`
	TakeProfitPct   float64       `json:"take_profit_pct"`
	MaxPositions    int           `json:"max_positions"`
	SessionDuration time.Duration `json:"session_duration"`
}

// Session is one user's trading run. A user has at most one session in
// ACTIVE or STOPPING state at a time.
type Session struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	Status         string      `json:"status"`
	Mode           string      `json:"mode"`
	Risk           RiskProfile `json:"risk"`
	PortfolioValue float64     `json:"portfolio_value"`
	RealizedPnL    float64     `json:"realized_pnl"`
	TradesToday    int         `json:"trades_today"`
	CloseFailures  int         `json:"close_failures"`
	StopReason     *string     `json:"stop_reason,omitempty"`
	StartedAt      time.Time   `json:"started_at"`
	StoppedAt      *time.Time  `json:"stopped_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Position is one open or closed holding inside a session. VenueName
// records where the position was opened; closes go back to the same venue.
type Position struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"session_id"`
	UserID     string  `json:"user_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Status     string  `json:"status"`
	EntryPrice float64 `json:"entry_price"`
	Quantity   float64 `json:"quantity"`
	VenueName  string  `json:"venue_name"`
	// Simulated marks an opening fill that never touched a venue;
	// FallbackReason carries the failure that degraded a live order.
	Simulated      bool     `json:"simulated"`
	FallbackReason *string  `json:"fallback_reason,omitempty"`
	VenueOrderID   *string  `json:"venue_order_id,omitempty"`
	StopLoss       float64  `json:"stop_loss"`
	TakeProfit     float64  `json:"take_profit"`
	ClosePrice     *float64 `json:"close_price,omitempty"`
	CloseReason    *string  `json:"close_reason,omitempty"`
	RealizedPnL    *float64 `json:"realized_pnl,omitempty"`
	// CloseFailed marks a position whose venue close order was rejected;
	// the record stays CLOSED but flagged for manual reconciliation.
	CloseFailed bool       `json:"close_failed"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// ExecutionRecord is the append-only audit trail. Exactly one OPEN record
// per position open and exactly one CLOSE record per position close.
type ExecutionRecord struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"session_id"`
	UserID     string  `json:"user_id"`
	PositionID string  `json:"position_id"`
	Action     string  `json:"action"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
	VenueName  string  `json:"venue_name"`
	Reason     string  `json:"reason"`
	// Simulated is true for paper-mode fills and live-mode fallback fills.
	Simulated      bool      `json:"simulated"`
	FallbackReason *string   `json:"fallback_reason,omitempty"`
	VenueOrderID   *string   `json:"venue_order_id,omitempty"`
	PnL            *float64  `json:"pnl,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
