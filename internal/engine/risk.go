package engine

import (
	"time"

	"tradepilot/config"
	"tradepilot/internal/database"
)

// RiskManager enforces per-session limits: daily loss, session duration,
// concurrent positions, daily trade count and position sizing.
type RiskManager struct {
	cfg            config.RiskConfig
	maxDailyTrades int
}

// NewRiskManager creates a risk manager.
func NewRiskManager(cfg config.RiskConfig, maxDailyTrades int) *RiskManager {
	return &RiskManager{cfg: cfg, maxDailyTrades: maxDailyTrades}
}

// ApplyDefaults fills unset profile fields with the configured defaults.
func (rm *RiskManager) ApplyDefaults(p *database.RiskProfile) {
	if p.MaxDailyLossPct <= 0 {
		p.MaxDailyLossPct = rm.cfg.DefaultMaxDailyLossPct
	}
	if p.MaxPositionPct <= 0 {
		p.MaxPositionPct = rm.cfg.DefaultMaxPositionPct
	}
	if p.StopLossPct <= 0 {
		p.StopLossPct = rm.cfg.DefaultStopLossPct
	}
	if p.TakeProfitPct <= 0 {
		p.TakeProfitPct = rm.cfg.DefaultTakeProfitPct
	}
	if p.MaxPositions <= 0 {
		p.MaxPositions = rm.cfg.DefaultMaxPositions
	}
	if p.SessionDuration <= 0 {
		p.SessionDuration = rm.cfg.DefaultSessionDuration
	}
}

// CheckSession returns a stop reason when the session has breached a
// session-level limit, or "" when it may keep running.
//
// Daily loss is checked first so a session that is both over its loss limit
// and past its duration records the loss stop. Losses inside the grace
// period never stop a session; a few early losing fills should not kill a
// run seconds after it starts. The position-count check is a backstop:
// CanOpen refuses entries at the cap, so a count past it means restored
// state or an outside mutation, and the session stops rather than keep
// trading over its limit.
func (rm *RiskManager) CheckSession(s *database.Session, openPositions int, now time.Time) string {
	age := now.Sub(s.StartedAt)

	if age >= rm.cfg.GracePeriod && s.PortfolioValue > 0 {
		lossLimit := s.PortfolioValue * s.Risk.MaxDailyLossPct / 100
		if -s.RealizedPnL >= lossLimit {
			return StopDailyLoss
		}
	}

	if age >= s.Risk.SessionDuration {
		return StopDuration
	}

	if openPositions > s.Risk.MaxPositions {
		return StopMaxPositions
	}

	return ""
}

// CanOpen reports whether the session may open another position.
func (rm *RiskManager) CanOpen(s *database.Session, openPositions int) bool {
	if openPositions >= s.Risk.MaxPositions {
		return false
	}
	if rm.maxDailyTrades > 0 && s.TradesToday >= rm.maxDailyTrades {
		return false
	}
	return true
}

// PositionSize returns the quantity to buy at the given price so the
// position's notional is the profile's share of portfolio value.
func (rm *RiskManager) PositionSize(s *database.Session, price float64) float64 {
	if price <= 0 || s.PortfolioValue <= 0 {
		return 0
	}
	return s.PortfolioValue * s.Risk.MaxPositionPct / 100 / price
}

// Levels returns the stop-loss and take-profit prices for an entry.
func (rm *RiskManager) Levels(side string, entry float64, p database.RiskProfile) (stopLoss, takeProfit float64) {
	sl := p.StopLossPct / 100
	tp := p.TakeProfitPct / 100
	if side == database.SideShort {
		return entry * (1 + sl), entry * (1 - tp)
	}
	return entry * (1 - sl), entry * (1 + tp)
}
