package engine

import (
	"testing"
	"time"

	"tradepilot/internal/database"
)

func testRiskManager(grace time.Duration) *RiskManager {
	cfg := testConfig().RiskConfig
	cfg.GracePeriod = grace
	return NewRiskManager(cfg, 50)
}

func TestCheckSessionDailyLoss(t *testing.T) {
	rm := testRiskManager(0)
	s := paperSession("u1")
	s.StartedAt = time.Now().UTC().Add(-time.Hour)

	s.RealizedPnL = -499 // just under 5% of 10000
	if reason := rm.CheckSession(s, 0, time.Now().UTC()); reason != "" {
		t.Fatalf("under the limit, got %s", reason)
	}

	s.RealizedPnL = -500 // exactly at the limit
	if reason := rm.CheckSession(s, 0, time.Now().UTC()); reason != StopDailyLoss {
		t.Fatalf("expected DAILY_LOSS_LIMIT at the threshold, got %q", reason)
	}
}

func TestCheckSessionGracePeriod(t *testing.T) {
	rm := testRiskManager(10 * time.Minute)
	s := paperSession("u1")
	s.RealizedPnL = -9000

	s.StartedAt = time.Now().UTC().Add(-time.Minute)
	if reason := rm.CheckSession(s, 0, time.Now().UTC()); reason != "" {
		t.Fatalf("inside grace period, got %s", reason)
	}

	s.StartedAt = time.Now().UTC().Add(-time.Hour)
	if reason := rm.CheckSession(s, 0, time.Now().UTC()); reason != StopDailyLoss {
		t.Fatalf("past grace period, expected DAILY_LOSS_LIMIT, got %q", reason)
	}
}

func TestCheckSessionDuration(t *testing.T) {
	rm := testRiskManager(0)
	s := paperSession("u1")
	s.Risk.SessionDuration = time.Hour

	s.StartedAt = time.Now().UTC().Add(-30 * time.Minute)
	if reason := rm.CheckSession(s, 0, time.Now().UTC()); reason != "" {
		t.Fatalf("mid-session, got %s", reason)
	}

	s.StartedAt = time.Now().UTC().Add(-2 * time.Hour)
	if reason := rm.CheckSession(s, 0, time.Now().UTC()); reason != StopDuration {
		t.Fatalf("expected SESSION_DURATION, got %q", reason)
	}
}

func TestDailyLossCheckedBeforeDuration(t *testing.T) {
	rm := testRiskManager(0)
	s := paperSession("u1")
	s.Risk.SessionDuration = time.Hour
	s.StartedAt = time.Now().UTC().Add(-2 * time.Hour)
	s.RealizedPnL = -9000

	if reason := rm.CheckSession(s, 0, time.Now().UTC()); reason != StopDailyLoss {
		t.Fatalf("loss stop must win over duration, got %q", reason)
	}
}

func TestCheckSessionPositionOverflow(t *testing.T) {
	rm := testRiskManager(0)
	s := paperSession("u1") // MaxPositions 5
	s.StartedAt = time.Now().UTC().Add(-time.Hour)

	if reason := rm.CheckSession(s, 5, time.Now().UTC()); reason != "" {
		t.Fatalf("at the cap is fine, got %s", reason)
	}
	if reason := rm.CheckSession(s, 6, time.Now().UTC()); reason != StopMaxPositions {
		t.Fatalf("expected MAX_POSITIONS_EXCEEDED past the cap, got %q", reason)
	}
}

func TestCanOpenLimits(t *testing.T) {
	rm := NewRiskManager(testConfig().RiskConfig, 2)
	s := paperSession("u1")
	s.Risk.MaxPositions = 3

	if !rm.CanOpen(s, 2) {
		t.Fatal("two of three positions should allow another")
	}
	if rm.CanOpen(s, 3) {
		t.Fatal("at the position cap, must refuse")
	}

	s.TradesToday = 2
	if rm.CanOpen(s, 0) {
		t.Fatal("at the daily trade cap, must refuse")
	}
}

func TestPositionSize(t *testing.T) {
	rm := testRiskManager(0)
	s := paperSession("u1") // 10000 portfolio, 10% per position

	if qty := rm.PositionSize(s, 100); qty != 10 {
		t.Fatalf("expected 10 units, got %f", qty)
	}
	if qty := rm.PositionSize(s, 0); qty != 0 {
		t.Fatalf("zero price must size to zero, got %f", qty)
	}
}

func TestLevels(t *testing.T) {
	rm := testRiskManager(0)
	profile := database.RiskProfile{StopLossPct: 2, TakeProfitPct: 4}

	sl, tp := rm.Levels(database.SideLong, 100, profile)
	if sl != 98 || tp != 104 {
		t.Fatalf("long levels wrong: sl=%f tp=%f", sl, tp)
	}

	sl, tp = rm.Levels(database.SideShort, 100, profile)
	if sl != 102 || tp != 96 {
		t.Fatalf("short levels wrong: sl=%f tp=%f", sl, tp)
	}
}

func TestApplyDefaultsFillsOnlyZeroFields(t *testing.T) {
	rm := testRiskManager(0)
	p := database.RiskProfile{MaxPositions: 2}
	rm.ApplyDefaults(&p)

	if p.MaxPositions != 2 {
		t.Fatalf("explicit value overridden: %d", p.MaxPositions)
	}
	if p.StopLossPct != 2 || p.SessionDuration != 24*time.Hour {
		t.Fatalf("defaults missing: %+v", p)
	}
}
