package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradepilot/internal/database"
	"tradepilot/internal/events"
	"tradepilot/internal/logging"
	"tradepilot/internal/pricing"
	"tradepilot/internal/signals"
)

// minConfidence is the signal confidence floor for opening a position.
const minConfidence = 60.0

// Monitor runs one session: a single goroutine ticking on an interval,
// evaluating exits and entries, with all mutation of session state done
// under the monitor's mutex. Stop and the tick loop share that mutex and a
// finalized flag, which is what makes session close exactly-once.
type Monitor struct {
	eng      *Engine
	log      *logging.Logger
	interval time.Duration

	mu         sync.Mutex
	session    *database.Session
	positions  map[string]*database.Position // open positions by symbol
	lastPrices map[string]float64
	finalized  bool
	tradeDay   string // UTC date the TradesToday counter belongs to

	batchIdx int

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	ready    chan struct{} // closed after the first evaluation
}

func newMonitor(eng *Engine, session *database.Session, open []*database.Position) *Monitor {
	positions := make(map[string]*database.Position, len(open))
	for _, p := range open {
		positions[p.Symbol] = p
	}

	interval := eng.cfg.EngineConfig.MonitorIntervalSlow
	if session.Risk.TakeProfitPct < eng.cfg.EngineConfig.FastTurnoverTPCutoff {
		interval = eng.cfg.EngineConfig.MonitorIntervalFast
	}

	return &Monitor{
		eng:        eng,
		log:        eng.log.WithUser(session.UserID).WithSession(session.ID),
		interval:   interval,
		session:    session,
		positions:  positions,
		lastPrices: make(map[string]float64),
		tradeDay:   time.Now().UTC().Format("2006-01-02"),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		ready:      make(chan struct{}),
	}
}

func (m *Monitor) start() {
	go m.run()
}

func (m *Monitor) run() {
	defer close(m.done)
	defer m.eng.release(m.session.UserID, m)

	m.log.Info("Session monitor started", "interval", m.interval.String())

	// First evaluation runs immediately so a fresh session opens its
	// initial batch and a restored one re-checks its positions without
	// waiting a full interval.
	finalized := m.safeTick()
	close(m.ready)
	if finalized {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if m.safeTick() {
				return
			}
		}
	}
}

// waitFirstEvaluation blocks until the monitor's first tick has run, or
// the context expires.
func (m *Monitor) waitFirstEvaluation(ctx context.Context) {
	select {
	case <-m.ready:
	case <-ctx.Done():
	}
}

// safeTick runs one tick with panic recovery so a bad tick never kills the
// session goroutine. Every locked phase of the tick releases the mutex by
// defer, so a recovered panic leaves the monitor stoppable.
func (m *Monitor) safeTick() (finalized bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Monitor tick panicked", "panic", r)
			finalized = false
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()
	return m.tick(ctx)
}

// tick is one evaluation pass: snapshot under the mutex, fetch prices off
// the mutex, then act under the mutex. When every position is closed and
// the daily trade cap allows, a fresh signal batch is requested and new
// positions are opened in the same tick.
func (m *Monitor) tick(ctx context.Context) bool {
	m.eng.metrics.MonitorTicks.Inc()

	openSymbols, finalized := m.heldSymbols()
	if finalized {
		return true
	}

	// One price per held symbol, no locks held.
	prices := m.fetchPrices(ctx, openSymbols)

	finalized, canEnter := m.evaluateTick(ctx, prices)
	if finalized {
		return true
	}
	if !canEnter {
		return false
	}

	// Signal batch and entry prices, no locks held.
	batch := m.nextBatch()
	sigs, err := m.eng.signals.Signals(ctx, batch)
	if err != nil {
		m.log.Warn("Signal fetch failed", "error", err)
		m.eng.bus.PublishError("monitor", "signal fetch failed", err)
		return false
	}
	entryPrices := m.fetchPrices(ctx, batch)

	return m.openEntries(ctx, sigs, entryPrices)
}

// heldSymbols snapshots the symbols with open positions.
func (m *Monitor) heldSymbols() (symbols []string, finalized bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalized {
		return nil, true
	}
	m.rollTradeDayLocked()
	symbols = make([]string, 0, len(m.positions))
	for symbol := range m.positions {
		symbols = append(symbols, symbol)
	}
	return symbols, false
}

// evaluateTick is the locked middle of a tick: record prices, risk check,
// exits. Reports whether the session finalized and whether the book is
// flat so new entries may be opened.
func (m *Monitor) evaluateTick(ctx context.Context, prices map[string]float64) (finalized, canEnter bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalized {
		return true, false
	}

	for symbol, price := range prices {
		m.lastPrices[symbol] = price
	}

	now := time.Now().UTC()
	if reason := m.eng.riskMgr.CheckSession(m.session, len(m.positions), now); reason != "" {
		m.log.Info("Risk limit reached, stopping session", "reason", reason)
		m.eng.bus.PublishRiskStop(m.session.UserID, m.session.ID, reason)
		m.finalizeLocked(ctx, reason)
		return true, false
	}

	m.evaluateExitsLocked(ctx, prices)

	return false, len(m.positions) == 0 && m.eng.riskMgr.CanOpen(m.session, 0)
}

// openEntries runs the entry phase of a tick under the lock.
func (m *Monitor) openEntries(ctx context.Context, sigs []signals.Signal, prices map[string]float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalized {
		return true
	}
	m.evaluateEntriesLocked(ctx, sigs, prices)
	return false
}

// rollTradeDayLocked resets the daily trade counter at the UTC day
// boundary.
func (m *Monitor) rollTradeDayLocked() {
	day := time.Now().UTC().Format("2006-01-02")
	if day != m.tradeDay {
		m.tradeDay = day
		m.session.TradesToday = 0
	}
}

// nextBatch returns the next slice of the instrument universe to request
// signals for, rotating through the list across ticks.
func (m *Monitor) nextBatch() []string {
	instruments := m.eng.cfg.EngineConfig.Instruments
	size := m.eng.cfg.EngineConfig.SignalBatchSize
	if size <= 0 || size > len(instruments) {
		size = len(instruments)
	}
	if len(instruments) == 0 {
		return nil
	}

	batch := make([]string, 0, size)
	for i := 0; i < size; i++ {
		batch = append(batch, instruments[(m.batchIdx+i)%len(instruments)])
	}
	m.batchIdx = (m.batchIdx + size) % len(instruments)
	return batch
}

// fetchPrices returns reference prices for the symbols it could price.
// Symbols without a price are simply absent; their checks are skipped this
// tick.
func (m *Monitor) fetchPrices(ctx context.Context, symbols []string) map[string]float64 {
	prices := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		if _, ok := prices[symbol]; ok {
			continue
		}
		price, err := m.eng.feed.Price(ctx, symbol)
		if err != nil {
			if errors.Is(err, pricing.ErrPriceUnavailable) {
				m.eng.metrics.SkippedPrices.Inc()
				m.log.Debug("No price this tick, skipping", "symbol", symbol)
			} else {
				m.log.Warn("Price fetch failed", "symbol", symbol, "error", err)
			}
			continue
		}
		prices[symbol] = price
	}
	return prices
}

// evaluateExitsLocked checks stop-loss and take-profit on every open
// position that has a price this tick. Stop-loss is checked first: a price
// that satisfies both levels closes as a stop-loss.
func (m *Monitor) evaluateExitsLocked(ctx context.Context, prices map[string]float64) {
	for _, p := range m.snapshotPositionsLocked() {
		price, ok := prices[p.Symbol]
		if !ok {
			continue
		}

		var reason string
		switch p.Side {
		case database.SideLong:
			if price <= p.StopLoss {
				reason = database.ReasonStopLoss
			} else if price >= p.TakeProfit {
				reason = database.ReasonTakeProfit
			}
		case database.SideShort:
			if price >= p.StopLoss {
				reason = database.ReasonStopLoss
			} else if price <= p.TakeProfit {
				reason = database.ReasonTakeProfit
			}
		}
		if reason == "" {
			continue
		}

		m.closePositionLocked(ctx, p, reason, price)
	}
}

func (m *Monitor) snapshotPositionsLocked() []*database.Position {
	out := make([]*database.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// evaluateEntriesLocked opens positions for actionable signals. One
// position per symbol; sizing and level placement come from the session's
// risk profile.
func (m *Monitor) evaluateEntriesLocked(ctx context.Context, sigs []signals.Signal, prices map[string]float64) {
	for _, sig := range sigs {
		if !m.eng.riskMgr.CanOpen(m.session, len(m.positions)) {
			return
		}
		if sig.Direction == signals.Hold || sig.Confidence < minConfidence {
			continue
		}
		if _, open := m.positions[sig.Symbol]; open {
			continue
		}
		price, ok := prices[sig.Symbol]
		if !ok {
			continue
		}

		side := database.SideLong
		if sig.Direction == signals.Sell {
			side = database.SideShort
		}
		m.openPositionLocked(ctx, sig.Symbol, side, price)
	}
}

func (m *Monitor) openPositionLocked(ctx context.Context, symbol, side string, refPrice float64) {
	quantity := m.eng.riskMgr.PositionSize(m.session, refPrice)
	if quantity <= 0 {
		return
	}

	fill, err := m.eng.router.Open(ctx, m.session.UserID, m.session.Mode, symbol, side, quantity, refPrice)
	if err != nil {
		m.log.Error("Open order failed", "symbol", symbol, "error", err)
		return
	}

	stopLoss, takeProfit := m.eng.riskMgr.Levels(side, fill.Price, m.session.Risk)
	now := time.Now().UTC()
	p := &database.Position{
		ID:             uuid.New().String(),
		SessionID:      m.session.ID,
		UserID:         m.session.UserID,
		Symbol:         symbol,
		Side:           side,
		Status:         database.PositionOpen,
		EntryPrice:     fill.Price,
		Quantity:       fill.Quantity,
		VenueName:      fill.VenueName,
		Simulated:      fill.Simulated,
		FallbackReason: fill.FallbackReason,
		VenueOrderID:   fill.OrderID,
		StopLoss:       stopLoss,
		TakeProfit:     takeProfit,
		OpenedAt:       now,
	}

	if err := m.eng.store.CreatePosition(ctx, p); err != nil {
		m.log.Error("Failed to persist position", "symbol", symbol, "error", err)
		return
	}
	if _, err := m.eng.ledger.RecordOpen(ctx, m.session, p, fill); err != nil {
		m.log.Error("Failed to record open execution", "position_id", p.ID, "error", err)
	}

	m.positions[symbol] = p
	m.session.TradesToday++
	m.persistAggregatesLocked(ctx)

	m.eng.metrics.PositionsOpened.Inc()
	m.eng.bus.PublishPositionOpened(m.session.UserID, m.session.ID, symbol, side, fill.VenueName, fill.Price, fill.Quantity)
	if fill.FallbackReason != nil {
		m.eng.bus.PublishFallbackFill(m.session.UserID, m.session.ID, symbol, *fill.FallbackReason)
	}
	m.log.Info("Position opened",
		"symbol", symbol, "side", side, "price", fill.Price,
		"quantity", fill.Quantity, "venue", fill.VenueName, "simulated", fill.Simulated)
}

// closePositionLocked closes one position. The close order goes to the
// venue the position was opened on, tried exactly once; if the venue
// refuses or is unreachable the position is still closed at the reference
// price and flagged, never retried into a double close. A close the store
// refuses to persist leaves the position open and is retried on a later
// tick: pnl is only booked once the store accepts the close, so a crash
// between ticks never counts it twice.
func (m *Monitor) closePositionLocked(ctx context.Context, p *database.Position, reason string, refPrice float64) {
	fill, closeErr := m.eng.router.Close(ctx, m.session.UserID, m.session.Mode, p, refPrice)
	closeFailed := closeErr != nil
	if closeFailed {
		fill = &Fill{
			Price:     refPrice,
			Quantity:  p.Quantity,
			VenueName: p.VenueName,
			Simulated: true,
		}
		m.log.Error("Venue close failed, flagging position", "symbol", p.Symbol, "venue", p.VenueName, "error", closeErr)
	}

	pnl := roundTripPnL(p.Side, p.EntryPrice, fill.Price, fill.Quantity)
	now := time.Now().UTC()
	p.Status = database.PositionClosed
	p.ClosePrice = &fill.Price
	p.CloseReason = &reason
	p.RealizedPnL = &pnl
	p.CloseFailed = closeFailed
	p.ClosedAt = &now

	if err := m.eng.store.ClosePosition(ctx, p); err != nil {
		p.Status = database.PositionOpen
		p.ClosePrice, p.CloseReason, p.RealizedPnL, p.ClosedAt = nil, nil, nil, nil
		p.CloseFailed = false
		m.log.Error("Failed to persist position close, will retry", "position_id", p.ID, "error", err)
		return
	}
	if _, err := m.eng.ledger.RecordClose(ctx, m.session, p, fill, reason, pnl); err != nil {
		m.log.Error("Failed to record close execution", "position_id", p.ID, "error", err)
	}

	if closeFailed {
		m.session.CloseFailures++
		m.eng.metrics.CloseFailures.Inc()
		m.eng.bus.Publish(events.Event{
			Type:      events.EventCloseFailed,
			UserID:    m.session.UserID,
			SessionID: m.session.ID,
			Data:      map[string]interface{}{"symbol": p.Symbol, "venue": p.VenueName, "error": closeErr.Error()},
		})
	}

	delete(m.positions, p.Symbol)
	m.session.RealizedPnL += pnl
	m.persistAggregatesLocked(ctx)

	m.eng.metrics.PositionsClosed.WithLabelValues(reason).Inc()
	m.eng.bus.PublishPositionClosed(m.session.UserID, m.session.ID, p.Symbol, reason, fill.Price, pnl)
	m.log.Info("Position closed",
		"symbol", p.Symbol, "reason", reason, "price", fill.Price,
		"pnl", pnl, "close_failed", closeFailed)
}

// roundTripPnL is the realized profit for a closed position.
func roundTripPnL(side string, entry, exit, quantity float64) float64 {
	if side == database.SideShort {
		return (entry - exit) * quantity
	}
	return (exit - entry) * quantity
}

// persistAggregatesLocked writes the session's running totals so a restart
// loses at most the current tick.
func (m *Monitor) persistAggregatesLocked(ctx context.Context) {
	err := m.eng.store.UpdateSessionAggregates(ctx, m.session.ID,
		m.session.RealizedPnL, m.session.TradesToday, m.session.CloseFailures)
	if err != nil {
		m.log.Error("Failed to persist session aggregates", "error", err)
	}
}

// finalizeLocked liquidates every open position and moves the session to
// STOPPED. Idempotent under the mutex: the first caller wins, later
// callers see finalized and do nothing.
func (m *Monitor) finalizeLocked(ctx context.Context, stopReason string) {
	if m.finalized {
		return
	}

	closeReason := database.ReasonSessionStop
	switch stopReason {
	case StopDailyLoss, StopDuration, StopMaxPositions:
		closeReason = database.ReasonRiskStop
	}

	for _, p := range m.snapshotPositionsLocked() {
		refPrice, err := m.eng.feed.Price(ctx, p.Symbol)
		if err != nil {
			// Liquidation must not stall on pricing. Fall back to the last
			// price this monitor saw, then to entry.
			if last, ok := m.lastPrices[p.Symbol]; ok {
				refPrice = last
			} else {
				refPrice = p.EntryPrice
			}
			m.log.Warn("No fresh price for liquidation, using fallback",
				"symbol", p.Symbol, "price", refPrice)
		}
		m.closePositionLocked(ctx, p, closeReason, refPrice)
	}

	now := time.Now().UTC()
	m.session.Status = database.SessionStopped
	m.session.StopReason = &stopReason
	m.session.StoppedAt = &now
	if err := m.eng.store.UpdateSessionStatus(ctx, m.session.ID, database.SessionStopped, &stopReason, &now); err != nil {
		m.log.Error("Failed to persist session stop", "error", err)
	}

	m.finalized = true
	m.eng.metrics.SessionsActive.Dec()
	m.eng.metrics.SessionsStopped.WithLabelValues(stopReason).Inc()
	m.eng.bus.PublishSessionStopped(m.session.UserID, m.session.ID, stopReason, m.session.RealizedPnL)
	m.log.Info("Session stopped", "reason", stopReason,
		"realized_pnl", m.session.RealizedPnL, "close_failures", m.session.CloseFailures)
}

// Stop ends the session: marks it STOPPING, liquidates synchronously,
// moves it to STOPPED and waits for the monitor goroutine to exit. Safe to
// race with the tick loop and with itself. The stop reason is persisted
// with the STOPPING transition so a crash mid-stop can resume with the
// same reason.
func (m *Monitor) Stop(ctx context.Context, stopReason string) *SessionSummary {
	summary := func() *SessionSummary {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.finalized {
			m.session.Status = database.SessionStopping
			m.session.StopReason = &stopReason
			if err := m.eng.store.UpdateSessionStatus(ctx, m.session.ID, database.SessionStopping, &stopReason, nil); err != nil {
				m.log.Error("Failed to mark session stopping", "error", err)
			}
			m.finalizeLocked(ctx, stopReason)
		}
		return m.summaryLocked()
	}()

	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
	return summary
}

// halt stops the monitor goroutine without finalizing the session. Used
// for process shutdown: the session stays ACTIVE in the store and is
// resumed on the next start.
func (m *Monitor) halt() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

// SessionSummary is the terminal report returned by a stop.
type SessionSummary struct {
	SessionID     string     `json:"session_id"`
	UserID        string     `json:"user_id"`
	StopReason    string     `json:"stop_reason"`
	RealizedPnL   float64    `json:"realized_pnl"`
	TradesToday   int        `json:"trades_today"`
	CloseFailures int        `json:"close_failures"`
	StartedAt     time.Time  `json:"started_at"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
}

func (m *Monitor) summaryLocked() *SessionSummary {
	summary := &SessionSummary{
		SessionID:     m.session.ID,
		UserID:        m.session.UserID,
		RealizedPnL:   m.session.RealizedPnL,
		TradesToday:   m.session.TradesToday,
		CloseFailures: m.session.CloseFailures,
		StartedAt:     m.session.StartedAt,
		StoppedAt:     m.session.StoppedAt,
	}
	if m.session.StopReason != nil {
		summary.StopReason = *m.session.StopReason
	}
	return summary
}

// PositionView is one open position with its mark-to-market PnL.
type PositionView struct {
	Position      database.Position `json:"position"`
	CurrentPrice  float64           `json:"current_price"`
	UnrealizedPnL float64           `json:"unrealized_pnl"`
}

// StatusReport is a point-in-time view of a running session.
type StatusReport struct {
	Session       database.Session `json:"session"`
	OpenPositions []PositionView   `json:"open_positions"`
	UnrealizedPnL float64          `json:"unrealized_pnl"`
}

// Status returns a snapshot of the session and its open positions, marked
// to the last prices the monitor saw.
func (m *Monitor) Status() *StatusReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := &StatusReport{Session: *m.session}
	for _, p := range m.positions {
		view := PositionView{Position: *p}
		if price, ok := m.lastPrices[p.Symbol]; ok {
			view.CurrentPrice = price
			view.UnrealizedPnL = roundTripPnL(p.Side, p.EntryPrice, price, p.Quantity)
		}
		report.UnrealizedPnL += view.UnrealizedPnL
		report.OpenPositions = append(report.OpenPositions, view)
	}
	return report
}
