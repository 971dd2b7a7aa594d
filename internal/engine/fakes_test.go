package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tradepilot/config"
	"tradepilot/internal/database"
	"tradepilot/internal/events"
	"tradepilot/internal/pricing"
	"tradepilot/internal/signals"
	"tradepilot/internal/venue"
)

// fakeStore is an in-memory Store. Like the real schema it rejects a
// second CLOSE record for the same position.
type fakeStore struct {
	mu          sync.Mutex
	sessions    map[string]*database.Session
	positions   map[string]*database.Position
	executions  []*database.ExecutionRecord
	closeErrs   int // fail the next N ClosePosition calls
	closePanics int // panic on the next N ClosePosition calls
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:  make(map[string]*database.Session),
		positions: make(map[string]*database.Position),
	}
}

func (s *fakeStore) CreateSession(_ context.Context, sess *database.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.UserID == sess.UserID && existing.Status != database.SessionStopped {
			return fmt.Errorf("duplicate active session for user %s", sess.UserID)
		}
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *fakeStore) GetSession(_ context.Context, id string) (*database.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *fakeStore) GetActiveSessionByUser(_ context.Context, userID string) (*database.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Status != database.SessionStopped {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListActiveSessions(_ context.Context) ([]*database.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Session
	for _, sess := range s.sessions {
		if sess.Status != database.SessionStopped {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) ListSessionsByUser(_ context.Context, userID string, limit int) ([]*database.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) UpdateSessionStatus(_ context.Context, id, status string, stopReason *string, stoppedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	sess.Status = status
	if stopReason != nil {
		sess.StopReason = stopReason
	}
	if stoppedAt != nil {
		sess.StoppedAt = stoppedAt
	}
	return nil
}

func (s *fakeStore) UpdateSessionAggregates(_ context.Context, id string, realizedPnL float64, tradesToday, closeFailures int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	sess.RealizedPnL = realizedPnL
	sess.TradesToday = tradesToday
	sess.CloseFailures = closeFailures
	return nil
}

func (s *fakeStore) CreatePosition(_ context.Context, p *database.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *fakeStore) ClosePosition(_ context.Context, p *database.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closePanics > 0 {
		s.closePanics--
		panic("fakeStore: close panic")
	}
	if s.closeErrs > 0 {
		s.closeErrs--
		return fmt.Errorf("store unavailable")
	}
	stored, ok := s.positions[p.ID]
	if !ok || stored.Status != database.PositionOpen {
		return fmt.Errorf("position %s is not open", p.ID)
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *fakeStore) GetOpenPositionsBySession(_ context.Context, sessionID string) ([]*database.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Position
	for _, p := range s.positions {
		if p.SessionID == sessionID && p.Status == database.PositionOpen {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) GetPositionsBySession(_ context.Context, sessionID string) ([]*database.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.Position
	for _, p := range s.positions {
		if p.SessionID == sessionID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertExecution(_ context.Context, e *database.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Action == database.ActionClose {
		for _, existing := range s.executions {
			if existing.PositionID == e.PositionID && existing.Action == database.ActionClose {
				return fmt.Errorf("duplicate close execution for position %s", e.PositionID)
			}
		}
	}
	cp := *e
	s.executions = append(s.executions, &cp)
	return nil
}

func (s *fakeStore) GetExecutionsBySession(_ context.Context, sessionID string, limit int) ([]*database.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Most recent first, mirroring the repository ordering.
	var out []*database.ExecutionRecord
	for i := len(s.executions) - 1; i >= 0; i-- {
		if s.executions[i].SessionID == sessionID {
			cp := *s.executions[i]
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// executionsFor returns the executions for one position, in insert order.
func (s *fakeStore) executionsFor(positionID string) []*database.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.ExecutionRecord
	for _, e := range s.executions {
		if e.PositionID == positionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// fakeFeed serves fixed prices. Symbols without a price return
// ErrPriceUnavailable, same as a down pricing service.
type fakeFeed struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newFakeFeed(prices map[string]float64) *fakeFeed {
	if prices == nil {
		prices = make(map[string]float64)
	}
	return &fakeFeed{prices: prices}
}

func (f *fakeFeed) Price(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[symbol]
	if !ok {
		return 0, pricing.ErrPriceUnavailable
	}
	return price, nil
}

func (f *fakeFeed) set(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *fakeFeed) remove(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prices, symbol)
}

// fakeSignals returns a scripted batch once, then HOLD for everything.
type fakeSignals struct {
	mu    sync.Mutex
	queue [][]signals.Signal
}

func (f *fakeSignals) push(batch []signals.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, batch)
}

func (f *fakeSignals) Signals(_ context.Context, symbols []string) ([]signals.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) > 0 {
		batch := f.queue[0]
		f.queue = f.queue[1:]
		return batch, nil
	}
	out := make([]signals.Signal, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, signals.Signal{Symbol: s, Direction: signals.Hold})
	}
	return out, nil
}

// fakeVenue records orders and answers with a scripted fill or error.
type fakeVenue struct {
	mu          sync.Mutex
	name        string
	minNotional float64
	symbols     map[string]bool // nil = all
	placeErr    error
	fillPrice   float64 // 0 = fill at RefPrice
	placed      []venue.OrderRequest
}

func (v *fakeVenue) Name() string         { return v.name }
func (v *fakeVenue) MinNotional() float64 { return v.minNotional }

func (v *fakeVenue) Supports(symbol string) bool {
	if v.symbols == nil {
		return true
	}
	return v.symbols[symbol]
}

func (v *fakeVenue) PlaceOrder(_ context.Context, req venue.OrderRequest) (*venue.OrderResult, error) {
	v.mu.Lock()
	v.placed = append(v.placed, req)
	err := v.placeErr
	fillPrice := v.fillPrice
	v.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fillPrice <= 0 {
		fillPrice = req.RefPrice
	}
	return &venue.OrderResult{
		OrderID:     fmt.Sprintf("%s-%d", v.name, len(v.placed)),
		Symbol:      req.Symbol,
		Side:        req.Side,
		FilledPrice: fillPrice,
		FilledQty:   req.Quantity,
		VenueName:   v.name,
		FilledAt:    time.Now().UTC(),
	}, nil
}

func (v *fakeVenue) orders() []venue.OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]venue.OrderRequest, len(v.placed))
	copy(out, v.placed)
	return out
}

// fakeResolver serves fake venues, optionally failing resolution per venue
// the way the real resolver does for missing credentials.
type fakeResolver struct {
	configs []config.VenueConfig
	venues  map[string]venue.Venue
	errs    map[string]error
}

func (r *fakeResolver) Configs() []config.VenueConfig { return r.configs }

func (r *fakeResolver) Venue(_ context.Context, _, name string) (venue.Venue, error) {
	if err, ok := r.errs[name]; ok {
		return nil, err
	}
	v, ok := r.venues[name]
	if !ok {
		return nil, fmt.Errorf("unknown venue: %s", name)
	}
	return v, nil
}

func testConfig() *config.Config {
	return &config.Config{
		EngineConfig: config.EngineConfig{
			MonitorIntervalFast:  2 * time.Second,
			MonitorIntervalSlow:  10 * time.Second,
			FastTurnoverTPCutoff: 1.0,
			SignalBatchSize:      3,
			MaxDailyTrades:       50,
			PaperPortfolioValue:  10000,
			Instruments:          []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		},
		RiskConfig: config.RiskConfig{
			GracePeriod:            0,
			DefaultMaxDailyLossPct: 5,
			DefaultMaxPositionPct:  10,
			DefaultStopLossPct:     2,
			DefaultTakeProfitPct:   4,
			DefaultMaxPositions:    5,
			DefaultSessionDuration: 24 * time.Hour,
		},
	}
}

type testEngineOpts struct {
	cfg      *config.Config
	store    *fakeStore
	feed     *fakeFeed
	sigs     *fakeSignals
	resolver VenueResolver
}

func newTestEngine(opts testEngineOpts) (*Engine, *fakeStore, *fakeFeed, *fakeSignals) {
	if opts.cfg == nil {
		opts.cfg = testConfig()
	}
	if opts.store == nil {
		opts.store = newFakeStore()
	}
	if opts.feed == nil {
		opts.feed = newFakeFeed(map[string]float64{
			"BTCUSDT": 60000, "ETHUSDT": 3000, "SOLUSDT": 150,
		})
	}
	if opts.sigs == nil {
		opts.sigs = &fakeSignals{}
	}
	if opts.resolver == nil {
		opts.resolver = &fakeResolver{}
	}

	metrics := NewMetrics(prometheus.NewRegistry())
	eng := New(opts.cfg, Deps{
		Store:   opts.store,
		Ledger:  NewLedger(opts.store, io.Discard),
		Router:  NewRouter(opts.resolver, metrics),
		Risk:    NewRiskManager(opts.cfg.RiskConfig, opts.cfg.EngineConfig.MaxDailyTrades),
		Feed:    opts.feed,
		Signals: opts.sigs,
		Bus:     events.NewEventBus(),
		Metrics: metrics,
	})
	return eng, opts.store, opts.feed, opts.sigs
}

// paperSession builds an ACTIVE paper session with default risk.
func paperSession(userID string) *database.Session {
	return &database.Session{
		ID:     fmt.Sprintf("session-%s", userID),
		UserID: userID,
		Status: database.SessionActive,
		Mode:   database.ModePaper,
		Risk: database.RiskProfile{
			MaxDailyLossPct: 5,
			MaxPositionPct:  10,
			StopLossPct:     2,
			TakeProfitPct:   4,
			MaxPositions:    5,
			SessionDuration: 24 * time.Hour,
		},
		PortfolioValue: 10000,
		StartedAt:      time.Now().UTC(),
	}
}

// openPosition builds an OPEN long position for a session.
func openPosition(s *database.Session, symbol string, entry, qty, stopLoss, takeProfit float64) *database.Position {
	return &database.Position{
		ID:         fmt.Sprintf("pos-%s-%s", s.ID, symbol),
		SessionID:  s.ID,
		UserID:     s.UserID,
		Symbol:     symbol,
		Side:       database.SideLong,
		Status:     database.PositionOpen,
		EntryPrice: entry,
		Quantity:   qty,
		VenueName:  SimVenueName,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		OpenedAt:   time.Now().UTC(),
	}
}
