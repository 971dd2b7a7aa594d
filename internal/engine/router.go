package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tradepilot/internal/database"
	"tradepilot/internal/logging"
	"tradepilot/internal/venue"
)

// SimVenueName marks fills that never touched an exchange: paper-mode
// fills and live-mode fallback fills.
const SimVenueName = "SIM"

// Fill is the outcome of routing one order.
type Fill struct {
	Price     float64
	Quantity  float64
	VenueName string
	OrderID   *string
	Simulated bool
	// FallbackReason is set when a live order could not be executed on any
	// venue and was simulated instead. It carries the failure code of the
	// first venue attempted.
	FallbackReason *string
}

// Router sends orders to venues. Live opens walk the configured venues in
// preference order and fall back to a simulated fill when every venue
// fails; closes go to the single venue the position was opened on.
type Router struct {
	resolver VenueResolver
	metrics  *Metrics
	log      *logging.Logger
}

// NewRouter creates a router.
func NewRouter(resolver VenueResolver, metrics *Metrics) *Router {
	return &Router{
		resolver: resolver,
		metrics:  metrics,
		log:      logging.WithComponent("router"),
	}
}

// Open routes an entry order. Paper sessions always fill simulated at the
// reference price. Live sessions try each compatible venue in order; when
// all fail the order fills simulated, tagged with the first venue's
// failure reason, so a venue outage degrades the session instead of
// wedging it.
func (r *Router) Open(ctx context.Context, userID, mode, symbol, side string, quantity, refPrice float64) (*Fill, error) {
	if quantity <= 0 || refPrice <= 0 {
		return nil, fmt.Errorf("invalid order: qty=%f price=%f", quantity, refPrice)
	}

	if mode == database.ModePaper {
		return r.simFill(symbol, quantity, refPrice, nil), nil
	}

	orderSide := venue.Buy
	if side == database.SideShort {
		orderSide = venue.Sell
	}
	req := venue.OrderRequest{Symbol: symbol, Side: orderSide, Quantity: quantity, RefPrice: refPrice}

	var firstReason string
	attempted := 0
	for _, cfg := range r.resolver.Configs() {
		v, err := r.resolver.Venue(ctx, userID, cfg.Name)
		if err != nil {
			attempted++
			r.noteFailure(&firstReason, err)
			continue
		}
		if !v.Supports(symbol) || quantity*refPrice < v.MinNotional() {
			continue
		}

		attempted++
		result, err := v.PlaceOrder(ctx, req)
		if err != nil {
			r.noteFailure(&firstReason, err)
			r.log.Warn("Venue order failed", "venue", cfg.Name, "symbol", symbol, "error", err)
			continue
		}

		return &Fill{
			Price:     result.FilledPrice,
			Quantity:  result.FilledQty,
			VenueName: result.VenueName,
			OrderID:   &result.OrderID,
		}, nil
	}

	if firstReason == "" {
		// No venue was even attemptable for this symbol/size.
		firstReason = venue.CodeRejected
	}
	r.metrics.FallbackFills.WithLabelValues(firstReason).Inc()
	r.log.Warn("All venues failed, filling simulated",
		"symbol", symbol, "attempted", attempted, "reason", firstReason)
	return r.simFill(symbol, quantity, refPrice, &firstReason), nil
}

// Close routes an exit order to the venue the position was opened on.
// There is no fallback and no retry: a failed venue close is reported to
// the caller, which closes the position at the reference price and flags
// it for reconciliation.
func (r *Router) Close(ctx context.Context, userID, mode string, p *database.Position, refPrice float64) (*Fill, error) {
	if mode == database.ModePaper || p.VenueName == SimVenueName {
		return r.simFill(p.Symbol, p.Quantity, refPrice, nil), nil
	}

	v, err := r.resolver.Venue(ctx, userID, p.VenueName)
	if err != nil {
		return nil, fmt.Errorf("resolve close venue %s: %w", p.VenueName, err)
	}

	orderSide := venue.Sell
	if p.Side == database.SideShort {
		orderSide = venue.Buy
	}

	result, err := v.PlaceOrder(ctx, venue.OrderRequest{
		Symbol:   p.Symbol,
		Side:     orderSide,
		Quantity: p.Quantity,
		RefPrice: refPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("close order on %s: %w", p.VenueName, err)
	}

	return &Fill{
		Price:     result.FilledPrice,
		Quantity:  result.FilledQty,
		VenueName: result.VenueName,
		OrderID:   &result.OrderID,
	}, nil
}

func (r *Router) simFill(symbol string, quantity, price float64, fallbackReason *string) *Fill {
	id := uuid.New().String()
	r.log.Debug("Simulated fill", "symbol", symbol, "quantity", quantity, "price", price)
	return &Fill{
		Price:          price,
		Quantity:       quantity,
		VenueName:      SimVenueName,
		OrderID:        &id,
		Simulated:      true,
		FallbackReason: fallbackReason,
	}
}

func (r *Router) noteFailure(first *string, err error) {
	if *first != "" {
		return
	}
	var ve *venue.Error
	if errors.As(err, &ve) {
		*first = ve.Code
		return
	}
	// Anything untyped is a transport problem.
	*first = venue.CodeConnectivity
}
