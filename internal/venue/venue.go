// Package venue abstracts order execution endpoints. Each venue is an
// external exchange reached over REST with per-user credentials; the
// router decides which venue an order goes to and when to fall back to a
// simulated fill.
package venue

import (
	"context"
	"fmt"
	"time"
)

// Order sides.
const (
	Buy  = "BUY"
	Sell = "SELL"
)

// Error codes. These double as the fallback reasons recorded when a live
// order cannot be executed on any venue.
const (
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeNoCredentials       = "NO_CREDENTIALS"
	CodeRejected            = "REJECTED"
	CodeConnectivity        = "CONNECTIVITY_ERROR"
)

// Error is a typed venue failure carrying the code the router uses for
// fallback decisions.
type Error struct {
	Code    string
	Venue   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("venue %s: %s: %s", e.Venue, e.Code, e.Message)
}

// OrderRequest is one order to place on a venue.
type OrderRequest struct {
	Symbol   string
	Side     string // BUY or SELL
	Quantity float64
	// RefPrice is the engine's reference price at decision time, used for
	// notional checks and simulated fills.
	RefPrice float64
}

// OrderResult is a confirmed fill.
type OrderResult struct {
	OrderID     string
	Symbol      string
	Side        string
	FilledPrice float64
	FilledQty   float64
	VenueName   string
	FilledAt    time.Time
}

// Venue executes orders on one exchange on behalf of one user.
type Venue interface {
	// Name returns the configured venue name.
	Name() string
	// Supports reports whether the venue trades the symbol.
	Supports(symbol string) bool
	// MinNotional returns the venue's minimum order value.
	MinNotional() float64
	// PlaceOrder submits a market order. Failures are returned as *Error
	// with one of the Code constants.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}
