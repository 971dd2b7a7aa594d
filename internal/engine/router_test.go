package engine

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"tradepilot/config"
	"tradepilot/internal/database"
	"tradepilot/internal/venue"
)

func venueConfigs(names ...string) []config.VenueConfig {
	out := make([]config.VenueConfig, 0, len(names))
	for _, name := range names {
		out = append(out, config.VenueConfig{Name: name})
	}
	return out
}

func newTestRouter(resolver VenueResolver) *Router {
	return NewRouter(resolver, NewMetrics(prometheus.NewRegistry()))
}

func TestPaperOpenFillsSimulated(t *testing.T) {
	r := newTestRouter(&fakeResolver{})

	fill, err := r.Open(context.Background(), "u1", database.ModePaper, "BTCUSDT", database.SideLong, 2, 100)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !fill.Simulated || fill.VenueName != SimVenueName {
		t.Fatalf("expected simulated fill, got %+v", fill)
	}
	if fill.Price != 100 || fill.Quantity != 2 {
		t.Fatalf("paper fill must use reference price and quantity: %+v", fill)
	}
	if fill.FallbackReason != nil {
		t.Fatal("paper fills are not fallbacks")
	}
}

func TestLiveOpenUsesFirstCompatibleVenue(t *testing.T) {
	alpha := &fakeVenue{name: "alpha", symbols: map[string]bool{"ETHUSDT": true}}
	beta := &fakeVenue{name: "beta"}
	r := newTestRouter(&fakeResolver{
		configs: venueConfigs("alpha", "beta"),
		venues:  map[string]venue.Venue{"alpha": alpha, "beta": beta},
	})

	fill, err := r.Open(context.Background(), "u1", database.ModeLive, "BTCUSDT", database.SideLong, 1, 100)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if fill.VenueName != "beta" || fill.Simulated {
		t.Fatalf("expected live fill on beta, got %+v", fill)
	}
	if len(alpha.orders()) != 0 {
		t.Fatal("incompatible venue must not receive the order")
	}
	if len(beta.orders()) != 1 || beta.orders()[0].Side != venue.Buy {
		t.Fatalf("unexpected beta orders: %+v", beta.orders())
	}
}

func TestLiveOpenFallsBackWithFirstFailureReason(t *testing.T) {
	beta := &fakeVenue{
		name:     "beta",
		placeErr: &venue.Error{Code: venue.CodeConnectivity, Venue: "beta", Message: "down"},
	}
	r := newTestRouter(&fakeResolver{
		configs: venueConfigs("alpha", "beta"),
		venues:  map[string]venue.Venue{"beta": beta},
		errs: map[string]error{
			"alpha": &venue.Error{Code: venue.CodeNoCredentials, Venue: "alpha", Message: "none"},
		},
	})

	fill, err := r.Open(context.Background(), "u1", database.ModeLive, "BTCUSDT", database.SideLong, 1, 100)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !fill.Simulated {
		t.Fatal("expected simulated fallback fill")
	}
	if fill.FallbackReason == nil || *fill.FallbackReason != venue.CodeNoCredentials {
		t.Fatalf("fallback reason must come from the first venue, got %v", fill.FallbackReason)
	}
	// The second venue was still tried before falling back.
	if len(beta.orders()) != 1 {
		t.Fatalf("expected beta to be attempted, got %d orders", len(beta.orders()))
	}
}

func TestLiveOpenNoCredentialsAnywhere(t *testing.T) {
	r := newTestRouter(&fakeResolver{
		configs: venueConfigs("alpha", "beta"),
		errs: map[string]error{
			"alpha": &venue.Error{Code: venue.CodeNoCredentials, Venue: "alpha", Message: "none"},
			"beta":  &venue.Error{Code: venue.CodeNoCredentials, Venue: "beta", Message: "none"},
		},
	})

	fill, err := r.Open(context.Background(), "u1", database.ModeLive, "BTCUSDT", database.SideLong, 1, 100)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !fill.Simulated {
		t.Fatal("expected simulated fill when no venue has credentials")
	}
	if fill.FallbackReason == nil || *fill.FallbackReason != venue.CodeNoCredentials {
		t.Fatalf("expected NO_CREDENTIALS, got %v", fill.FallbackReason)
	}
}

func TestLiveOpenInsufficientBalanceFallback(t *testing.T) {
	alpha := &fakeVenue{
		name:     "alpha",
		placeErr: &venue.Error{Code: venue.CodeInsufficientBalance, Venue: "alpha", Message: "broke"},
	}
	r := newTestRouter(&fakeResolver{
		configs: venueConfigs("alpha"),
		venues:  map[string]venue.Venue{"alpha": alpha},
	})

	fill, err := r.Open(context.Background(), "u1", database.ModeLive, "BTCUSDT", database.SideLong, 1, 100)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if fill.FallbackReason == nil || *fill.FallbackReason != venue.CodeInsufficientBalance {
		t.Fatalf("expected INSUFFICIENT_BALANCE, got %v", fill.FallbackReason)
	}
}

func TestMinNotionalSkipsVenue(t *testing.T) {
	alpha := &fakeVenue{name: "alpha", minNotional: 1000}
	r := newTestRouter(&fakeResolver{
		configs: venueConfigs("alpha"),
		venues:  map[string]venue.Venue{"alpha": alpha},
	})

	// 1 * 100 is below alpha's 1000 minimum.
	fill, err := r.Open(context.Background(), "u1", database.ModeLive, "BTCUSDT", database.SideLong, 1, 100)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if len(alpha.orders()) != 0 {
		t.Fatal("venue below min notional must not be attempted")
	}
	if fill.FallbackReason == nil || *fill.FallbackReason != venue.CodeRejected {
		t.Fatalf("expected REJECTED when no venue is attemptable, got %v", fill.FallbackReason)
	}
}

func TestCloseGoesToOpeningVenueOnly(t *testing.T) {
	alpha := &fakeVenue{name: "alpha"}
	beta := &fakeVenue{name: "beta"}
	r := newTestRouter(&fakeResolver{
		configs: venueConfigs("alpha", "beta"),
		venues:  map[string]venue.Venue{"alpha": alpha, "beta": beta},
	})

	p := &database.Position{
		Symbol: "BTCUSDT", Side: database.SideLong, Quantity: 1, VenueName: "beta",
	}
	fill, err := r.Close(context.Background(), "u1", database.ModeLive, p, 100)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if fill.VenueName != "beta" {
		t.Fatalf("close must execute on the opening venue, got %s", fill.VenueName)
	}
	if len(alpha.orders()) != 0 {
		t.Fatal("other venues must not see the close")
	}
	if got := beta.orders(); len(got) != 1 || got[0].Side != venue.Sell {
		t.Fatalf("closing a long must sell on the venue: %+v", got)
	}
}

func TestCloseOfSimPositionIsSimulated(t *testing.T) {
	r := newTestRouter(&fakeResolver{})

	p := &database.Position{
		Symbol: "BTCUSDT", Side: database.SideShort, Quantity: 1, VenueName: SimVenueName,
	}
	fill, err := r.Close(context.Background(), "u1", database.ModeLive, p, 100)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !fill.Simulated {
		t.Fatal("closing a simulated position never touches a venue")
	}
}

func TestCloseFailureHasNoFallback(t *testing.T) {
	alpha := &fakeVenue{
		name:     "alpha",
		placeErr: &venue.Error{Code: venue.CodeConnectivity, Venue: "alpha", Message: "down"},
	}
	beta := &fakeVenue{name: "beta"}
	r := newTestRouter(&fakeResolver{
		configs: venueConfigs("alpha", "beta"),
		venues:  map[string]venue.Venue{"alpha": alpha, "beta": beta},
	})

	p := &database.Position{
		Symbol: "BTCUSDT", Side: database.SideLong, Quantity: 1, VenueName: "alpha",
	}
	if _, err := r.Close(context.Background(), "u1", database.ModeLive, p, 100); err == nil {
		t.Fatal("close failure must surface to the caller")
	}
	if len(alpha.orders()) != 1 {
		t.Fatalf("expected one close attempt, got %d", len(alpha.orders()))
	}
	if len(beta.orders()) != 0 {
		t.Fatal("a close must never fall back to another venue")
	}
}
