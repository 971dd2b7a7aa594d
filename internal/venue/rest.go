package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradepilot/config"
	"tradepilot/internal/logging"
)

// restVenue talks to one exchange's REST order API with one user's keys.
// Requests are HMAC-SHA256 signed over the query string.
type restVenue struct {
	cfg        config.VenueConfig
	apiKey     string
	secretKey  string
	httpClient *http.Client
	symbols    map[string]bool
	log        *logging.Logger
}

// NewREST creates a venue backed by the exchange's REST API.
func NewREST(cfg config.VenueConfig, apiKey, secretKey string) Venue {
	symbols := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols[s] = true
	}
	return &restVenue{
		cfg:       cfg,
		apiKey:    apiKey,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		symbols: symbols,
		log:     logging.WithComponent("venue").WithField("venue", cfg.Name),
	}
}

func (v *restVenue) Name() string { return v.cfg.Name }

func (v *restVenue) MinNotional() float64 { return v.cfg.MinNotional }

// Supports reports symbol compatibility. An empty symbol list in config
// means the venue trades everything.
func (v *restVenue) Supports(symbol string) bool {
	if len(v.symbols) == 0 {
		return true
	}
	return v.symbols[symbol]
}

// orderResponse is the venue's order acknowledgement.
type orderResponse struct {
	OrderID     string  `json:"order_id"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	FilledPrice float64 `json:"filled_price,string"`
	FilledQty   float64 `json:"filled_qty,string"`
}

// errorResponse is the venue's rejection body.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (v *restVenue) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("signature", v.sign(params.Encode()))

	endpoint := strings.TrimRight(v.cfg.BaseURL, "/") + "/api/v1/order"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, &Error{Code: CodeConnectivity, Venue: v.cfg.Name, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("X-API-KEY", v.apiKey)

	resp, err := v.httpClient.Do(httpReq)
	if err != nil {
		// Timeouts and transport failures are both connectivity errors.
		return nil, &Error{Code: CodeConnectivity, Venue: v.cfg.Name, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Code: CodeConnectivity, Venue: v.cfg.Name, Message: err.Error()}
	}

	if resp.StatusCode >= 500 {
		return nil, &Error{Code: CodeConnectivity, Venue: v.cfg.Name,
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode, body)}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		code := CodeRejected
		message := string(body)
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Code != "" {
			message = errResp.Message
			if errResp.Code == CodeInsufficientBalance {
				code = CodeInsufficientBalance
			}
		}
		v.log.Warn("Order rejected", "symbol", req.Symbol, "code", code, "message", message)
		return nil, &Error{Code: code, Venue: v.cfg.Name, Message: message}
	}

	var ack orderResponse
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, &Error{Code: CodeConnectivity, Venue: v.cfg.Name,
			Message: fmt.Sprintf("malformed response: %v", err)}
	}

	filledPrice := ack.FilledPrice
	if filledPrice <= 0 {
		filledPrice = req.RefPrice
	}
	filledQty := ack.FilledQty
	if filledQty <= 0 {
		filledQty = req.Quantity
	}

	return &OrderResult{
		OrderID:     ack.OrderID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		FilledPrice: filledPrice,
		FilledQty:   filledQty,
		VenueName:   v.cfg.Name,
		FilledAt:    time.Now().UTC(),
	}, nil
}

func (v *restVenue) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(v.secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
