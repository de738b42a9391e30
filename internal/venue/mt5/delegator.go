// Package mt5 talks to a MetaTrader 5 terminal bridge over its HTTP API.
// The wire format is venue-specific and stays inside this package; the rest
// of the system only sees venue.Adapter.
package mt5

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"main/internal/schema"
	"main/internal/venue"
	"main/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

const (
	_mt5BaseUrl    = "http://127.0.0.1:8228"
	_mt5BaseUrlDev = "http://127.0.0.1:18228"

	_requestTimeout = 15 * time.Second
)

// Compile-time interface check.
var _ venue.Adapter = (*Delegator)(nil)

// Config holds bridge credentials and endpoint selection.
type Config struct {
	BaseURL string
	Account string
	Secret  string
	Source  string
	Dev     bool
}

// Delegator executes venue operations against the MT5 bridge.
type Delegator struct {
	cfg    Config
	client *http.Client
}

// NewDelegator creates a delegator using the provided HTTP client.
func NewDelegator(cfg Config, client *http.Client) *Delegator {
	if cfg.BaseURL == "" {
		if cfg.Dev {
			cfg.BaseURL = _mt5BaseUrlDev
		} else {
			cfg.BaseURL = _mt5BaseUrl
		}
	}
	if cfg.Source == "" {
		cfg.Source = "oms"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Delegator{cfg: cfg, client: client}
}

func mt5Side(netDelta decimal.Decimal) string {
	if netDelta.Sign() < 0 {
		return "sell"
	}
	return "buy"
}

// Execute implements venue.Adapter with a market order for the net delta.
func (d *Delegator) Execute(ctx context.Context, instrument schema.Instrument, netDelta decimal.Decimal) (venue.Fill, error) {
	body := map[string]string{
		"account": d.cfg.Account,
		"tm":      strconv.FormatInt(time.Now().Unix(), 10),
		"symbol":  string(instrument),
		"side":    mt5Side(netDelta),
		"volume":  netDelta.Abs().String(),
		"type":    "market",
		"source":  d.cfg.Source,
	}

	var data Response[ResponseOpenPosition]
	if err := d.post(ctx, "/api/v1/position/market", body, &data); err != nil {
		return venue.Fill{}, err
	}
	if err := bridgeError(data.Error); err != nil {
		return venue.Fill{}, err
	}

	filled, err := decimal.NewFromString(data.Result.Volume)
	if err != nil {
		return venue.Fill{}, fmt.Errorf("parse fill volume %q: %w", data.Result.Volume, err)
	}
	price, err := decimal.NewFromString(data.Result.Price)
	if err != nil {
		return venue.Fill{}, fmt.Errorf("parse fill price %q: %w", data.Result.Price, err)
	}
	if netDelta.Sign() < 0 {
		filled = filled.Neg()
	}

	return venue.Fill{
		Quantity:  filled,
		Price:     price,
		Reference: strconv.FormatInt(data.Result.Ticket, 10),
	}, nil
}

// Query implements venue.Adapter.
func (d *Delegator) Query(ctx context.Context, instrument schema.Instrument) (venue.Position, error) {
	body := map[string]string{
		"account": d.cfg.Account,
		"tm":      strconv.FormatInt(time.Now().Unix(), 10),
		"symbol":  string(instrument),
	}

	var data Response[ResponsePositionInfo]
	if err := d.post(ctx, "/api/v1/position/query", body, &data); err != nil {
		return venue.Position{}, err
	}
	if err := bridgeError(data.Error); err != nil {
		return venue.Position{}, err
	}

	qty, err := decimal.NewFromString(data.Result.Volume)
	if err != nil {
		return venue.Position{}, fmt.Errorf("parse position volume %q: %w", data.Result.Volume, err)
	}
	price, err := decimal.NewFromString(data.Result.Price)
	if err != nil {
		return venue.Position{}, fmt.Errorf("parse position price %q: %w", data.Result.Price, err)
	}
	if data.Result.Side == "sell" {
		qty = qty.Neg()
	}

	return venue.Position{Quantity: qty, Price: price}, nil
}

func (d *Delegator) post(ctx context.Context, path string, body map[string]string, out any) error {
	payload, err := sonic.ConfigFastest.Marshal(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, _requestTimeout)
	defer cancel()
	r, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		d.cfg.BaseURL+path,
		bytes.NewReader(payload),
	)
	if err != nil {
		return err
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("authorization", d.sign(body))

	resp, err := d.client.Do(r)
	if err != nil {
		if venue.IsTimeout(err) {
			return exception.ErrVenueTimeout
		}
		return exception.ErrVenueConnectionLost
	}
	defer resp.Body.Close()

	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}

func (d *Delegator) sign(body map[string]string) string {
	pairs := make([]string, 0, len(body)+1)
	for k, v := range body {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
	}
	pairs = append(pairs, fmt.Sprintf("secret_key=%s", d.cfg.Secret))
	sort.Strings(pairs)
	hash := md5.Sum([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(hash[:])
}
