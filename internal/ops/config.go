package ops

import (
	"encoding/json"
	"fmt"
	"os"

	"main/internal/accountant"
	"main/internal/risk"
	"main/internal/schema"

	"github.com/shopspring/decimal"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Instruments []InstrumentConfig `json:"instruments"`
	Venue       VenueConfig        `json:"venue"`
	Journal     JournalConfig      `json:"journal"`
	Postgres    PostgresConfig     `json:"postgres"`
	Risk        risk.Config        `json:"risk"`
	Intake      IntakeConfig       `json:"intake"`
	Funds       []FundConfig       `json:"funds"`
}

// InstrumentConfig declares a known tradable symbol.
type InstrumentConfig struct {
	Symbol   string `json:"symbol"`
	Currency string `json:"currency"`
	// SimPrice seeds the simulated venue's quote for this symbol. Ignored
	// in mt5 mode.
	SimPrice decimal.Decimal `json:"simPrice"`
}

// VenueConfig selects and configures the execution venue.
type VenueConfig struct {
	// Mode is "mt5" or "sim".
	Mode    string `json:"mode"`
	BaseURL string `json:"baseUrl"`
	Account string `json:"account"`
	Secret  string `json:"secret"`
	Dev     bool   `json:"dev"`
}

// JournalConfig configures the trade record store.
type JournalConfig struct {
	Dir string `json:"dir"`
	// SnapshotEvery writes a ledger snapshot after this many committed
	// trade records. Zero disables periodic snapshots.
	SnapshotEvery int `json:"snapshotEvery"`
}

// PostgresConfig configures the organization store connection.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
	// Disabled skips the relational store entirely; funds come from the
	// config file instead (paper trading).
	Disabled bool `json:"disabled"`
}

// IntakeConfig bounds the signal intake queue.
type IntakeConfig struct {
	QueueCapacity int `json:"queueCapacity"`
}

// FundConfig seeds a fund when the relational store is disabled.
type FundConfig struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Currency       string              `json:"currency"`
	LiquidityClass string              `json:"liquidityClass"`
	Objective      string              `json:"objective"`
	MaxExposure    decimal.Decimal     `json:"maxExposure"`
	ScoreThreshold float64             `json:"scoreThreshold"`
	Commission     accountant.Schedule `json:"commission"`
	Managers       []string            `json:"managers"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Instruments map[schema.Instrument]string // symbol -> currency
	SimPrices   map[schema.Instrument]decimal.Decimal
	Venue       VenueConfig
	Journal     JournalConfig
	Postgres    PostgresConfig
	Risk        risk.Config
	Intake      IntakeConfig
	Funds       []FundConfig
}

// Load reads and resolves a JSON config file. An empty path yields
// defaults.
func Load(path string) (Loaded, error) {
	cfg := FileConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, fmt.Errorf("parse config: %w", err)
		}
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	loaded := Loaded{
		Instruments: make(map[schema.Instrument]string, len(cfg.Instruments)),
		SimPrices:   make(map[schema.Instrument]decimal.Decimal),
		Venue:       cfg.Venue,
		Journal:     cfg.Journal,
		Postgres:    cfg.Postgres,
		Risk:        cfg.Risk,
		Intake:      cfg.Intake,
		Funds:       cfg.Funds,
	}

	for _, instrument := range cfg.Instruments {
		if instrument.Symbol == "" {
			return Loaded{}, fmt.Errorf("instrument with empty symbol")
		}
		currency := instrument.Currency
		if currency == "" {
			currency = "USD"
		}
		loaded.Instruments[schema.Instrument(instrument.Symbol)] = currency
		if !instrument.SimPrice.IsZero() {
			loaded.SimPrices[schema.Instrument(instrument.Symbol)] = instrument.SimPrice
		}
	}

	if loaded.Venue.Mode == "" {
		loaded.Venue.Mode = "sim"
	}
	if loaded.Venue.Mode != "sim" && loaded.Venue.Mode != "mt5" {
		return Loaded{}, fmt.Errorf("unknown venue mode: %s", loaded.Venue.Mode)
	}
	if loaded.Journal.Dir == "" {
		loaded.Journal.Dir = "testdata/journal"
	}
	if loaded.Journal.SnapshotEvery < 0 {
		return Loaded{}, fmt.Errorf("snapshotEvery must be >= 0")
	}
	if loaded.Intake.QueueCapacity <= 0 {
		loaded.Intake.QueueCapacity = 1024
	}

	seen := make(map[string]struct{}, len(loaded.Funds))
	for _, fund := range loaded.Funds {
		if fund.ID == "" {
			return Loaded{}, fmt.Errorf("fund with empty id")
		}
		if _, dup := seen[fund.ID]; dup {
			return Loaded{}, fmt.Errorf("duplicate fund id: %s", fund.ID)
		}
		seen[fund.ID] = struct{}{}
	}

	return loaded, nil
}
