// Package org holds the organization chart: funds, portfolio managers and
// their assignments, with each fund's capital limits and commission
// schedule. It is read-mostly reference data; the engine never writes to
// it during signal processing.
package org

import (
	"time"

	"main/internal/accountant"
	"main/internal/risk"

	"github.com/shopspring/decimal"
)

// Fund is a pool of capital with its own constraints.
type Fund struct {
	ID             string          `gorm:"primaryKey" json:"id"`
	Name           string          `gorm:"index" json:"name"`
	Currency       string          `json:"currency"`
	LiquidityClass string          `json:"liquidityClass"`
	Objective      string          `json:"objective"`
	MaxExposure    decimal.Decimal `gorm:"type:numeric" json:"maxExposure"`
	ScoreThreshold float64         `json:"scoreThreshold"`

	Commission accountant.Schedule `gorm:"serializer:json" json:"commission"`

	Managers []PortfolioManager `gorm:"many2many:fund_managers" json:"managers,omitempty"`

	Active    bool      `gorm:"default:true" json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Limits projects the fund's risk constraints for the risk gate.
func (f Fund) Limits() risk.Limits {
	return risk.Limits{
		MaxExposure:    f.MaxExposure,
		ScoreThreshold: f.ScoreThreshold,
	}
}

// PortfolioManager acts on behalf of one or more funds. The assignment set
// is a data-model fact; authorization decisions live upstream.
type PortfolioManager struct {
	ID    string `gorm:"primaryKey" json:"id"`
	Name  string `gorm:"index" json:"name"`
	Email string `gorm:"uniqueIndex" json:"email"`

	Funds []Fund `gorm:"many2many:fund_managers" json:"funds,omitempty"`

	Active    bool      `gorm:"default:true" json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
