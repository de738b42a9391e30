package org

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Repository reads the organization chart from the relational store.
type Repository struct {
	db *gorm.DB
}

// NewRepository wraps a gorm connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the organization tables.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&Fund{}, &PortfolioManager{})
}

// Funds returns all active funds with their manager assignments.
func (r *Repository) Funds(ctx context.Context) ([]Fund, error) {
	var funds []Fund
	if err := r.db.WithContext(ctx).Preload("Managers").Where("active = ?", true).Find(&funds).Error; err != nil {
		return nil, fmt.Errorf("failed to load funds: %w", err)
	}
	return funds, nil
}

// Fund returns a single fund by id.
func (r *Repository) Fund(ctx context.Context, id string) (*Fund, error) {
	var fund Fund
	if err := r.db.WithContext(ctx).Preload("Managers").First(&fund, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("fund not found: %s", id)
		}
		return nil, fmt.Errorf("failed to load fund: %w", err)
	}
	return &fund, nil
}

// SaveFund upserts a fund and its manager assignments. Used by seeding and
// administrative tooling, never by the signal path.
func (r *Repository) SaveFund(ctx context.Context, fund *Fund) error {
	if fund == nil {
		return fmt.Errorf("fund is nil")
	}
	if err := r.db.WithContext(ctx).Save(fund).Error; err != nil {
		return fmt.Errorf("failed to save fund: %w", err)
	}
	return nil
}

// SaveManager upserts a portfolio manager.
func (r *Repository) SaveManager(ctx context.Context, manager *PortfolioManager) error {
	if manager == nil {
		return fmt.Errorf("manager is nil")
	}
	if err := r.db.WithContext(ctx).Save(manager).Error; err != nil {
		return fmt.Errorf("failed to save manager: %w", err)
	}
	return nil
}

// Directory loads the full organization chart into an immutable in-memory
// view for the signal path.
func (r *Repository) Directory(ctx context.Context) (*Directory, error) {
	funds, err := r.Funds(ctx)
	if err != nil {
		return nil, err
	}
	return NewDirectory(funds), nil
}
