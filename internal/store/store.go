// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists sealed receipts. Receipts are stored as their
// full JSON payload alongside indexed columns for lookup, and every
// load re-verifies the embedded hash so silent tampering surfaces as an
// error instead of bad data.
package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/config"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
)

// ErrNotFound is returned when no receipt exists for the requested run.
var ErrNotFound = errors.New("receipt not found")

// TamperError is returned when a stored receipt fails hash verification
// on load.
type TamperError struct {
	RunID string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("receipt for run %s failed hash verification", e.RunID)
}

// ReceiptPayload stores the full receipt document as a JSON column.
type ReceiptPayload contract.Receipt

// Scan implements the sql.Scanner interface
func (p *ReceiptPayload) Scan(value any) error {
	if value == nil {
		*p = ReceiptPayload{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.New("cannot scan ReceiptPayload from non-string/[]byte value")
	}
}

// Value implements the driver.Valuer interface
func (p ReceiptPayload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// ReceiptRecord is the GORM model for sealed receipts
type ReceiptRecord struct {
	RunID         string         `gorm:"primaryKey;type:text" json:"run_id"`
	WorkOrderID   string         `gorm:"index;not null;type:text" json:"work_order_id"`
	BackendID     string         `gorm:"index;type:text" json:"backend_id"`
	Dialect       string         `gorm:"type:text" json:"dialect"`
	Outcome       string         `gorm:"index;type:text" json:"outcome"`
	ReceiptSHA256 string         `gorm:"not null;type:text" json:"receipt_sha256"`
	Payload       ReceiptPayload `gorm:"type:jsonb" json:"payload"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// TableName overrides the GORM table name
func (ReceiptRecord) TableName() string {
	return "receipts"
}

// Store wraps the GORM database connection for receipt persistence
type Store struct {
	db *gorm.DB
}

// New creates a new receipt store connection
func New(cfg *config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.GetDSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent), // Reduce GORM log noise
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing GORM connection. Used by tests.
func NewWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate runs database migrations
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&ReceiptRecord{})
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save persists a sealed receipt. Unsealed receipts are rejected.
func (s *Store) Save(ctx context.Context, receipt contract.Receipt) error {
	if receipt.ReceiptSHA256 == nil {
		return errors.New("refusing to store unsealed receipt")
	}

	record := ReceiptRecord{
		RunID:         receipt.Meta.RunID,
		WorkOrderID:   receipt.Meta.WorkOrderID,
		BackendID:     receipt.Backend.ID,
		Dialect:       receipt.Backend.Dialect,
		Outcome:       string(receipt.Outcome),
		ReceiptSHA256: *receipt.ReceiptSHA256,
		Payload:       ReceiptPayload(receipt),
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

// Get retrieves a receipt by run ID and verifies its hash before
// returning it.
func (s *Store) Get(ctx context.Context, runID string) (*contract.Receipt, error) {
	var record ReceiptRecord
	err := s.db.WithContext(ctx).First(&record, "run_id = ?", runID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	receipt := contract.Receipt(record.Payload)
	ok, err := contract.VerifyHash(receipt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &TamperError{RunID: runID}
	}
	return &receipt, nil
}

// GetByWorkOrder retrieves all receipts for a work order, newest first.
func (s *Store) GetByWorkOrder(ctx context.Context, workOrderID string) ([]contract.Receipt, error) {
	var records []ReceiptRecord
	err := s.db.WithContext(ctx).
		Where("work_order_id = ?", workOrderID).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	receipts := make([]contract.Receipt, 0, len(records))
	for _, record := range records {
		receipts = append(receipts, contract.Receipt(record.Payload))
	}
	return receipts, nil
}

// List retrieves recent receipt records, newest first. If limit is 0,
// returns all records.
func (s *Store) List(ctx context.Context, limit int) ([]ReceiptRecord, error) {
	var records []ReceiptRecord
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// CountByOutcome aggregates stored receipts per outcome.
func (s *Store) CountByOutcome(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Outcome string
		Count   int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&ReceiptRecord{}).
		Select("outcome, COUNT(*) as count").
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64, len(rows))
	for _, r := range rows {
		totals[r.Outcome] = r.Count
	}
	return totals, nil
}
