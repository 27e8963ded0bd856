// Package indexer keeps a queryable SQL history of committed market events.
package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"slotmarket/core/types"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

var errNilDB = errors.New("indexer: database not configured")

// Query filters the event history. Zero values match everything.
type Query struct {
	TokenID       *uint64
	Type          string
	AfterSequence uint64
	Limit         int
}

// Indexer records committed events into SQLite or PostgreSQL.
type Indexer struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to dsn and migrates the schema. DSNs starting with
// postgres:// or postgresql:// use PostgreSQL; anything else is a SQLite
// path or URI.
func Open(dsn string) (*Indexer, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("indexer: dsn required")
	}
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Indexer, error) {
	if db == nil {
		return nil, errNilDB
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Indexer{db: db, now: time.Now}, nil
}

// Record stores the batch in one transaction. Sequences already present are
// skipped so a replayed batch is harmless.
func (i *Indexer) Record(ctx context.Context, records []types.EventRecord) error {
	if i == nil || i.db == nil {
		return errNilDB
	}
	if len(records) == 0 {
		return nil
	}
	now := i.now()
	rows := make([]EventRow, 0, len(records))
	for _, record := range records {
		row, err := rowFromRecord(record, now)
		if err != nil {
			return fmt.Errorf("indexer: encode event %d: %w", record.Sequence, err)
		}
		rows = append(rows, row)
	}
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sequence"}},
			DoNothing: true,
		}).Create(&rows).Error
	})
}

// List returns events matching q in sequence order.
func (i *Indexer) List(ctx context.Context, q Query) ([]types.EventRecord, error) {
	if i == nil || i.db == nil {
		return nil, errNilDB
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	stmt := i.db.WithContext(ctx).Model(&EventRow{}).Where("sequence > ?", q.AfterSequence)
	if q.TokenID != nil {
		stmt = stmt.Where("token_id = ?", *q.TokenID)
	}
	if t := strings.TrimSpace(q.Type); t != "" {
		stmt = stmt.Where("type = ?", t)
	}
	var rows []EventRow
	if err := stmt.Order("sequence ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.EventRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.record()
		if err != nil {
			return nil, fmt.Errorf("indexer: decode event %d: %w", row.Sequence, err)
		}
		out = append(out, record)
	}
	return out, nil
}

// LastSequence returns the highest indexed sequence, or zero.
func (i *Indexer) LastSequence(ctx context.Context) (uint64, error) {
	if i == nil || i.db == nil {
		return 0, errNilDB
	}
	var last sql.NullInt64
	if err := i.db.WithContext(ctx).Model(&EventRow{}).Select("MAX(sequence)").Scan(&last).Error; err != nil {
		return 0, err
	}
	if !last.Valid || last.Int64 < 0 {
		return 0, nil
	}
	return uint64(last.Int64), nil
}

func (i *Indexer) Close() error {
	if i == nil || i.db == nil {
		return nil
	}
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
