package indexer

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"slotmarket/core/types"
)

// EventRow is the persisted form of a committed market event.
type EventRow struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"index;not null"`
	TokenID    *uint64   `gorm:"index"`
	Attributes string    `gorm:"type:text;not null"`
	Timestamp  int64     `gorm:"index;not null"`
	IndexedAt  time.Time `gorm:"not null"`
}

func (EventRow) TableName() string { return "market_events" }

// BeforeCreate assigns the row identifier.
func (r *EventRow) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// AutoMigrate creates or updates the index schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRow{})
}

func rowFromRecord(record types.EventRecord, indexedAt time.Time) (EventRow, error) {
	attrs := record.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return EventRow{}, err
	}
	row := EventRow{
		Sequence:   record.Sequence,
		Type:       record.Type,
		Attributes: string(encoded),
		Timestamp:  record.Timestamp,
		IndexedAt:  indexedAt.UTC(),
	}
	if raw, ok := attrs["tokenId"]; ok {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			row.TokenID = &id
		}
	}
	return row, nil
}

func (r EventRow) record() (types.EventRecord, error) {
	attrs := make(map[string]string)
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return types.EventRecord{}, err
		}
	}
	return types.EventRecord{
		Sequence:   r.Sequence,
		Type:       r.Type,
		Attributes: attrs,
		Timestamp:  r.Timestamp,
	}, nil
}
