package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// LedgerEntry is one completed order in a customer's spending ledger. Rows are
// append-only: nothing updates or deletes them after insert.
type LedgerEntry struct {
	ID         string    `gorm:"type:char(36);primaryKey" json:"id"`
	CustomerID string    `gorm:"type:varchar(64);not null;index:idx_ledger_customer_time,priority:1" json:"customer_id" validate:"required,max=64"`
	OccurredAt time.Time `gorm:"not null;index:idx_ledger_customer_time,priority:2" json:"occurred_at" validate:"required"`
	Amount     int64     `gorm:"not null" json:"amount" validate:"gte=0"`
	FoodAmount int64     `gorm:"not null;default:0" json:"food_amount" validate:"gte=0,ltefield=Amount"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "loyalty_ledger_entries"
}

func (e *LedgerEntry) Validate() error {
	v := validator.New()

	return v.Struct(e)
}

// NewLedgerEntry creates a validated ledger entry with a fresh ID.
func NewLedgerEntry(customerID string, amount, foodAmount int64, occurredAt time.Time) (*LedgerEntry, error) {
	e := &LedgerEntry{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		OccurredAt: occurredAt,
		Amount:     amount,
		FoodAmount: foodAmount,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}
