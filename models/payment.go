package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PaymentInitialized = "initialized"
	PaymentCaptured    = "captured"
)

// Payment is the current state of a money movement. It is created in
// "initialized" state (funds held) and becomes "captured" on settlement.
type Payment struct {
	ID         string     `json:"id" gorm:"primaryKey"`
	AccountID  string     `json:"account_id" gorm:"size:64;not null;index"`
	Amount     float64    `json:"amount" gorm:"type:numeric(12,2)"`
	Currency   string     `json:"currency" gorm:"size:3;not null"`
	Reference  string     `json:"reference" gorm:"size:140"`
	Status     string     `json:"status" gorm:"size:16;not null;index"`
	CreatedAt  time.Time  `json:"created_at"`
	CapturedAt *time.Time `json:"captured_at"`

	Entries []LedgerEntry `json:"entries,omitempty" gorm:"foreignKey:PaymentID;constraint:OnDelete:RESTRICT"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return
}

// LedgerEntry is one leg of a double-entry posting. Every mutation of a
// payment writes a balanced debit/credit pair in the same transaction.
type LedgerEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	PaymentID string    `json:"payment_id" gorm:"size:64;not null;index:idx_ledger_payment_created,priority:1"`
	Account   string    `json:"account" gorm:"size:80;not null"`
	Direction string    `json:"direction" gorm:"size:6;not null"` // debit | credit
	Amount    float64   `json:"amount" gorm:"type:numeric(12,2)"`
	Memo      string    `json:"memo" gorm:"size:140"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_ledger_payment_created,priority:2"`
}
