package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. BalanceCents is the cached fold of
// the account's ledger entries.
type Account struct {
	AccountID    string    `gorm:"type:uuid;primaryKey"`
	DisplayName  string    `gorm:"not null"`
	BalanceCents int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// Item mirrors the items table.
type Item struct {
	ItemID           string    `gorm:"type:uuid;primaryKey"`
	OwnerAccountID   string    `gorm:"type:uuid;not null;index:idx_items_owner"`
	Title            string    `gorm:"not null"`
	Category         string    `gorm:"not null"`
	PricePerDayCents int64     `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (Item) TableName() string { return "items" }

func (item *Item) BeforeCreate(tx *gorm.DB) error {
	if item.ItemID == "" {
		item.ItemID = uuid.NewString()
	}
	return nil
}

// Rental mirrors the rentals table.
type Rental struct {
	RentalID        string    `gorm:"type:uuid;primaryKey"`
	ItemID          string    `gorm:"type:uuid;not null;index:idx_rentals_item_status,priority:1"`
	RenterAccountID string    `gorm:"type:uuid;not null;index:idx_rentals_renter"`
	OwnerAccountID  string    `gorm:"type:uuid;not null;index:idx_rentals_owner"`
	StartDate       time.Time `gorm:"not null"`
	EndDate         time.Time `gorm:"not null"`
	TotalPriceCents int64     `gorm:"not null"`
	Status          string    `gorm:"not null;index:idx_rentals_item_status,priority:2"`
	CreatedAt       time.Time `gorm:"not null"`
	TransitionedAt  time.Time `gorm:"not null"`
}

func (Rental) TableName() string { return "rentals" }

func (rental *Rental) BeforeCreate(tx *gorm.DB) error {
	if rental.RentalID == "" {
		rental.RentalID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the append-only ledger_entries table.
type LedgerEntry struct {
	EntryID     string         `gorm:"type:uuid;primaryKey"`
	AccountID   string         `gorm:"type:uuid;not null;index:idx_ledger_account_created,priority:1"`
	Kind        string         `gorm:"not null"`
	AmountCents int64          `gorm:"not null"`
	RentalID    *string        `gorm:"index:idx_ledger_rental"`
	GroupID     string         `gorm:"type:uuid;not null;index:idx_ledger_group"`
	Metadata    datatypes.JSON `gorm:"not null"`
	CreatedAt   time.Time      `gorm:"not null;index:idx_ledger_account_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// ItemHold mirrors the item_holds table: one row per non-terminal rental,
// the index of record for overlap queries.
type ItemHold struct {
	ItemID    string    `gorm:"type:uuid;primaryKey"`
	RentalID  string    `gorm:"type:uuid;primaryKey"`
	StartDate time.Time `gorm:"not null"`
	EndDate   time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (ItemHold) TableName() string { return "item_holds" }
