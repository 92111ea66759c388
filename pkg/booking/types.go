package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AmountCents is an integer currency amount in minor units. Entries carry
// signed amounts: positive credits, negative debits.
type AmountCents int64

// Int64 returns the raw amount.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// Negated returns the amount with the opposite sign.
func (amount AmountCents) Negated() AmountCents {
	return -amount
}

// PositiveAmountCents is a strictly positive amount (prices, deposits).
type PositiveAmountCents int64

// NewPositiveAmountCents validates an amount and ensures it is strictly positive.
func NewPositiveAmountCents(raw int64) (PositiveAmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return PositiveAmountCents(raw), nil
}

// Int64 returns the raw amount.
func (amount PositiveAmountCents) Int64() int64 {
	return int64(amount)
}

// ToAmountCents converts to a signed amount.
func (amount PositiveAmountCents) ToAmountCents() AmountCents {
	return AmountCents(amount)
}

// AccountID identifies a wallet.
type AccountID struct {
	value string
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// ItemID identifies a rentable item.
type ItemID struct {
	value string
}

// NewItemID validates and normalizes an item id.
func NewItemID(raw string) (ItemID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ItemID{}, fmt.Errorf("%w: empty value", ErrInvalidItemID)
	}
	return ItemID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ItemID) String() string {
	return id.value
}

// RentalID identifies a rental.
type RentalID struct {
	value string
}

// NewRentalID validates and normalizes a rental id.
func NewRentalID(raw string) (RentalID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RentalID{}, fmt.Errorf("%w: empty value", ErrInvalidRentalID)
	}
	return RentalID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id RentalID) String() string {
	return id.value
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates a metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// RentalStatus defines the rental lifecycle.
type RentalStatus string

const (
	StatusPending   RentalStatus = "pending"
	StatusActive    RentalStatus = "active"
	StatusCompleted RentalStatus = "completed"
	StatusCancelled RentalStatus = "cancelled"
)

// ParseRentalStatus validates a stored status value.
func ParseRentalStatus(raw string) (RentalStatus, error) {
	switch RentalStatus(raw) {
	case StatusPending, StatusActive, StatusCompleted, StatusCancelled:
		return RentalStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// String returns the stored representation.
func (status RentalStatus) String() string {
	return string(status)
}

// IsTerminal reports whether the status admits no further transitions.
func (status RentalStatus) IsTerminal() bool {
	return status == StatusCompleted || status == StatusCancelled
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	KindDeposit      EntryKind = "deposit"
	KindWithdrawal   EntryKind = "withdrawal"
	KindRentalDebit  EntryKind = "rental_debit"
	KindRentalCredit EntryKind = "rental_credit"
	KindRefund       EntryKind = "refund"
)

// ParseEntryKind validates a stored entry kind.
func ParseEntryKind(raw string) (EntryKind, error) {
	switch EntryKind(raw) {
	case KindDeposit, KindWithdrawal, KindRentalDebit, KindRentalCredit, KindRefund:
		return EntryKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
}

// String returns the stored representation.
func (kind EntryKind) String() string {
	return string(kind)
}

// Category classifies rentable items.
type Category string

const (
	CategoryClothes       Category = "clothes"
	CategoryVehicles      Category = "vehicles"
	CategoryInstruments   Category = "instruments"
	CategoryTools         Category = "tools"
	CategoryFurniture     Category = "furniture"
	CategoryElectronics   Category = "electronics"
	CategoryMiscellaneous Category = "miscellaneous"
)

// ParseCategory validates an item category.
func ParseCategory(raw string) (Category, error) {
	switch Category(raw) {
	case CategoryClothes, CategoryVehicles, CategoryInstruments, CategoryTools,
		CategoryFurniture, CategoryElectronics, CategoryMiscellaneous:
		return Category(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
}

// String returns the stored representation.
func (category Category) String() string {
	return string(category)
}

// Account is a wallet with a cached derived balance.
type Account struct {
	AccountID      string
	DisplayName    string
	BalanceCents   AmountCents
	CreatedUnixUTC int64
}

// Item is a rentable listing. Availability is derived from holds, never
// stored on the item.
type Item struct {
	ItemID           string
	OwnerAccountID   string
	Title            string
	Category         Category
	PricePerDayCents PositiveAmountCents
	CreatedUnixUTC   int64
}

// Rental is a booking of an item over [Start, End). The total price is fixed
// at creation; the status moves only through Transition.
type Rental struct {
	RentalID            string
	ItemID              string
	RenterAccountID     string
	OwnerAccountID      string
	Start               Date
	End                 Date
	TotalPriceCents     AmountCents
	Status              RentalStatus
	CreatedUnixUTC      int64
	TransitionedUnixUTC int64
}

// Range returns the rental's booked interval.
func (rental Rental) Range() DateRange {
	return DateRange{start: rental.Start, end: rental.End}
}

// Entry is a single immutable line in the ledger. Entries that were committed
// together share a GroupID.
type Entry struct {
	EntryID        string
	AccountID      string
	Kind           EntryKind
	AmountCents    AmountCents
	RentalID       string
	GroupID        string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// EntryDraft is an entry awaiting group commit.
type EntryDraft struct {
	AccountID    string
	Kind         EntryKind
	AmountCents  AmountCents
	RentalID     string
	MetadataJSON string
}

// Hold is one availability-index row: a date range held by a non-terminal
// rental.
type Hold struct {
	ItemID   string
	RentalID string
	Start    Date
	End      Date
}

// Store is the persistence contract used by Service. All mutations issued
// inside one WithTx callback become visible together or not at all.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, accountID string) (Account, error)
	AddToBalance(ctx context.Context, accountID string, delta AmountCents) error
	SetBalance(ctx context.Context, accountID string, balance AmountCents) error
	SumEntries(ctx context.Context, accountID string) (AmountCents, error)

	InsertEntry(ctx context.Context, entry Entry) error
	ListEntries(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]Entry, error)
	ListEntriesByRental(ctx context.Context, rentalID string) ([]Entry, error)

	CreateItem(ctx context.Context, item Item) error
	GetItem(ctx context.Context, itemID string) (Item, error)
	ListItemsByOwner(ctx context.Context, ownerAccountID string) ([]Item, error)

	CountOverlappingHolds(ctx context.Context, itemID string, dateRange DateRange) (int64, error)
	CreateHold(ctx context.Context, hold Hold) error
	DeleteHold(ctx context.Context, itemID string, rentalID string) error

	CreateRental(ctx context.Context, rental Rental) error
	GetRental(ctx context.Context, rentalID string) (Rental, error)
	UpdateRentalStatus(ctx context.Context, rentalID string, from RentalStatus, to RentalStatus, transitionedUnixUTC int64) error
	ListRentalsByRenter(ctx context.Context, renterAccountID string) ([]Rental, error)
	ListRentalsByOwner(ctx context.Context, ownerAccountID string) ([]Rental, error)
	ListPendingStartingBy(ctx context.Context, day Date) ([]Rental, error)
	ListActiveEndingBy(ctx context.Context, day Date) ([]Rental, error)
}
