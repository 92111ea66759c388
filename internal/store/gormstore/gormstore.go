package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/peershare/booking/pkg/booking"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectBalance   = "balance"
	errorSubjectEntry     = "entry"
	errorSubjectItem      = "item"
	errorSubjectHold      = "hold"
	errorSubjectRental    = "rental"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeCount        = "count"
	errorCodeDelete       = "delete"
	errorCodeSum          = "sum"
	errorCodeUpdate       = "update"
)

// Store implements booking.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema for all booking tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &Item{}, &Rental{}, &LedgerEntry{}, &ItemHold{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateAccount(ctx context.Context, account booking.Account) error {
	model := Account{
		AccountID:    account.AccountID,
		DisplayName:  account.DisplayName,
		BalanceCents: account.BalanceCents.Int64(),
		CreatedAt:    time.Unix(account.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, booking.ErrAccountExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, accountID string) (booking.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, booking.ErrNotFound)
		}
		return booking.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return booking.Account{
		AccountID:      model.AccountID,
		DisplayName:    model.DisplayName,
		BalanceCents:   booking.AmountCents(model.BalanceCents),
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func (store *Store) AddToBalance(ctx context.Context, accountID string, delta booking.AmountCents) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID).
		UpdateColumn("balance_cents", gorm.Expr("balance_cents + ?", delta.Int64()))
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, booking.ErrNotFound)
	}
	return nil
}

func (store *Store) SetBalance(ctx context.Context, accountID string, balance booking.AmountCents) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID).
		UpdateColumn("balance_cents", balance.Int64())
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, booking.ErrNotFound)
	}
	return nil
}

func (store *Store) SumEntries(ctx context.Context, accountID string) (booking.AmountCents, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(amount_cents),0) as total").
		Where("account_id = ?", accountID).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return booking.AmountCents(sum.Total), nil
}

func (store *Store) InsertEntry(ctx context.Context, entry booking.Entry) error {
	var rentalID *string
	if entry.RentalID != "" {
		value := entry.RentalID
		rentalID = &value
	}
	model := LedgerEntry{
		EntryID:     entry.EntryID,
		AccountID:   entry.AccountID,
		Kind:        entry.Kind.String(),
		AmountCents: entry.AmountCents.Int64(),
		RentalID:    rentalID,
		GroupID:     entry.GroupID,
		Metadata:    datatypesJSON(entry.MetadataJSON),
		CreatedAt:   time.Unix(entry.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListEntries(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]booking.Entry, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID, before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows)
}

func (store *Store) ListEntriesByRental(ctx context.Context, rentalID string) ([]booking.Entry, error) {
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("rental_id = ?", rentalID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows)
}

func (store *Store) CreateItem(ctx context.Context, item booking.Item) error {
	model := Item{
		ItemID:           item.ItemID,
		OwnerAccountID:   item.OwnerAccountID,
		Title:            item.Title,
		Category:         item.Category.String(),
		PricePerDayCents: item.PricePerDayCents.Int64(),
		CreatedAt:        time.Unix(item.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectItem, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetItem(ctx context.Context, itemID string) (booking.Item, error) {
	var model Item
	err := store.db.WithContext(ctx).Where("item_id = ?", itemID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Item{}, wrapStoreError(errorSubjectItem, errorCodeGet, booking.ErrNotFound)
		}
		return booking.Item{}, wrapStoreError(errorSubjectItem, errorCodeGet, err)
	}
	return mapItem(model)
}

func (store *Store) ListItemsByOwner(ctx context.Context, ownerAccountID string) ([]booking.Item, error) {
	var rows []Item
	err := store.db.WithContext(ctx).
		Where("owner_account_id = ?", ownerAccountID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectItem, errorCodeList, err)
	}
	items := make([]booking.Item, 0, len(rows))
	for _, row := range rows {
		item, err := mapItem(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectItem, errorCodeInvalid, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (store *Store) CountOverlappingHolds(ctx context.Context, itemID string, dateRange booking.DateRange) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&ItemHold{}).
		Where("item_id = ? AND start_date < ? AND end_date > ?", itemID, dateRange.End().Time(), dateRange.Start().Time()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectHold, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) CreateHold(ctx context.Context, hold booking.Hold) error {
	model := ItemHold{
		ItemID:    hold.ItemID,
		RentalID:  hold.RentalID,
		StartDate: hold.Start.Time(),
		EndDate:   hold.End.Time(),
		CreatedAt: time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectHold, errorCodeDuplicate, booking.ErrConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectHold, errorCodeCreate, err)
	}
	return nil
}

// DeleteHold is idempotent: deleting an absent hold is a no-op.
func (store *Store) DeleteHold(ctx context.Context, itemID string, rentalID string) error {
	err := store.db.WithContext(ctx).
		Where("item_id = ? AND rental_id = ?", itemID, rentalID).
		Delete(&ItemHold{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectHold, errorCodeDelete, err)
	}
	return nil
}

func (store *Store) CreateRental(ctx context.Context, rental booking.Rental) error {
	model := Rental{
		RentalID:        rental.RentalID,
		ItemID:          rental.ItemID,
		RenterAccountID: rental.RenterAccountID,
		OwnerAccountID:  rental.OwnerAccountID,
		StartDate:       rental.Start.Time(),
		EndDate:         rental.End.Time(),
		TotalPriceCents: rental.TotalPriceCents.Int64(),
		Status:          rental.Status.String(),
		CreatedAt:       time.Unix(rental.CreatedUnixUTC, 0).UTC(),
		TransitionedAt:  time.Unix(rental.TransitionedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectRental, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetRental(ctx context.Context, rentalID string) (booking.Rental, error) {
	var model Rental
	err := store.db.WithContext(ctx).Where("rental_id = ?", rentalID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Rental{}, wrapStoreError(errorSubjectRental, errorCodeGet, booking.ErrNotFound)
		}
		return booking.Rental{}, wrapStoreError(errorSubjectRental, errorCodeGet, err)
	}
	return mapRental(model)
}

// UpdateRentalStatus is a compare-and-set: it only applies when the stored
// status still equals from.
func (store *Store) UpdateRentalStatus(ctx context.Context, rentalID string, from booking.RentalStatus, to booking.RentalStatus, transitionedUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Rental{}).
		Where("rental_id = ? AND status = ?", rentalID, from.String()).
		Updates(map[string]interface{}{
			"status":          to.String(),
			"transitioned_at": time.Unix(transitionedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectRental, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRental, errorCodeUpdate, booking.ErrInvalidTransition)
	}
	return nil
}

func (store *Store) ListRentalsByRenter(ctx context.Context, renterAccountID string) ([]booking.Rental, error) {
	return store.listRentals(ctx, "renter_account_id = ?", renterAccountID)
}

func (store *Store) ListRentalsByOwner(ctx context.Context, ownerAccountID string) ([]booking.Rental, error) {
	return store.listRentals(ctx, "owner_account_id = ?", ownerAccountID)
}

func (store *Store) ListPendingStartingBy(ctx context.Context, day booking.Date) ([]booking.Rental, error) {
	return store.listRentals(ctx, "status = ? AND start_date <= ?", booking.StatusPending.String(), day.Time())
}

func (store *Store) ListActiveEndingBy(ctx context.Context, day booking.Date) ([]booking.Rental, error) {
	return store.listRentals(ctx, "status = ? AND end_date <= ?", booking.StatusActive.String(), day.Time())
}

func (store *Store) listRentals(ctx context.Context, query string, args ...interface{}) ([]booking.Rental, error) {
	var rows []Rental
	err := store.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRental, errorCodeList, err)
	}
	rentals := make([]booking.Rental, 0, len(rows))
	for _, row := range rows {
		rental, err := mapRental(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRental, errorCodeInvalid, err)
		}
		rentals = append(rentals, rental)
	}
	return rentals, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapItem(row Item) (booking.Item, error) {
	category, err := booking.ParseCategory(row.Category)
	if err != nil {
		return booking.Item{}, err
	}
	price, err := booking.NewPositiveAmountCents(row.PricePerDayCents)
	if err != nil {
		return booking.Item{}, err
	}
	return booking.Item{
		ItemID:           row.ItemID,
		OwnerAccountID:   row.OwnerAccountID,
		Title:            row.Title,
		Category:         category,
		PricePerDayCents: price,
		CreatedUnixUTC:   row.CreatedAt.Unix(),
	}, nil
}

func mapRental(row Rental) (booking.Rental, error) {
	status, err := booking.ParseRentalStatus(row.Status)
	if err != nil {
		return booking.Rental{}, err
	}
	return booking.Rental{
		RentalID:            row.RentalID,
		ItemID:              row.ItemID,
		RenterAccountID:     row.RenterAccountID,
		OwnerAccountID:      row.OwnerAccountID,
		Start:               booking.DateOf(row.StartDate),
		End:                 booking.DateOf(row.EndDate),
		TotalPriceCents:     booking.AmountCents(row.TotalPriceCents),
		Status:              status,
		CreatedUnixUTC:      row.CreatedAt.Unix(),
		TransitionedUnixUTC: row.TransitionedAt.Unix(),
	}, nil
}

func mapLedgerEntries(rows []LedgerEntry) ([]booking.Entry, error) {
	entries := make([]booking.Entry, 0, len(rows))
	for _, row := range rows {
		kind, err := booking.ParseEntryKind(row.Kind)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		rentalID := ""
		if row.RentalID != nil {
			rentalID = *row.RentalID
		}
		entries = append(entries, booking.Entry{
			EntryID:        row.EntryID,
			AccountID:      row.AccountID,
			Kind:           kind,
			AmountCents:    booking.AmountCents(row.AmountCents),
			RentalID:       rentalID,
			GroupID:        row.GroupID,
			MetadataJSON:   string(row.Metadata),
			CreatedUnixUTC: row.CreatedAt.Unix(),
		})
	}
	return entries, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
