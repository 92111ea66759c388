package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/peershare/booking/pkg/booking"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/booking.db"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return New(db)
}

func testDate(t *testing.T, day int) booking.Date {
	t.Helper()
	date, err := booking.NewDate(2024, time.January, day)
	require.NoError(t, err)
	return date
}

func testRange(t *testing.T, startDay int, endDay int) booking.DateRange {
	t.Helper()
	dateRange, err := booking.NewDateRange(testDate(t, startDay), testDate(t, endDay))
	require.NoError(t, err)
	return dateRange
}

func TestAccountRoundtripAndDuplicate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	account := booking.Account{
		AccountID:      "11111111-1111-1111-1111-111111111111",
		DisplayName:    "Renter",
		BalanceCents:   0,
		CreatedUnixUTC: 1700000000,
	}
	require.NoError(t, store.CreateAccount(ctx, account))
	require.ErrorIs(t, store.CreateAccount(ctx, account), booking.ErrAccountExists)

	loaded, err := store.GetAccount(ctx, account.AccountID)
	require.NoError(t, err)
	require.Equal(t, account.DisplayName, loaded.DisplayName)
	require.EqualValues(t, 0, loaded.BalanceCents)

	_, err = store.GetAccount(ctx, "22222222-2222-2222-2222-222222222222")
	require.ErrorIs(t, err, booking.ErrNotFound)
}

func TestBalanceUpdates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	account := booking.Account{AccountID: "11111111-1111-1111-1111-111111111111", DisplayName: "Wallet", CreatedUnixUTC: 1700000000}
	require.NoError(t, store.CreateAccount(ctx, account))

	require.NoError(t, store.AddToBalance(ctx, account.AccountID, 5000))
	require.NoError(t, store.AddToBalance(ctx, account.AccountID, -1500))
	loaded, err := store.GetAccount(ctx, account.AccountID)
	require.NoError(t, err)
	require.EqualValues(t, 3500, loaded.BalanceCents)

	require.NoError(t, store.SetBalance(ctx, account.AccountID, 42))
	loaded, err = store.GetAccount(ctx, account.AccountID)
	require.NoError(t, err)
	require.EqualValues(t, 42, loaded.BalanceCents)

	require.ErrorIs(t, store.AddToBalance(ctx, "33333333-3333-3333-3333-333333333333", 100), booking.ErrNotFound)
}

func TestEntriesSumAndListing(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	accountID := "11111111-1111-1111-1111-111111111111"

	deposits := []struct {
		entryID string
		amount  int64
		at      int64
	}{
		{entryID: "aaaaaaaa-0000-0000-0000-000000000001", amount: 5000, at: 1700000000},
		{entryID: "aaaaaaaa-0000-0000-0000-000000000002", amount: -2000, at: 1700000100},
		{entryID: "aaaaaaaa-0000-0000-0000-000000000003", amount: 300, at: 1700000200},
	}
	for _, deposit := range deposits {
		kind := booking.KindDeposit
		if deposit.amount < 0 {
			kind = booking.KindWithdrawal
		}
		require.NoError(t, store.InsertEntry(ctx, booking.Entry{
			EntryID:        deposit.entryID,
			AccountID:      accountID,
			Kind:           kind,
			AmountCents:    booking.AmountCents(deposit.amount),
			GroupID:        "bbbbbbbb-0000-0000-0000-000000000001",
			MetadataJSON:   `{"source":"test"}`,
			CreatedUnixUTC: deposit.at,
		}))
	}

	sum, err := store.SumEntries(ctx, accountID)
	require.NoError(t, err)
	require.EqualValues(t, 3300, sum)

	listed, err := store.ListEntries(ctx, accountID, 0, 10)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	require.Equal(t, "aaaaaaaa-0000-0000-0000-000000000003", listed[0].EntryID)

	listed, err = store.ListEntries(ctx, accountID, 1700000150, 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	sum, err = store.SumEntries(ctx, "44444444-4444-4444-4444-444444444444")
	require.NoError(t, err)
	require.EqualValues(t, 0, sum)
}

func TestEntriesByRental(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	rentalID := "cccccccc-0000-0000-0000-000000000001"

	require.NoError(t, store.InsertEntry(ctx, booking.Entry{
		EntryID:        "aaaaaaaa-0000-0000-0000-000000000001",
		AccountID:      "11111111-1111-1111-1111-111111111111",
		Kind:           booking.KindRentalDebit,
		AmountCents:    -3000,
		RentalID:       rentalID,
		GroupID:        "bbbbbbbb-0000-0000-0000-000000000001",
		CreatedUnixUTC: 1700000000,
	}))
	require.NoError(t, store.InsertEntry(ctx, booking.Entry{
		EntryID:        "aaaaaaaa-0000-0000-0000-000000000002",
		AccountID:      "22222222-2222-2222-2222-222222222222",
		Kind:           booking.KindRentalCredit,
		AmountCents:    3000,
		RentalID:       rentalID,
		GroupID:        "bbbbbbbb-0000-0000-0000-000000000001",
		CreatedUnixUTC: 1700000000,
	}))

	listed, err := store.ListEntriesByRental(ctx, rentalID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, listed[0].GroupID, listed[1].GroupID)
}

func TestHoldOverlapQueries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	itemID := "dddddddd-0000-0000-0000-000000000001"

	hold := booking.Hold{
		ItemID:   itemID,
		RentalID: "cccccccc-0000-0000-0000-000000000001",
		Start:    testDate(t, 10),
		End:      testDate(t, 13),
	}
	require.NoError(t, store.CreateHold(ctx, hold))

	count, err := store.CountOverlappingHolds(ctx, itemID, testRange(t, 12, 15))
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	// Half-open semantics: a range starting on the hold's end date is free.
	count, err = store.CountOverlappingHolds(ctx, itemID, testRange(t, 13, 15))
	require.NoError(t, err)
	require.EqualValues(t, 0, count)

	count, err = store.CountOverlappingHolds(ctx, itemID, testRange(t, 1, 10))
	require.NoError(t, err)
	require.EqualValues(t, 0, count)

	count, err = store.CountOverlappingHolds(ctx, "eeeeeeee-0000-0000-0000-000000000001", testRange(t, 10, 13))
	require.NoError(t, err)
	require.EqualValues(t, 0, count)

	require.ErrorIs(t, store.CreateHold(ctx, hold), booking.ErrConflict)

	require.NoError(t, store.DeleteHold(ctx, itemID, hold.RentalID))
	count, err = store.CountOverlappingHolds(ctx, itemID, testRange(t, 10, 13))
	require.NoError(t, err)
	require.EqualValues(t, 0, count)

	// Deleting an absent hold stays a no-op.
	require.NoError(t, store.DeleteHold(ctx, itemID, hold.RentalID))
}

func TestRentalStatusCompareAndSet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rental := booking.Rental{
		RentalID:            "cccccccc-0000-0000-0000-000000000001",
		ItemID:              "dddddddd-0000-0000-0000-000000000001",
		RenterAccountID:     "11111111-1111-1111-1111-111111111111",
		OwnerAccountID:      "22222222-2222-2222-2222-222222222222",
		Start:               testDate(t, 10),
		End:                 testDate(t, 13),
		TotalPriceCents:     3000,
		Status:              booking.StatusPending,
		CreatedUnixUTC:      1700000000,
		TransitionedUnixUTC: 1700000000,
	}
	require.NoError(t, store.CreateRental(ctx, rental))

	require.NoError(t, store.UpdateRentalStatus(ctx, rental.RentalID, booking.StatusPending, booking.StatusActive, 1700000100))
	// Stale expectation loses the race.
	require.ErrorIs(t,
		store.UpdateRentalStatus(ctx, rental.RentalID, booking.StatusPending, booking.StatusCancelled, 1700000200),
		booking.ErrInvalidTransition)

	loaded, err := store.GetRental(ctx, rental.RentalID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusActive, loaded.Status)
	require.EqualValues(t, 1700000100, loaded.TransitionedUnixUTC)
	require.Equal(t, "2024-01-10", loaded.Start.String())
	require.Equal(t, "2024-01-13", loaded.End.String())
}

func TestRentalListings(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	renterID := "11111111-1111-1111-1111-111111111111"
	ownerID := "22222222-2222-2222-2222-222222222222"
	pending := booking.Rental{
		RentalID:        "cccccccc-0000-0000-0000-000000000001",
		ItemID:          "dddddddd-0000-0000-0000-000000000001",
		RenterAccountID: renterID,
		OwnerAccountID:  ownerID,
		Start:           testDate(t, 10),
		End:             testDate(t, 13),
		TotalPriceCents: 3000,
		Status:          booking.StatusPending,
		CreatedUnixUTC:  1700000000,
	}
	active := pending
	active.RentalID = "cccccccc-0000-0000-0000-000000000002"
	active.ItemID = "dddddddd-0000-0000-0000-000000000002"
	active.Status = booking.StatusActive
	require.NoError(t, store.CreateRental(ctx, pending))
	require.NoError(t, store.CreateRental(ctx, active))

	byRenter, err := store.ListRentalsByRenter(ctx, renterID)
	require.NoError(t, err)
	require.Len(t, byRenter, 2)

	byOwner, err := store.ListRentalsByOwner(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, byOwner, 2)

	due, err := store.ListPendingStartingBy(ctx, testDate(t, 10))
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, pending.RentalID, due[0].RentalID)

	due, err = store.ListPendingStartingBy(ctx, testDate(t, 9))
	require.NoError(t, err)
	require.Empty(t, due)

	ending, err := store.ListActiveEndingBy(ctx, testDate(t, 13))
	require.NoError(t, err)
	require.Len(t, ending, 1)
	require.Equal(t, active.RentalID, ending[0].RentalID)

	ending, err = store.ListActiveEndingBy(ctx, testDate(t, 12))
	require.NoError(t, err)
	require.Empty(t, ending)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("abort")
	err := store.WithTx(ctx, func(ctx context.Context, txStore booking.Store) error {
		account := booking.Account{AccountID: "11111111-1111-1111-1111-111111111111", DisplayName: "Ghost", CreatedUnixUTC: 1700000000}
		if err := txStore.CreateAccount(ctx, account); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, err = store.GetAccount(ctx, "11111111-1111-1111-1111-111111111111")
	require.ErrorIs(t, err, booking.ErrNotFound)
}
