package booking

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Service is the booking orchestrator: the only component that creates or
// transitions rentals. It composes the availability index, the rental state
// machine, and the ledger under a fixed lock order (item, then accounts by
// id) so concurrent requests cannot double-book an item or double-spend a
// balance.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
	locks  *lockArena
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, locks: newLockArena()}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// CreateBooking grants a rental of an item over [start, end) to renterID.
// Hold, rental row, and the debit/credit ledger group commit together or not
// at all: a failing ledger step leaves no hold behind.
func (service *Service) CreateBooking(ctx context.Context, itemID ItemID, renterID AccountID, dateRange DateRange, metadata MetadataJSON) (Rental, error) {
	rental, operationError := service.createBooking(ctx, itemID, renterID, dateRange, metadata)
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateBooking,
		AccountID: renterID.String(),
		ItemID:    itemID.String(),
		RentalID:  rental.RentalID,
		Amount:    rental.TotalPriceCents,
		Error:     operationError,
	})
	return rental, operationError
}

func (service *Service) createBooking(ctx context.Context, itemID ItemID, renterID AccountID, dateRange DateRange, metadata MetadataJSON) (Rental, error) {
	if err := ctx.Err(); err != nil {
		return Rental{}, err
	}
	item, err := service.store.GetItem(ctx, itemID.String())
	if err != nil {
		return Rental{}, err
	}
	if item.OwnerAccountID == renterID.String() {
		return Rental{}, fmt.Errorf("%w: owner cannot rent own item", ErrForbidden)
	}
	totalPrice := AmountCents(item.PricePerDayCents.Int64() * int64(dateRange.Days()))
	nowUnixUTC := service.nowFn()
	rental := Rental{
		RentalID:            uuid.NewString(),
		ItemID:              item.ItemID,
		RenterAccountID:     renterID.String(),
		OwnerAccountID:      item.OwnerAccountID,
		Start:               dateRange.Start(),
		End:                 dateRange.End(),
		TotalPriceCents:     totalPrice,
		Status:              StatusPending,
		CreatedUnixUTC:      nowUnixUTC,
		TransitionedUnixUTC: nowUnixUTC,
	}

	release := service.locks.acquire(resourceKeys(item.ItemID, renterID.String(), item.OwnerAccountID)...)
	defer release()

	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		overlapping, err := txStore.CountOverlappingHolds(ctx, item.ItemID, dateRange)
		if err != nil {
			return err
		}
		if overlapping > 0 {
			return fmt.Errorf("%w: item %s over [%s, %s)", ErrConflict, item.ItemID, dateRange.Start(), dateRange.End())
		}
		hold := Hold{
			ItemID:   item.ItemID,
			RentalID: rental.RentalID,
			Start:    dateRange.Start(),
			End:      dateRange.End(),
		}
		if err := txStore.CreateHold(ctx, hold); err != nil {
			return err
		}
		if err := txStore.CreateRental(ctx, rental); err != nil {
			return err
		}
		drafts := []EntryDraft{
			{AccountID: rental.RenterAccountID, Kind: KindRentalDebit, AmountCents: totalPrice.Negated(), RentalID: rental.RentalID, MetadataJSON: metadata.String()},
			{AccountID: rental.OwnerAccountID, Kind: KindRentalCredit, AmountCents: totalPrice, RentalID: rental.RentalID, MetadataJSON: metadata.String()},
		}
		return postGroup(ctx, txStore, nowUnixUTC, drafts)
	})
	if err != nil {
		return Rental{}, err
	}
	return rental, nil
}

// CancelBooking withdraws a rental. Only the renter or the owner may cancel.
// Cancelling from pending refunds the full price; cancelling from active
// forfeits it (see EffectNoRefund). Cancelling an already-terminal rental
// returns the current record unchanged.
func (service *Service) CancelBooking(ctx context.Context, rentalID RentalID, actorID AccountID, metadata MetadataJSON) (Rental, error) {
	rental, operationError := service.cancelBooking(ctx, rentalID, actorID, metadata)
	service.logOperation(ctx, OperationLog{
		Operation: operationCancelBooking,
		AccountID: actorID.String(),
		ItemID:    rental.ItemID,
		RentalID:  rentalID.String(),
		Amount:    rental.TotalPriceCents,
		Error:     operationError,
	})
	return rental, operationError
}

func (service *Service) cancelBooking(ctx context.Context, rentalID RentalID, actorID AccountID, metadata MetadataJSON) (Rental, error) {
	if err := ctx.Err(); err != nil {
		return Rental{}, err
	}
	current, err := service.store.GetRental(ctx, rentalID.String())
	if err != nil {
		return Rental{}, err
	}
	if actorID.String() != current.RenterAccountID && actorID.String() != current.OwnerAccountID {
		return Rental{}, fmt.Errorf("%w: only renter or owner may cancel", ErrForbidden)
	}

	release := service.locks.acquire(resourceKeys(current.ItemID, current.RenterAccountID, current.OwnerAccountID)...)
	defer release()

	var result Rental
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		rental, err := txStore.GetRental(ctx, rentalID.String())
		if err != nil {
			return err
		}
		if rental.Status.IsTerminal() {
			result = rental
			return nil
		}
		next, effect, err := Transition(rental.Status, EventCancel)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		if err := txStore.UpdateRentalStatus(ctx, rental.RentalID, rental.Status, next, nowUnixUTC); err != nil {
			return err
		}
		if effect == EffectFullRefund {
			drafts := []EntryDraft{
				{AccountID: rental.RenterAccountID, Kind: KindRefund, AmountCents: rental.TotalPriceCents, RentalID: rental.RentalID, MetadataJSON: metadata.String()},
				{AccountID: rental.OwnerAccountID, Kind: KindRefund, AmountCents: rental.TotalPriceCents.Negated(), RentalID: rental.RentalID, MetadataJSON: metadata.String()},
			}
			if err := postGroup(ctx, txStore, nowUnixUTC, drafts); err != nil {
				return err
			}
		}
		if err := txStore.DeleteHold(ctx, rental.ItemID, rental.RentalID); err != nil {
			return err
		}
		rental.Status = next
		rental.TransitionedUnixUTC = nowUnixUTC
		result = rental
		return nil
	})
	if err != nil {
		return Rental{}, err
	}
	return result, nil
}

// AdvanceLifecycle applies the time-driven transition due at asOf: pending
// rentals whose start date was reached become active, active rentals whose
// end date was reached become completed. Payment was captured at creation,
// so neither transition moves money. Terminal or not-yet-due rentals return
// unchanged.
func (service *Service) AdvanceLifecycle(ctx context.Context, rentalID RentalID, asOf Date) (Rental, error) {
	rental, operationError := service.advanceLifecycle(ctx, rentalID, asOf)
	service.logOperation(ctx, OperationLog{
		Operation: operationAdvance,
		ItemID:    rental.ItemID,
		RentalID:  rentalID.String(),
		Error:     operationError,
	})
	return rental, operationError
}

func (service *Service) advanceLifecycle(ctx context.Context, rentalID RentalID, asOf Date) (Rental, error) {
	current, err := service.store.GetRental(ctx, rentalID.String())
	if err != nil {
		return Rental{}, err
	}

	release := service.locks.acquire(resourceKeys(current.ItemID, current.RenterAccountID, current.OwnerAccountID)...)
	defer release()

	var result Rental
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		rental, err := txStore.GetRental(ctx, rentalID.String())
		if err != nil {
			return err
		}
		result = rental
		var event Event
		switch {
		case rental.Status == StatusPending && !asOf.Before(rental.Start):
			event = EventActivate
		case rental.Status == StatusActive && !asOf.Before(rental.End):
			event = EventComplete
		default:
			return nil
		}
		next, _, err := Transition(rental.Status, event)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		if err := txStore.UpdateRentalStatus(ctx, rental.RentalID, rental.Status, next, nowUnixUTC); err != nil {
			return err
		}
		if next.IsTerminal() {
			if err := txStore.DeleteHold(ctx, rental.ItemID, rental.RentalID); err != nil {
				return err
			}
		}
		rental.Status = next
		rental.TransitionedUnixUTC = nowUnixUTC
		result = rental
		return nil
	})
	if err != nil {
		return Rental{}, err
	}
	return result, nil
}

// AdvanceDue sweeps every rental with a transition due at asOf. It returns
// the number of rentals advanced; individual failures abort the sweep.
func (service *Service) AdvanceDue(ctx context.Context, asOf Date) (int, error) {
	pending, err := service.store.ListPendingStartingBy(ctx, asOf)
	if err != nil {
		return 0, err
	}
	active, err := service.store.ListActiveEndingBy(ctx, asOf)
	if err != nil {
		return 0, err
	}
	advanced := 0
	for _, rental := range append(pending, active...) {
		rentalID, err := NewRentalID(rental.RentalID)
		if err != nil {
			return advanced, err
		}
		before := rental.Status
		after, err := service.AdvanceLifecycle(ctx, rentalID, asOf)
		if err != nil {
			return advanced, err
		}
		if after.Status != before {
			advanced++
		}
	}
	return advanced, nil
}

// Balance returns the account's cached balance.
func (service *Service) Balance(ctx context.Context, accountID AccountID) (AmountCents, error) {
	account, err := service.store.GetAccount(ctx, accountID.String())
	if err != nil {
		return 0, err
	}
	return account.BalanceCents, nil
}

// RebuildBalance re-folds the account's ledger entries, repairs the cached
// balance, and returns the recomputed amount. The cache is derived state;
// this is the supported recovery path when drift is suspected.
func (service *Service) RebuildBalance(ctx context.Context, accountID AccountID) (AmountCents, error) {
	release := service.locks.acquire(resourceKeys("", accountID.String())...)
	defer release()

	var rebuilt AmountCents
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if _, err := txStore.GetAccount(ctx, accountID.String()); err != nil {
			return err
		}
		sum, err := txStore.SumEntries(ctx, accountID.String())
		if err != nil {
			return err
		}
		if err := txStore.SetBalance(ctx, accountID.String(), sum); err != nil {
			return err
		}
		rebuilt = sum
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRebuildBalance,
		AccountID: accountID.String(),
		Amount:    rebuilt,
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return rebuilt, nil
}

// postGroup commits a set of entries as one atomic group inside the caller's
// transaction. Any account whose resulting balance would go negative fails
// the whole group with ErrInsufficientFunds before anything is written.
func postGroup(ctx context.Context, txStore Store, nowUnixUTC int64, drafts []EntryDraft) error {
	deltas := make(map[string]AmountCents, len(drafts))
	for _, draft := range drafts {
		if draft.AmountCents == 0 {
			return fmt.Errorf("%w: zero entry amount", ErrInvalidAmountCents)
		}
		deltas[draft.AccountID] += draft.AmountCents
	}
	accountIDs := make([]string, 0, len(deltas))
	for accountID := range deltas {
		accountIDs = append(accountIDs, accountID)
	}
	sort.Strings(accountIDs)
	for _, accountID := range accountIDs {
		if deltas[accountID] >= 0 {
			continue
		}
		account, err := txStore.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if account.BalanceCents+deltas[accountID] < 0 {
			return fmt.Errorf("%w: account %s", ErrInsufficientFunds, accountID)
		}
	}
	groupID := uuid.NewString()
	for _, draft := range drafts {
		entry := Entry{
			EntryID:        uuid.NewString(),
			AccountID:      draft.AccountID,
			Kind:           draft.Kind,
			AmountCents:    draft.AmountCents,
			RentalID:       draft.RentalID,
			GroupID:        groupID,
			MetadataJSON:   draft.MetadataJSON,
			CreatedUnixUTC: nowUnixUTC,
		}
		if err := txStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
	}
	for _, accountID := range accountIDs {
		if err := txStore.AddToBalance(ctx, accountID, deltas[accountID]); err != nil {
			return err
		}
	}
	return nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
