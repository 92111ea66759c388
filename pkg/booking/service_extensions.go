package booking

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// OpenAccount creates a wallet with a zero balance.
func (service *Service) OpenAccount(ctx context.Context, displayName string) (Account, error) {
	account := Account{
		AccountID:      uuid.NewString(),
		DisplayName:    displayName,
		BalanceCents:   0,
		CreatedUnixUTC: service.nowFn(),
	}
	if err := service.store.CreateAccount(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// RegisterItem lists an item for rent under the owner's account.
func (service *Service) RegisterItem(ctx context.Context, ownerID AccountID, title string, category Category, pricePerDay PositiveAmountCents) (Item, error) {
	if _, err := service.store.GetAccount(ctx, ownerID.String()); err != nil {
		return Item{}, err
	}
	item := Item{
		ItemID:           uuid.NewString(),
		OwnerAccountID:   ownerID.String(),
		Title:            title,
		Category:         category,
		PricePerDayCents: pricePerDay,
		CreatedUnixUTC:   service.nowFn(),
	}
	if err := service.store.CreateItem(ctx, item); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Deposit credits an account from the external funding source.
func (service *Service) Deposit(ctx context.Context, accountID AccountID, amount PositiveAmountCents, metadata MetadataJSON) error {
	release := service.locks.acquire(resourceKeys("", accountID.String())...)
	defer release()

	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if _, err := txStore.GetAccount(ctx, accountID.String()); err != nil {
			return err
		}
		drafts := []EntryDraft{
			{AccountID: accountID.String(), Kind: KindDeposit, AmountCents: amount.ToAmountCents(), MetadataJSON: metadata.String()},
		}
		return postGroup(ctx, txStore, service.nowFn(), drafts)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDeposit,
		AccountID: accountID.String(),
		Amount:    amount.ToAmountCents(),
		Error:     operationError,
	})
	return operationError
}

// Withdraw debits an account toward the external funding source. The balance
// may not go negative.
func (service *Service) Withdraw(ctx context.Context, accountID AccountID, amount PositiveAmountCents, metadata MetadataJSON) error {
	release := service.locks.acquire(resourceKeys("", accountID.String())...)
	defer release()

	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if _, err := txStore.GetAccount(ctx, accountID.String()); err != nil {
			return err
		}
		drafts := []EntryDraft{
			{AccountID: accountID.String(), Kind: KindWithdrawal, AmountCents: amount.ToAmountCents().Negated(), MetadataJSON: metadata.String()},
		}
		return postGroup(ctx, txStore, service.nowFn(), drafts)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationWithdraw,
		AccountID: accountID.String(),
		Amount:    amount.ToAmountCents(),
		Error:     operationError,
	})
	return operationError
}

// GetRental returns a rental by id.
func (service *Service) GetRental(ctx context.Context, rentalID RentalID) (Rental, error) {
	return service.store.GetRental(ctx, rentalID.String())
}

// ListEntries lists an account's ledger entries before a cutoff time.
func (service *Service) ListEntries(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: list limit must be positive", ErrInvalidServiceConfig)
	}
	if _, err := service.store.GetAccount(ctx, accountID.String()); err != nil {
		return nil, err
	}
	return service.store.ListEntries(ctx, accountID.String(), beforeUnixUTC, limit)
}

// RentalsByRenter lists rentals booked by an account.
func (service *Service) RentalsByRenter(ctx context.Context, renterID AccountID) ([]Rental, error) {
	return service.store.ListRentalsByRenter(ctx, renterID.String())
}

// RentalsByOwner lists rentals of items owned by an account.
func (service *Service) RentalsByOwner(ctx context.Context, ownerID AccountID) ([]Rental, error) {
	return service.store.ListRentalsByOwner(ctx, ownerID.String())
}

// ItemsByOwner lists items owned by an account.
func (service *Service) ItemsByOwner(ctx context.Context, ownerID AccountID) ([]Item, error) {
	return service.store.ListItemsByOwner(ctx, ownerID.String())
}
