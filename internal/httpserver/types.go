package httpserver

// Request and response schemas for the booking HTTP facade.

type openAccountRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

type accountResponse struct {
	AccountID    string `json:"account_id"`
	DisplayName  string `json:"display_name"`
	BalanceCents int64  `json:"balance_cents"`
}

type balanceResponse struct {
	AccountID    string `json:"account_id"`
	BalanceCents int64  `json:"balance_cents"`
}

type fundingRequest struct {
	AmountCents int64          `json:"amount_cents" binding:"required"`
	Metadata    map[string]any `json:"metadata"`
}

type registerItemRequest struct {
	Title            string `json:"title" binding:"required"`
	Category         string `json:"category" binding:"required"`
	PricePerDayCents int64  `json:"price_per_day_cents" binding:"required"`
}

type itemResponse struct {
	ItemID           string `json:"item_id"`
	OwnerAccountID   string `json:"owner_account_id"`
	Title            string `json:"title"`
	Category         string `json:"category"`
	PricePerDayCents int64  `json:"price_per_day_cents"`
}

type createBookingRequest struct {
	ItemID    string         `json:"item_id" binding:"required"`
	StartDate string         `json:"start_date" binding:"required"`
	EndDate   string         `json:"end_date" binding:"required"`
	Metadata  map[string]any `json:"metadata"`
}

type rentalResponse struct {
	RentalID        string `json:"rental_id"`
	ItemID          string `json:"item_id"`
	RenterAccountID string `json:"renter_account_id"`
	OwnerAccountID  string `json:"owner_account_id"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	TotalPriceCents int64  `json:"total_price_cents"`
	Status          string `json:"status"`
}

type rentalsResponse struct {
	AsRenter []rentalResponse `json:"as_renter"`
	AsOwner  []rentalResponse `json:"as_owner"`
}

type entryResponse struct {
	EntryID     string `json:"entry_id"`
	Kind        string `json:"kind"`
	AmountCents int64  `json:"amount_cents"`
	RentalID    string `json:"rental_id,omitempty"`
	GroupID     string `json:"group_id"`
	CreatedUnix int64  `json:"created_unix_utc"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
