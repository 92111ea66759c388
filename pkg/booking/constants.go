package booking

const (
	operationCreateBooking  = "create_booking"
	operationCancelBooking  = "cancel_booking"
	operationAdvance        = "advance_lifecycle"
	operationDeposit        = "deposit"
	operationWithdraw       = "withdraw"
	operationRebuildBalance = "rebuild_balance"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
