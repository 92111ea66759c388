package booking

import "fmt"

// Event is a lifecycle trigger applied to a rental.
type Event string

const (
	EventActivate Event = "activate"
	EventCancel   Event = "cancel"
	EventComplete Event = "complete"
)

// LedgerEffect names the money movement a transition requires.
type LedgerEffect string

const (
	// EffectNone requires no ledger group.
	EffectNone LedgerEffect = "none"
	// EffectFullRefund reverses the original debit/credit group in full.
	EffectFullRefund LedgerEffect = "full_refund"
	// EffectNoRefund cancels the rental but keeps the captured payment.
	// Cancelling after activation forfeits the payment; the policy is
	// deterministic and applied only here.
	EffectNoRefund LedgerEffect = "no_refund"
)

// Transition is the rental state machine: it maps the current status and an
// event to the next status and the ledger effect the orchestrator must apply.
// It holds no state of its own and performs no side effects.
func Transition(current RentalStatus, event Event) (RentalStatus, LedgerEffect, error) {
	switch current {
	case StatusPending:
		switch event {
		case EventActivate:
			return StatusActive, EffectNone, nil
		case EventCancel:
			return StatusCancelled, EffectFullRefund, nil
		}
	case StatusActive:
		switch event {
		case EventCancel:
			return StatusCancelled, EffectNoRefund, nil
		case EventComplete:
			return StatusCompleted, EffectNone, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, event)
}
