package data

import (
	"fmt"
	"strings"
)

type TransactionStatus string

const (
	PendingTransactionStatus    TransactionStatus = "pending"
	PaidTransactionStatus       TransactionStatus = "paid"
	DispensingTransactionStatus TransactionStatus = "dispensing"
	CompletedTransactionStatus  TransactionStatus = "completed"
	FailedTransactionStatus     TransactionStatus = "failed"
	ExpiredTransactionStatus    TransactionStatus = "expired"
)

// Validate validates the transaction status
func (status TransactionStatus) Validate() error {
	switch TransactionStatus(strings.ToLower(string(status))) {
	case PendingTransactionStatus, PaidTransactionStatus, DispensingTransactionStatus,
		CompletedTransactionStatus, FailedTransactionStatus, ExpiredTransactionStatus:
		return nil
	default:
		return fmt.Errorf("invalid transaction status: %s", status)
	}
}

// TransitionTo transitions the transaction status to the target state
func (status TransactionStatus) TransitionTo(targetState TransactionStatus) error {
	return TransactionStateMachineWithInitialState(status).TransitionTo(targetState.State())
}

// TransactionStateMachineWithInitialState returns a state machine for transactions initialized with the given state
func TransactionStateMachineWithInitialState(initialState TransactionStatus) *StateMachine {
	transitions := []StateTransition{
		{From: PendingTransactionStatus.State(), To: PaidTransactionStatus.State()},        // payment proof accepted
		{From: PendingTransactionStatus.State(), To: ExpiredTransactionStatus.State()},     // authorization window elapsed
		{From: PaidTransactionStatus.State(), To: DispensingTransactionStatus.State()},     // dispense job leased
		{From: DispensingTransactionStatus.State(), To: CompletedTransactionStatus.State()}, // coins paid out
		{From: DispensingTransactionStatus.State(), To: FailedTransactionStatus.State()},    // retry budget exhausted
	}

	return NewStateMachine(initialState.State(), transitions)
}

// TransactionStatuses returns a list of all possible transaction statuses
func TransactionStatuses() []TransactionStatus {
	return []TransactionStatus{
		PendingTransactionStatus, PaidTransactionStatus, DispensingTransactionStatus,
		CompletedTransactionStatus, FailedTransactionStatus, ExpiredTransactionStatus,
	}
}

// IsTerminal reports whether no further transitions can leave the status.
func (status TransactionStatus) IsTerminal() bool {
	switch status {
	case CompletedTransactionStatus, FailedTransactionStatus, ExpiredTransactionStatus:
		return true
	default:
		return false
	}
}

// IsAuthorized reports whether the payment behind the transaction was already
// captured. Callers observing either paid or dispensing must treat the payment
// as authorized.
func (status TransactionStatus) IsAuthorized() bool {
	switch status {
	case PaidTransactionStatus, DispensingTransactionStatus, CompletedTransactionStatus, FailedTransactionStatus:
		return true
	default:
		return false
	}
}

// ToTransactionStatus converts a string to a TransactionStatus
func ToTransactionStatus(s string) (TransactionStatus, error) {
	err := TransactionStatus(s).Validate()
	if err != nil {
		return "", err
	}

	return TransactionStatus(strings.ToLower(s)), nil
}

func (status TransactionStatus) State() State {
	return State(status)
}
