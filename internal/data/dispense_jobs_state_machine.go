package data

import (
	"fmt"
	"strings"
)

type DispenseJobStatus string

const (
	PendingDispenseJobStatus    DispenseJobStatus = "pending"
	InProgressDispenseJobStatus DispenseJobStatus = "in_progress"
	CompletedDispenseJobStatus  DispenseJobStatus = "completed"
	FailedDispenseJobStatus     DispenseJobStatus = "failed"
)

// Validate validates the dispense job status
func (status DispenseJobStatus) Validate() error {
	switch DispenseJobStatus(strings.ToLower(string(status))) {
	case PendingDispenseJobStatus, InProgressDispenseJobStatus, CompletedDispenseJobStatus, FailedDispenseJobStatus:
		return nil
	default:
		return fmt.Errorf("invalid dispense job status: %s", status)
	}
}

// TransitionTo transitions the dispense job status to the target state
func (status DispenseJobStatus) TransitionTo(targetState DispenseJobStatus) error {
	return DispenseJobStateMachineWithInitialState(status).TransitionTo(targetState.State())
}

// DispenseJobStateMachineWithInitialState returns a state machine for dispense jobs initialized with the given state
func DispenseJobStateMachineWithInitialState(initialState DispenseJobStatus) *StateMachine {
	transitions := []StateTransition{
		{From: PendingDispenseJobStatus.State(), To: InProgressDispenseJobStatus.State()},  // agent leases the job
		{From: InProgressDispenseJobStatus.State(), To: CompletedDispenseJobStatus.State()}, // success report
		{From: InProgressDispenseJobStatus.State(), To: PendingDispenseJobStatus.State()},   // failure report or stuck-lease revival, retry budget left
		{From: InProgressDispenseJobStatus.State(), To: FailedDispenseJobStatus.State()},    // retry budget exhausted
	}

	return NewStateMachine(initialState.State(), transitions)
}

// DispenseJobStatuses returns a list of all possible dispense job statuses
func DispenseJobStatuses() []DispenseJobStatus {
	return []DispenseJobStatus{PendingDispenseJobStatus, InProgressDispenseJobStatus, CompletedDispenseJobStatus, FailedDispenseJobStatus}
}

// IsTerminal reports whether the job reached a state that is immutable.
func (status DispenseJobStatus) IsTerminal() bool {
	return status == CompletedDispenseJobStatus || status == FailedDispenseJobStatus
}

func (status DispenseJobStatus) State() State {
	return State(status)
}
