package data

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_TransactionStatus_Validate(t *testing.T) {
	for _, status := range TransactionStatuses() {
		t.Run(string(status), func(t *testing.T) {
			assert.NoError(t, status.Validate())
		})
	}

	assert.ErrorContains(t, TransactionStatus("banana").Validate(), "invalid transaction status")
}

func Test_TransactionStatus_TransitionTo(t *testing.T) {
	allowed := map[TransactionStatus][]TransactionStatus{
		PendingTransactionStatus:    {PaidTransactionStatus, ExpiredTransactionStatus},
		PaidTransactionStatus:       {DispensingTransactionStatus},
		DispensingTransactionStatus: {CompletedTransactionStatus, FailedTransactionStatus},
		CompletedTransactionStatus:  {},
		FailedTransactionStatus:     {},
		ExpiredTransactionStatus:    {},
	}

	for from, targets := range allowed {
		allowedSet := map[TransactionStatus]bool{}
		for _, to := range targets {
			allowedSet[to] = true
		}

		for _, to := range TransactionStatuses() {
			t.Run(fmt.Sprintf("%s to %s", from, to), func(t *testing.T) {
				err := from.TransitionTo(to)
				if allowedSet[to] {
					assert.NoError(t, err)
				} else {
					assert.Error(t, err)
				}
			})
		}
	}
}

func Test_TransactionStatus_IsTerminal(t *testing.T) {
	assert.False(t, PendingTransactionStatus.IsTerminal())
	assert.False(t, PaidTransactionStatus.IsTerminal())
	assert.False(t, DispensingTransactionStatus.IsTerminal())
	assert.True(t, CompletedTransactionStatus.IsTerminal())
	assert.True(t, FailedTransactionStatus.IsTerminal())
	assert.True(t, ExpiredTransactionStatus.IsTerminal())
}
