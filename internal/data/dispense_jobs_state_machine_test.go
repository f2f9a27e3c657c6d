package data

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_DispenseJobStatus_TransitionTo(t *testing.T) {
	allowed := map[DispenseJobStatus][]DispenseJobStatus{
		PendingDispenseJobStatus:    {InProgressDispenseJobStatus},
		InProgressDispenseJobStatus: {CompletedDispenseJobStatus, PendingDispenseJobStatus, FailedDispenseJobStatus},
		CompletedDispenseJobStatus:  {},
		FailedDispenseJobStatus:     {},
	}

	for from, targets := range allowed {
		allowedSet := map[DispenseJobStatus]bool{}
		for _, to := range targets {
			allowedSet[to] = true
		}

		for _, to := range DispenseJobStatuses() {
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

func Test_DispenseJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, PendingDispenseJobStatus.IsTerminal())
	assert.False(t, InProgressDispenseJobStatus.IsTerminal())
	assert.True(t, CompletedDispenseJobStatus.IsTerminal())
	assert.True(t, FailedDispenseJobStatus.IsTerminal())
}
