package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/services"
)

const (
	expiredTransactionsJobName            = "expired_transactions_job"
	ExpiredTransactionsJobDefaultInterval = time.Minute
)

// expiredTransactionsJob sweeps pending transactions whose authorization
// window has closed, so abandoned QR codes don't linger as payable.
type expiredTransactionsJob struct {
	janitor  *services.Janitor
	interval time.Duration
}

func NewExpiredTransactionsJob(janitor *services.Janitor, interval time.Duration) Job {
	if interval <= 0 {
		interval = ExpiredTransactionsJobDefaultInterval
	}
	return expiredTransactionsJob{janitor: janitor, interval: interval}
}

func (j expiredTransactionsJob) Execute(ctx context.Context) error {
	if _, err := j.janitor.SweepExpiredTransactions(ctx); err != nil {
		return fmt.Errorf("executing %s: %w", expiredTransactionsJobName, err)
	}
	return nil
}

func (j expiredTransactionsJob) GetInterval() time.Duration {
	return j.interval
}

func (j expiredTransactionsJob) GetName() string {
	return expiredTransactionsJobName
}

var _ Job = (*expiredTransactionsJob)(nil)
