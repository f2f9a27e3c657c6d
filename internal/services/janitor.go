package services

import (
	"context"
	"fmt"
	"time"

	"github.com/stellar/go-stellar-sdk/support/log"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/data"
)

// Janitor owns the time-driven cleanup the request path never performs:
// expiring stale pending transactions and reviving dispense jobs whose agent
// went silent mid-lease.
type Janitor struct {
	Models *data.Models
	// StuckLeaseMaxAge is how long an in-progress job may go without a report
	// before its lease is considered lost.
	StuckLeaseMaxAge time.Duration
}

func NewJanitor(models *data.Models, stuckLeaseMaxAge time.Duration) (*Janitor, error) {
	if models == nil {
		return nil, fmt.Errorf("models cannot be nil")
	}
	if stuckLeaseMaxAge <= 0 {
		return nil, fmt.Errorf("stuck lease max age must be greater than zero")
	}
	return &Janitor{Models: models, StuckLeaseMaxAge: stuckLeaseMaxAge}, nil
}

// SweepExpiredTransactions expires pending transactions past their window.
func (j *Janitor) SweepExpiredTransactions(ctx context.Context) (int, error) {
	now := time.Now()
	count, err := db.RunInTransactionWithResult(ctx, j.Models.DBConnectionPool, db.SerializableTxOptions, func(dbTx db.DBTransaction) (int, error) {
		return j.Models.Transactions.SweepExpired(ctx, dbTx, now)
	})
	if err != nil {
		return 0, fmt.Errorf("sweeping expired transactions: %w", err)
	}

	if count > 0 {
		log.Ctx(ctx).Infof("expired %d stale pending transaction(s)", count)
	}

	return count, nil
}

// ReviveStuckLeases requeues or fails in-progress jobs whose lease went
// silent for longer than StuckLeaseMaxAge.
func (j *Janitor) ReviveStuckLeases(ctx context.Context) (int, error) {
	now := time.Now()
	count, err := db.RunInTransactionWithResult(ctx, j.Models.DBConnectionPool, db.SerializableTxOptions, func(dbTx db.DBTransaction) (int, error) {
		return j.Models.DispenseJobs.ReviveStuck(ctx, dbTx, j.StuckLeaseMaxAge, now)
	})
	if err != nil {
		return 0, fmt.Errorf("reviving stuck leases: %w", err)
	}

	if count > 0 {
		log.Ctx(ctx).Warnf("revived %d stuck dispense lease(s)", count)
	}

	return count, nil
}
