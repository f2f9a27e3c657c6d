package data

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
	"github.com/abdulrahimiqbal/RoluATM-sub000/db/dbtest"
)

func Test_DispenseJobModel_Insert(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := NewModels(dbConnectionPool)
	require.NoError(t, err)

	CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-1")
	now := time.Now()

	t.Run("returns ErrRecordNotFound for an unknown transaction", func(t *testing.T) {
		_, err := models.DispenseJobs.Insert(ctx, dbConnectionPool, "00000000-0000-0000-0000-000000000000", 3)
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("🎉 copies kiosk and coin count from the transaction", func(t *testing.T) {
		transaction := CreateTransactionFixture(t, ctx, dbConnectionPool, "kiosk-1", decimal.NewFromInt(5), 20, PaidTransactionStatus, now.Add(15*time.Minute))

		job, err := models.DispenseJobs.Insert(ctx, dbConnectionPool, transaction.ID, 3)
		require.NoError(t, err)

		assert.Equal(t, transaction.ID, job.TransactionID)
		assert.Equal(t, "kiosk-1", job.KioskID)
		assert.Equal(t, 20, job.CoinCount)
		assert.Equal(t, PendingDispenseJobStatus, job.Status)
		assert.Equal(t, 0, job.Attempts)
		assert.Equal(t, 3, job.MaxAttempts)

		events, err := models.TransactionEvents.ListByTransactionID(ctx, dbConnectionPool, transaction.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, JobEnqueuedEvent, events[0].EventKind)
	})

	t.Run("refuses a second job for the same transaction", func(t *testing.T) {
		transaction := CreateTransactionFixture(t, ctx, dbConnectionPool, "kiosk-1", decimal.NewFromInt(5), 20, PaidTransactionStatus, now.Add(15*time.Minute))

		_, err := models.DispenseJobs.Insert(ctx, dbConnectionPool, transaction.ID, 3)
		require.NoError(t, err)

		_, err = models.DispenseJobs.Insert(ctx, dbConnectionPool, transaction.ID, 3)
		assert.ErrorContains(t, err, "duplicate key")
	})
}

func Test_DispenseJobModel_LeaseNext(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := NewModels(dbConnectionPool)
	require.NoError(t, err)

	CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-1")
	CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-2")
	now := time.Now()

	t.Run("returns ErrRecordNotFound when there is nothing to lease", func(t *testing.T) {
		_, err := models.DispenseJobs.LeaseNext(ctx, dbConnectionPool, "kiosk-1", now)
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("🎉 leases the oldest pending job and moves the transaction to dispensing", func(t *testing.T) {
		defer DeleteAllFixtures(t, ctx, dbConnectionPool)
		CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-1")

		older := CreateTransactionFixture(t, ctx, dbConnectionPool, "kiosk-1", decimal.NewFromInt(5), 20, PaidTransactionStatus, now.Add(15*time.Minute))
		olderJob := CreateDispenseJobFixture(t, ctx, dbConnectionPool, older.ID, "kiosk-1", 20, PendingDispenseJobStatus, 0)
		newer := CreateTransactionFixture(t, ctx, dbConnectionPool, "kiosk-1", decimal.NewFromInt(3), 12, PaidTransactionStatus, now.Add(15*time.Minute))
		CreateDispenseJobFixture(t, ctx, dbConnectionPool, newer.ID, "kiosk-1", 12, PendingDispenseJobStatus, 0)

		leased, err := models.DispenseJobs.LeaseNext(ctx, dbConnectionPool, "kiosk-1", now)
		require.NoError(t, err)

		assert.Equal(t, olderJob.ID, leased.ID)
		assert.Equal(t, InProgressDispenseJobStatus, leased.Status)
		require.NotNil(t, leased.LastAttemptAt)

		transaction, err := models.Transactions.Get(ctx, dbConnectionPool, older.ID)
		require.NoError(t, err)
		assert.Equal(t, DispensingTransactionStatus, transaction.Status)

		events, err := models.TransactionEvents.ListByTransactionID(ctx, dbConnectionPool, older.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, JobLeasedEvent, events[0].EventKind)
	})

	t.Run("a re-poll returns the in-progress job instead of leasing a second one", func(t *testing.T) {
		defer DeleteAllFixtures(t, ctx, dbConnectionPool)
		CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-1")

		first := CreateTransactionFixture(t, ctx, dbConnectionPool, "kiosk-1", decimal.NewFromInt(5), 20, PaidTransactionStatus, now.Add(15*time.Minute))
		CreateDispenseJobFixture(t, ctx, dbConnectionPool, first.ID, "kiosk-1", 20, PendingDispenseJobStatus, 0)
		second := CreateTransactionFixture(t, ctx, dbConnectionPool, "kiosk-1", decimal.NewFromInt(3), 12, PaidTransactionStatus, now.Add(15*time.Minute))
		CreateDispenseJobFixture(t, ctx, dbConnectionPool, second.ID, "kiosk-1", 12, PendingDispenseJobStatus, 0)

		leased, err := models.DispenseJobs.LeaseNext(ctx, dbConnectionPool, "kiosk-1", now)
		require.NoError(t, err)

		again, err := models.DispenseJobs.LeaseNext(ctx, dbConnectionPool, "kiosk-1", now)
		require.NoError(t, err)
		assert.Equal(t, leased.ID, again.ID)

		// No second job_leased event for the re-poll.
		events, err := models.TransactionEvents.ListByTransactionID(ctx, dbConnectionPool, leased.TransactionID)
		require.NoError(t, err)
		require.Len(t, events, 1)
	})

	t.Run("leases are scoped per kiosk", func(t *testing.T) {
		defer DeleteAllFixtures(t, ctx, dbConnectionPool)
		CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-1")
		CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-2")

		transaction := CreateTransactionFixture(t, ctx, dbConnectionPool, "kiosk-1", decimal.NewFromInt(5), 20, PaidTransactionStatus, now.Add(15*time.Minute))
		CreateDispenseJobFixture(t, ctx, dbConnectionPool, transaction.ID, "kiosk-1", 20, PendingDispenseJobStatus, 0)

		_, err := models.DispenseJobs.LeaseNext(ctx, dbConnectionPool, "kiosk-2", now)
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("skips jobs that exhausted their retry budget", func(t *testing.T) {
		defer DeleteAllFixtures(t, ctx, dbConnectionPool)
		CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-1")

		transaction := CreateTransactionFixture(t, ctx, dbConnectionPool, "kiosk-1", decimal.NewFromInt(5), 20, PaidTransactionStatus, now.Add(15*time.Minute))
		CreateDispenseJobFixture(t, ctx, dbConnectionPool, transaction.ID, "kiosk-1", 20, PendingDispenseJobStatus, 3)

		_, err := models.DispenseJobs.LeaseNext(ctx, dbConnectionPool, "kiosk-1", now)
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})
}

func Test_DispenseJobModel_Complete(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := NewModels(dbConnectionPool)
	require.NoError(t, err)

	now := time.Now()

	setup := func(t *testing.T, attempts int) (*Transaction, *DispenseJob) {
		t.Helper()
		DeleteAllFixtures(t, ctx, dbConnectionPool)
		CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-1")
		transaction := CreateTransactionFixture(t, ctx, dbConnectionPool, "kiosk-1", decimal.NewFromInt(5), 20, DispensingTransactionStatus, now.Add(15*time.Minute))
		job := CreateDispenseJobFixture(t, ctx, dbConnectionPool, transaction.ID, "kiosk-1", 20, InProgressDispenseJobStatus, attempts)
		return transaction, job
	}

	t.Run("returns ErrRecordNotFound for an unknown job", func(t *testing.T) {
		_, _, err := models.DispenseJobs.Complete(ctx, dbConnectionPool, "00000000-0000-0000-0000-000000000000", "kiosk-1", true, "", now)
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("returns ErrJobOwnershipMismatch when another kiosk reports", func(t *testing.T) {
		_, job := setup(t, 0)
		CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-2")

		_, _, err := models.DispenseJobs.Complete(ctx, dbConnectionPool, job.ID, "kiosk-2", true, "", now)
		assert.ErrorIs(t, err, ErrJobOwnershipMismatch)
	})

	t.Run("returns ErrJobNotInProgress for a pending job", func(t *testing.T) {
		DeleteAllFixtures(t, ctx, dbConnectionPool)
		CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-1")
		transaction := CreateTransactionFixture(t, ctx, dbConnectionPool, "kiosk-1", decimal.NewFromInt(5), 20, PaidTransactionStatus, now.Add(15*time.Minute))
		job := CreateDispenseJobFixture(t, ctx, dbConnectionPool, transaction.ID, "kiosk-1", 20, PendingDispenseJobStatus, 0)

		_, _, err := models.DispenseJobs.Complete(ctx, dbConnectionPool, job.ID, "kiosk-1", true, "", now)
		assert.ErrorIs(t, err, ErrJobNotInProgress)
	})

	t.Run("🎉 a success report completes the job and the transaction", func(t *testing.T) {
		transaction, job := setup(t, 1)

		updated, outcome, err := models.DispenseJobs.Complete(ctx, dbConnectionPool, job.ID, "kiosk-1", true, "", now)
		require.NoError(t, err)

		assert.Equal(t, SuccessCompleteOutcome, outcome)
		assert.Equal(t, CompletedDispenseJobStatus, updated.Status)
		require.NotNil(t, updated.CompletedAt)

		freshTx, err := models.Transactions.Get(ctx, dbConnectionPool, transaction.ID)
		require.NoError(t, err)
		assert.Equal(t, CompletedTransactionStatus, freshTx.Status)
		require.NotNil(t, freshTx.CompletedAt)

		events, err := models.TransactionEvents.ListByTransactionID(ctx, dbConnectionPool, transaction.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, TransactionCompletedEvent, events[0].EventKind)
	})

	t.Run("a failure with retry budget left requeues the job", func(t *testing.T) {
		transaction, job := setup(t, 0)

		updated, outcome, err := models.DispenseJobs.Complete(ctx, dbConnectionPool, job.ID, "kiosk-1", false, "hopper jam", now)
		require.NoError(t, err)

		assert.Equal(t, RetryCompleteOutcome, outcome)
		assert.Equal(t, PendingDispenseJobStatus, updated.Status)
		assert.Equal(t, 1, updated.Attempts)
		require.NotNil(t, updated.LastError)
		assert.Equal(t, "hopper jam", *updated.LastError)

		// The transaction stays in dispensing while retries are possible.
		freshTx, err := models.Transactions.Get(ctx, dbConnectionPool, transaction.ID)
		require.NoError(t, err)
		assert.Equal(t, DispensingTransactionStatus, freshTx.Status)

		events, err := models.TransactionEvents.ListByTransactionID(ctx, dbConnectionPool, transaction.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, DispenseRetryEvent, events[0].EventKind)
	})

	t.Run("a failure that exhausts the budget fails the job and the transaction", func(t *testing.T) {
		transaction, job := setup(t, 2)

		updated, outcome, err := models.DispenseJobs.Complete(ctx, dbConnectionPool, job.ID, "kiosk-1", false, "hopper empty", now)
		require.NoError(t, err)

		assert.Equal(t, FailedCompleteOutcome, outcome)
		assert.Equal(t, FailedDispenseJobStatus, updated.Status)
		assert.Equal(t, 3, updated.Attempts)

		freshTx, err := models.Transactions.Get(ctx, dbConnectionPool, transaction.ID)
		require.NoError(t, err)
		assert.Equal(t, FailedTransactionStatus, freshTx.Status)

		events, err := models.TransactionEvents.ListByTransactionID(ctx, dbConnectionPool, transaction.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, TransactionFailedEvent, events[0].EventKind)
	})

	t.Run("a repeated report for a terminal job is an acknowledged no-op", func(t *testing.T) {
		_, job := setup(t, 0)

		_, _, err := models.DispenseJobs.Complete(ctx, dbConnectionPool, job.ID, "kiosk-1", true, "", now)
		require.NoError(t, err)

		updated, outcome, err := models.DispenseJobs.Complete(ctx, dbConnectionPool, job.ID, "kiosk-1", false, "late duplicate", now)
		require.NoError(t, err)

		assert.Equal(t, SuccessCompleteOutcome, outcome)
		assert.Equal(t, CompletedDispenseJobStatus, updated.Status)

		// Still a single completed event.
		events, err := models.TransactionEvents.ListByTransactionID(ctx, dbConnectionPool, job.TransactionID)
		require.NoError(t, err)
		require.Len(t, events, 1)
	})
}

func Test_DispenseJobModel_ReviveStuck(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := NewModels(dbConnectionPool)
	require.NoError(t, err)

	now := time.Now()

	staleJob := func(t *testing.T, kioskID string, attempts int, age time.Duration) (*Transaction, *DispenseJob) {
		t.Helper()
		transaction := CreateTransactionFixture(t, ctx, dbConnectionPool, kioskID, decimal.NewFromInt(5), 20, DispensingTransactionStatus, now.Add(15*time.Minute))
		job := CreateDispenseJobFixture(t, ctx, dbConnectionPool, transaction.ID, kioskID, 20, InProgressDispenseJobStatus, attempts)
		_, err := dbConnectionPool.ExecContext(ctx, "UPDATE dispense_jobs SET last_attempt_at = $2 WHERE id = $1", job.ID, now.Add(-age))
		require.NoError(t, err)
		return transaction, job
	}

	CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-1")

	t.Run("🎉 requeues a stuck job, burning one attempt", func(t *testing.T) {
		defer DeleteAllFixtures(t, ctx, dbConnectionPool)
		CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-1")

		transaction, job := staleJob(t, "kiosk-1", 0, 5*time.Minute)

		count, err := models.DispenseJobs.ReviveStuck(ctx, dbConnectionPool, 2*time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		fresh, err := models.DispenseJobs.Get(ctx, dbConnectionPool, job.ID)
		require.NoError(t, err)
		assert.Equal(t, PendingDispenseJobStatus, fresh.Status)
		assert.Equal(t, 1, fresh.Attempts)

		events, err := models.TransactionEvents.ListByTransactionID(ctx, dbConnectionPool, transaction.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, LeaseRevivedEvent, events[0].EventKind)
	})

	t.Run("fails a stuck job that is out of attempts", func(t *testing.T) {
		defer DeleteAllFixtures(t, ctx, dbConnectionPool)
		CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-1")

		transaction, job := staleJob(t, "kiosk-1", 2, 5*time.Minute)

		count, err := models.DispenseJobs.ReviveStuck(ctx, dbConnectionPool, 2*time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		fresh, err := models.DispenseJobs.Get(ctx, dbConnectionPool, job.ID)
		require.NoError(t, err)
		assert.Equal(t, FailedDispenseJobStatus, fresh.Status)
		assert.Equal(t, 3, fresh.Attempts)

		freshTx, err := models.Transactions.Get(ctx, dbConnectionPool, transaction.ID)
		require.NoError(t, err)
		assert.Equal(t, FailedTransactionStatus, freshTx.Status)
	})

	t.Run("leaves recently leased jobs alone", func(t *testing.T) {
		defer DeleteAllFixtures(t, ctx, dbConnectionPool)
		CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-1")

		_, job := staleJob(t, "kiosk-1", 0, 30*time.Second)

		count, err := models.DispenseJobs.ReviveStuck(ctx, dbConnectionPool, 2*time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		fresh, err := models.DispenseJobs.Get(ctx, dbConnectionPool, job.ID)
		require.NoError(t, err)
		assert.Equal(t, InProgressDispenseJobStatus, fresh.Status)
	})
}
