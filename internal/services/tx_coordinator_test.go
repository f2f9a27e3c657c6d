package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
	"github.com/abdulrahimiqbal/RoluATM-sub000/db/dbtest"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/data"
)

func newTestCoordinator(t *testing.T, dbConnectionPool db.DBConnectionPool, verifier ProofVerifier) (*TxCoordinator, *data.Models) {
	t.Helper()

	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	coordinator, err := NewTxCoordinator(models, verifier, nil, TxCoordinatorOptions{
		CoinValue:      decimal.NewFromFloat(0.25),
		Fee:            decimal.NewFromFloat(0.50),
		MaxAmount:      decimal.NewFromInt(500),
		AuthWindow:     15 * time.Minute,
		JobMaxAttempts: 3,
		PayerBaseURL:   "https://pay.example.com/t",
	})
	require.NoError(t, err)

	return coordinator, models
}

func Test_TxCoordinator_CreateTransaction(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	coordinator, models := newTestCoordinator(t, dbConnectionPool, AlwaysAcceptVerifier{})

	t.Run("rejects a non-positive amount", func(t *testing.T) {
		_, err := coordinator.CreateTransaction(ctx, "kiosk-1", decimal.Zero)
		var invalidAmountErr *InvalidAmountError
		assert.ErrorAs(t, err, &invalidAmountErr)
	})

	t.Run("rejects an amount above the cap", func(t *testing.T) {
		_, err := coordinator.CreateTransaction(ctx, "kiosk-1", decimal.NewFromFloat(500.01))
		var invalidAmountErr *InvalidAmountError
		assert.ErrorAs(t, err, &invalidAmountErr)
		assert.ErrorContains(t, err, "cannot exceed 500.00")
	})

	t.Run("🎉 creates a pending transaction, registering the kiosk", func(t *testing.T) {
		transaction, err := coordinator.CreateTransaction(ctx, "kiosk-1", decimal.NewFromFloat(5.10))
		require.NoError(t, err)

		assert.Equal(t, data.PendingTransactionStatus, transaction.Status)
		assert.Equal(t, 21, transaction.CoinCount)
		assert.True(t, transaction.Total.Equal(decimal.NewFromFloat(5.60)))
		assert.Equal(t, "https://pay.example.com/t/"+transaction.ID, transaction.PayerURL)
		assert.WithinDuration(t, time.Now().Add(15*time.Minute), transaction.ExpiresAt, 5*time.Second)

		kiosk, err := models.Kiosks.Get(ctx, dbConnectionPool, "kiosk-1")
		require.NoError(t, err)
		assert.Equal(t, data.ActiveKioskStatus, kiosk.Status)
	})
}

func Test_TxCoordinator_Pay(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()

	proofReq := VerificationRequest{
		Proof:         "0xproof",
		NullifierHash: "0xnullifier-1",
		MerkleRoot:    "0xroot",
	}

	t.Run("🎉 verifies, marks paid and enqueues exactly one job", func(t *testing.T) {
		verifier := &MockProofVerifier{}
		verifier.
			On("VerifyProof", ctx, proofReq).
			Return(VerificationResult{Accepted: true}, nil).
			Once()
		defer verifier.AssertExpectations(t)

		coordinator, models := newTestCoordinator(t, dbConnectionPool, verifier)
		transaction, err := coordinator.CreateTransaction(ctx, "kiosk-1", decimal.NewFromInt(5))
		require.NoError(t, err)

		paid, job, err := coordinator.Pay(ctx, transaction.ID, proofReq)
		require.NoError(t, err)
		assert.Equal(t, data.PaidTransactionStatus, paid.Status)
		require.NotNil(t, paid.NullifierHash)
		assert.Equal(t, "0xnullifier-1", *paid.NullifierHash)

		require.NotNil(t, job)
		assert.Equal(t, data.PendingDispenseJobStatus, job.Status)
		assert.Equal(t, transaction.CoinCount, job.CoinCount)
		assert.Equal(t, 3, job.MaxAttempts)

		stored, err := models.DispenseJobs.GetByTransactionID(ctx, dbConnectionPool, transaction.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, stored.ID)
	})

	t.Run("a rejected proof leaves the transaction pending", func(t *testing.T) {
		verifier := &MockProofVerifier{}
		verifier.
			On("VerifyProof", ctx, mock.AnythingOfType("services.VerificationRequest")).
			Return(VerificationResult{Accepted: false, Reason: "invalid proof"}, nil).
			Once()
		defer verifier.AssertExpectations(t)

		coordinator, models := newTestCoordinator(t, dbConnectionPool, verifier)
		transaction, err := coordinator.CreateTransaction(ctx, "kiosk-1", decimal.NewFromInt(5))
		require.NoError(t, err)

		_, _, err = coordinator.Pay(ctx, transaction.ID, VerificationRequest{Proof: "0xbad", NullifierHash: "0xnullifier-2"})
		var rejectedErr *VerificationRejectedError
		require.ErrorAs(t, err, &rejectedErr)
		assert.Equal(t, "invalid proof", rejectedErr.Reason)

		fresh, err := models.Transactions.Get(ctx, dbConnectionPool, transaction.ID)
		require.NoError(t, err)
		assert.Equal(t, data.PendingTransactionStatus, fresh.Status)

		_, err = models.DispenseJobs.GetByTransactionID(ctx, dbConnectionPool, transaction.ID)
		assert.ErrorIs(t, err, data.ErrRecordNotFound)
	})

	t.Run("🎉 a repeated submission settles idempotently to the same outcome", func(t *testing.T) {
		coordinator, _ := newTestCoordinator(t, dbConnectionPool, AlwaysAcceptVerifier{})
		transaction, err := coordinator.CreateTransaction(ctx, "kiosk-1", decimal.NewFromInt(5))
		require.NoError(t, err)

		submission := VerificationRequest{Proof: "0xproof", NullifierHash: "0xnullifier-3"}
		firstTx, firstJob, err := coordinator.Pay(ctx, transaction.ID, submission)
		require.NoError(t, err)

		replayTx, replayJob, err := coordinator.Pay(ctx, transaction.ID, submission)
		require.NoError(t, err)
		assert.Equal(t, firstTx.ID, replayTx.ID)
		assert.Equal(t, data.PaidTransactionStatus, replayTx.Status)
		assert.Equal(t, firstJob.ID, replayJob.ID)
	})

	t.Run("a different proof against a settled transaction is a conflict", func(t *testing.T) {
		coordinator, _ := newTestCoordinator(t, dbConnectionPool, AlwaysAcceptVerifier{})
		transaction, err := coordinator.CreateTransaction(ctx, "kiosk-1", decimal.NewFromInt(5))
		require.NoError(t, err)

		_, _, err = coordinator.Pay(ctx, transaction.ID, VerificationRequest{Proof: "0xproof", NullifierHash: "0xnullifier-4"})
		require.NoError(t, err)

		_, _, err = coordinator.Pay(ctx, transaction.ID, VerificationRequest{Proof: "0xproof", NullifierHash: "0xnullifier-4b"})
		assert.ErrorIs(t, err, data.ErrTransactionAlreadyProcessed)
	})

	t.Run("🎉 a reused nullifier resolves to the transaction it settled first", func(t *testing.T) {
		coordinator, _ := newTestCoordinator(t, dbConnectionPool, AlwaysAcceptVerifier{})

		first, err := coordinator.CreateTransaction(ctx, "kiosk-1", decimal.NewFromInt(5))
		require.NoError(t, err)
		second, err := coordinator.CreateTransaction(ctx, "kiosk-1", decimal.NewFromInt(5))
		require.NoError(t, err)

		submission := VerificationRequest{Proof: "0xproof", NullifierHash: "0xnullifier-5"}
		firstTx, firstJob, err := coordinator.Pay(ctx, first.ID, submission)
		require.NoError(t, err)

		resolvedTx, resolvedJob, err := coordinator.Pay(ctx, second.ID, submission)
		require.NoError(t, err)
		assert.Equal(t, firstTx.ID, resolvedTx.ID)
		assert.Equal(t, firstJob.ID, resolvedJob.ID)

		// The losing transaction stays pending; its coins were never owed.
		fresh, err := coordinator.GetTransaction(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, data.PendingTransactionStatus, fresh.Status)
	})

	t.Run("an expired transaction cannot be paid", func(t *testing.T) {
		coordinator, models := newTestCoordinator(t, dbConnectionPool, AlwaysAcceptVerifier{})

		_, err := models.Kiosks.Touch(ctx, dbConnectionPool, "kiosk-1", time.Now())
		require.NoError(t, err)
		transaction := data.CreateTransactionFixture(t, ctx, dbConnectionPool, "kiosk-1", decimal.NewFromInt(5), 20, data.PendingTransactionStatus, time.Now().Add(-time.Minute))

		_, _, err = coordinator.Pay(ctx, transaction.ID, VerificationRequest{Proof: "0xproof", NullifierHash: "0xnullifier-6"})
		assert.ErrorIs(t, err, data.ErrTransactionExpired)
	})

	t.Run("the authorization window is measured by the coordinator clock", func(t *testing.T) {
		coordinator, _ := newTestCoordinator(t, dbConnectionPool, AlwaysAcceptVerifier{})
		transaction, err := coordinator.CreateTransaction(ctx, "kiosk-1", decimal.NewFromInt(5))
		require.NoError(t, err)

		coordinator.nowFn = func() time.Time { return time.Now().Add(16 * time.Minute) }
		_, _, err = coordinator.Pay(ctx, transaction.ID, VerificationRequest{Proof: "0xproof", NullifierHash: "0xnullifier-7"})
		assert.ErrorIs(t, err, data.ErrTransactionExpired)
	})
}

func Test_TxCoordinator_ListTransactionEvents(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	coordinator, _ := newTestCoordinator(t, dbConnectionPool, AlwaysAcceptVerifier{})

	t.Run("returns ErrRecordNotFound for an unknown transaction", func(t *testing.T) {
		_, err := coordinator.ListTransactionEvents(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, data.ErrRecordNotFound)
	})

	t.Run("🎉 returns the audit trail oldest first", func(t *testing.T) {
		transaction, err := coordinator.CreateTransaction(ctx, "kiosk-1", decimal.NewFromInt(5))
		require.NoError(t, err)
		_, _, err = coordinator.Pay(ctx, transaction.ID, VerificationRequest{Proof: "0xproof", NullifierHash: "0xnullifier-events"})
		require.NoError(t, err)

		events, err := coordinator.ListTransactionEvents(ctx, transaction.ID)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, data.TransactionCreatedEvent, events[0].EventKind)
		assert.Equal(t, data.TransactionPaidEvent, events[1].EventKind)
		assert.Equal(t, data.JobEnqueuedEvent, events[2].EventKind)
	})
}
