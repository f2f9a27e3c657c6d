package data

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
)

func CreateKioskFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, kioskID string) *Kiosk {
	t.Helper()

	const query = `
		INSERT INTO kiosks
			(id, status, last_seen_at)
		VALUES
			($1, 'active', NOW())
		RETURNING
			id, status, last_seen_at, created_at, updated_at
	`

	var kiosk Kiosk
	err := sqlExec.GetContext(ctx, &kiosk, query, kioskID)
	require.NoError(t, err)

	return &kiosk
}

func CreateTransactionFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, kioskID string, amount decimal.Decimal, coinCount int, status TransactionStatus, expiresAt time.Time) *Transaction {
	t.Helper()

	total := amount.Add(decimal.NewFromFloat(0.50))

	const query = `
		INSERT INTO transactions
			(kiosk_id, amount, coin_count, total, status, payer_url, expires_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)
		RETURNING
	` + transactionColumns

	var transaction Transaction
	err := sqlExec.GetContext(ctx, &transaction, query,
		kioskID, amount, coinCount, total, status, "https://pay.example.com/tx/"+kioskID, expiresAt)
	require.NoError(t, err)

	return &transaction
}

func CreateDispenseJobFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, transactionID, kioskID string, coinCount int, status DispenseJobStatus, attempts int) *DispenseJob {
	t.Helper()

	const query = `
		INSERT INTO dispense_jobs
			(transaction_id, kiosk_id, coin_count, status, attempts, last_attempt_at)
		VALUES
			($1, $2, $3, $4, $5, NOW())
		RETURNING
	` + dispenseJobColumns

	var job DispenseJob
	err := sqlExec.GetContext(ctx, &job, query, transactionID, kioskID, coinCount, status, attempts)
	require.NoError(t, err)

	return &job
}

func DeleteAllKiosksFixtures(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter) {
	t.Helper()
	_, err := sqlExec.ExecContext(ctx, "DELETE FROM kiosks")
	require.NoError(t, err)
}

func DeleteAllTransactionsFixtures(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter) {
	t.Helper()
	_, err := sqlExec.ExecContext(ctx, "DELETE FROM transactions")
	require.NoError(t, err)
}

func DeleteAllDispenseJobsFixtures(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter) {
	t.Helper()
	_, err := sqlExec.ExecContext(ctx, "DELETE FROM dispense_jobs")
	require.NoError(t, err)
}

func DeleteAllTransactionEventsFixtures(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter) {
	t.Helper()
	_, err := sqlExec.ExecContext(ctx, "DELETE FROM transaction_events")
	require.NoError(t, err)
}

// DeleteAllFixtures clears every table respecting foreign keys.
func DeleteAllFixtures(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter) {
	t.Helper()
	DeleteAllTransactionEventsFixtures(t, ctx, sqlExec)
	DeleteAllDispenseJobsFixtures(t, ctx, sqlExec)
	DeleteAllTransactionsFixtures(t, ctx, sqlExec)
	DeleteAllKiosksFixtures(t, ctx, sqlExec)
}
