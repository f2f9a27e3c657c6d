package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
)

// Transaction is one cash-out: a fiat amount authorized through the payer's
// proof and settled as a coin payout at a single kiosk.
type Transaction struct {
	ID            string            `json:"id" db:"id"`
	KioskID       string            `json:"kiosk_id" db:"kiosk_id"`
	Amount        decimal.Decimal   `json:"amount" db:"amount"`
	CoinCount     int               `json:"coin_count" db:"coin_count"`
	Total         decimal.Decimal   `json:"total" db:"total"`
	Status        TransactionStatus `json:"status" db:"status"`
	PayerURL      string            `json:"payer_url" db:"payer_url"`
	NullifierHash *string           `json:"nullifier_hash,omitempty" db:"nullifier_hash"`
	ExpiresAt     time.Time         `json:"expires_at" db:"expires_at"`
	PaidAt        *time.Time        `json:"paid_at,omitempty" db:"paid_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}

const transactionColumns = `
	id, kiosk_id, amount, coin_count, total, status, payer_url, nullifier_hash,
	expires_at, paid_at, completed_at, created_at, updated_at
`

type TransactionModel struct {
	dbConnectionPool db.DBConnectionPool
	events           *TransactionEventModel
}

type TransactionInsert struct {
	ID        string          `db:"id"`
	KioskID   string          `db:"kiosk_id"`
	Amount    decimal.Decimal `db:"amount"`
	CoinCount int             `db:"coin_count"`
	Total     decimal.Decimal `db:"total"`
	PayerURL  string          `db:"payer_url"`
	ExpiresAt time.Time       `db:"expires_at"`
}

func (t *TransactionInsert) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(t.KioskID) == "" {
		return fmt.Errorf("kiosk_id is required")
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("amount must be greater than zero")
	}
	if t.CoinCount <= 0 {
		return fmt.Errorf("coin_count must be greater than zero")
	}
	if !t.Total.IsPositive() {
		return fmt.Errorf("total must be greater than zero")
	}
	if strings.TrimSpace(t.PayerURL) == "" {
		return fmt.Errorf("payer_url is required")
	}
	if t.ExpiresAt.IsZero() {
		return fmt.Errorf("expires_at is required")
	}

	return nil
}

// Insert creates a pending transaction and its `created` audit entry.
func (m *TransactionModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert TransactionInsert) (*Transaction, error) {
	if err := insert.Validate(); err != nil {
		return nil, fmt.Errorf("validating transaction insert: %w", err)
	}

	// The id is generated by the caller so the payer URL can embed it before
	// the row exists.
	const query = `
		INSERT INTO transactions
			(id, kiosk_id, amount, coin_count, total, payer_url, expires_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)
		RETURNING
	` + transactionColumns

	var transaction Transaction
	err := sqlExec.GetContext(ctx, &transaction, query,
		insert.ID, insert.KioskID, insert.Amount, insert.CoinCount, insert.Total, insert.PayerURL, insert.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("inserting transaction: %w", err)
	}

	_, err = m.events.Insert(ctx, sqlExec, TransactionEventInsert{
		TransactionID: transaction.ID,
		KioskID:       transaction.KioskID,
		EventKind:     TransactionCreatedEvent,
		Payload: map[string]any{
			"amount":     transaction.Amount.String(),
			"coin_count": transaction.CoinCount,
			"total":      transaction.Total.String(),
			"expires_at": transaction.ExpiresAt,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("recording created event: %w", err)
	}

	return &transaction, nil
}

func (m *TransactionModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	var transaction Transaction
	err := sqlExec.GetContext(ctx, &transaction, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying transaction %s: %w", id, err)
	}

	return &transaction, nil
}

// GetByNullifierHash is used to resolve duplicate pay submissions to the
// transaction that consumed the nullifier first.
func (m *TransactionModel) GetByNullifierHash(ctx context.Context, sqlExec db.SQLExecuter, nullifierHash string) (*Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions WHERE nullifier_hash = $1`

	var transaction Transaction
	err := sqlExec.GetContext(ctx, &transaction, query, nullifierHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying transaction by nullifier: %w", err)
	}

	return &transaction, nil
}

// MarkPaid flips pending -> paid, binding the nullifier to the row. It only
// succeeds while the authorization window is open, and must run in the same
// database transaction as the job enqueue so that a paid transaction without a
// job is impossible.
func (m *TransactionModel) MarkPaid(ctx context.Context, sqlExec db.SQLExecuter, id, nullifierHash string, now time.Time) (*Transaction, error) {
	if strings.TrimSpace(nullifierHash) == "" {
		return nil, fmt.Errorf("validating nullifier: %w", ErrMissingInput)
	}

	const query = `
		UPDATE transactions
		SET
			status = 'paid',
			nullifier_hash = $2,
			paid_at = $3
		WHERE
			id = $1
			AND status = 'pending'
			AND expires_at > $3
		RETURNING
	` + transactionColumns

	var transaction Transaction
	err := sqlExec.GetContext(ctx, &transaction, query, id, nullifierHash, now)
	if err == nil {
		_, eventErr := m.events.Insert(ctx, sqlExec, TransactionEventInsert{
			TransactionID: transaction.ID,
			KioskID:       transaction.KioskID,
			EventKind:     TransactionPaidEvent,
			Payload:       map[string]any{"nullifier_hash": nullifierHash},
		})
		if eventErr != nil {
			return nil, fmt.Errorf("recording paid event: %w", eventErr)
		}
		return &transaction, nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return nil, ErrNullifierReused
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("marking transaction %s paid: %w", id, err)
	}

	// The guarded update matched nothing; inspect the row to report why. A row
	// that could still legally move to paid was stopped only by the closed
	// authorization window.
	current, getErr := m.Get(ctx, sqlExec, id)
	if getErr != nil {
		return nil, getErr
	}
	stateMachine := TransactionStateMachineWithInitialState(current.Status)
	switch {
	case stateMachine.CanTransitionTo(PaidTransactionStatus.State()) || current.Status == ExpiredTransactionStatus:
		return nil, ErrTransactionExpired
	default:
		return nil, ErrTransactionAlreadyProcessed
	}
}

// SweepExpired marks every pending transaction past its authorization window
// as expired, recording one `expired` event per row. Returns the number of
// transactions swept.
func (m *TransactionModel) SweepExpired(ctx context.Context, sqlExec db.SQLExecuter, now time.Time) (int, error) {
	const query = `
		UPDATE transactions
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at < $1
		RETURNING id, kiosk_id, expires_at
	`

	var swept []struct {
		ID        string    `db:"id"`
		KioskID   string    `db:"kiosk_id"`
		ExpiresAt time.Time `db:"expires_at"`
	}
	err := sqlExec.SelectContext(ctx, &swept, query, now)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired transactions: %w", err)
	}

	for _, row := range swept {
		_, err = m.events.Insert(ctx, sqlExec, TransactionEventInsert{
			TransactionID: row.ID,
			KioskID:       row.KioskID,
			EventKind:     TransactionExpiredEvent,
			Payload:       map[string]any{"expires_at": row.ExpiresAt},
		})
		if err != nil {
			return 0, fmt.Errorf("recording expired event for transaction %s: %w", row.ID, err)
		}
	}

	return len(swept), nil
}
