package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stellar/go-stellar-sdk/support/log"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/data"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/monitor"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/utils"
)

// VerificationRejectedError is returned from Pay when the proof verifier said
// no (or could not be reached in time). The transaction stays pending and the
// payer may retry within the authorization window.
type VerificationRejectedError struct {
	Reason string
}

func (e *VerificationRejectedError) Error() string {
	return fmt.Sprintf("proof verification rejected: %s", e.Reason)
}

// InvalidAmountError is returned from CreateTransaction for amounts that are
// non-positive or above the per-transaction cap.
type InvalidAmountError struct {
	Message string
}

func (e *InvalidAmountError) Error() string {
	return e.Message
}

type TxCoordinatorOptions struct {
	// CoinValue is the fiat value of one physical coin.
	CoinValue decimal.Decimal
	// Fee is the flat service fee added on top of the requested amount.
	Fee decimal.Decimal
	// MaxAmount caps a single cash-out.
	MaxAmount decimal.Decimal
	// AuthWindow is how long a pending transaction stays payable.
	AuthWindow time.Duration
	// JobMaxAttempts is the dispense retry ceiling stamped onto every job.
	JobMaxAttempts int
	// PayerBaseURL is the wallet-facing page; the transaction id is appended
	// to it to form the QR code target.
	PayerBaseURL string
}

func (o TxCoordinatorOptions) Validate() error {
	if !o.CoinValue.IsPositive() {
		return fmt.Errorf("coin value must be greater than zero")
	}
	if o.Fee.IsNegative() {
		return fmt.Errorf("fee cannot be negative")
	}
	if !o.MaxAmount.IsPositive() {
		return fmt.Errorf("max amount must be greater than zero")
	}
	if o.AuthWindow <= 0 {
		return fmt.Errorf("auth window must be greater than zero")
	}
	if o.JobMaxAttempts <= 0 {
		return fmt.Errorf("job max attempts must be greater than zero")
	}
	if strings.TrimSpace(o.PayerBaseURL) == "" {
		return fmt.Errorf("payer base URL cannot be empty")
	}
	return nil
}

// TxCoordinator owns the customer-facing half of a cash-out: creating the
// pending transaction behind the QR code and settling the payment proof into
// a paid transaction with exactly one dispense job.
type TxCoordinator struct {
	Models         *data.Models
	Verifier       ProofVerifier
	MonitorService monitor.MonitorServiceInterface
	Options        TxCoordinatorOptions

	// nowFn and newIDFn default to the real clock and uuid generator; tests
	// override them to pin expiry boundaries and ids.
	nowFn   func() time.Time
	newIDFn func() string
}

func NewTxCoordinator(models *data.Models, verifier ProofVerifier, monitorService monitor.MonitorServiceInterface, opts TxCoordinatorOptions) (*TxCoordinator, error) {
	if models == nil {
		return nil, fmt.Errorf("models cannot be nil")
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier cannot be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("validating coordinator options: %w", err)
	}

	return &TxCoordinator{
		Models:         models,
		Verifier:       verifier,
		MonitorService: monitorService,
		Options:        opts,
		nowFn:          time.Now,
		newIDFn:        uuid.NewString,
	}, nil
}

// CreateTransaction opens a pending transaction for the kiosk. Coin count
// rounds the amount up to whole coins; the total charged to the payer is the
// amount plus the flat fee.
func (c *TxCoordinator) CreateTransaction(ctx context.Context, kioskID string, amount decimal.Decimal) (*data.Transaction, error) {
	if !amount.IsPositive() {
		return nil, &InvalidAmountError{Message: "amount must be greater than zero"}
	}
	if amount.GreaterThan(c.Options.MaxAmount) {
		return nil, &InvalidAmountError{Message: fmt.Sprintf("amount cannot exceed %s", c.Options.MaxAmount.StringFixed(2))}
	}

	coinCount, err := utils.CoinCount(amount, c.Options.CoinValue)
	if err != nil {
		return nil, fmt.Errorf("computing coin count: %w", err)
	}

	now := c.nowFn()
	transactionID := c.newIDFn()
	payerURL := fmt.Sprintf("%s/%s", strings.TrimRight(c.Options.PayerBaseURL, "/"), transactionID)

	transaction, err := db.RunInTransactionWithResult(ctx, c.Models.DBConnectionPool, db.SerializableTxOptions, func(dbTx db.DBTransaction) (*data.Transaction, error) {
		if _, touchErr := c.Models.Kiosks.Touch(ctx, dbTx, kioskID, now); touchErr != nil {
			return nil, fmt.Errorf("registering kiosk: %w", touchErr)
		}

		return c.Models.Transactions.Insert(ctx, dbTx, data.TransactionInsert{
			ID:        transactionID,
			KioskID:   kioskID,
			Amount:    amount,
			CoinCount: coinCount,
			Total:     utils.Total(amount, c.Options.Fee),
			PayerURL:  payerURL,
			ExpiresAt: now.Add(c.Options.AuthWindow),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("creating transaction: %w", err)
	}

	log.Ctx(ctx).Infof("created transaction %s for kiosk %s: %d coins, total %s",
		transaction.ID, kioskID, transaction.CoinCount, transaction.Total.StringFixed(2))

	if c.MonitorService != nil {
		if monitorErr := c.MonitorService.MonitorCounters(monitor.TransactionsCreatedCounterTag, nil); monitorErr != nil {
			log.Ctx(ctx).Errorf("monitoring transactions created counter: %v", monitorErr)
		}
	}

	return transaction, nil
}

type paySettlement struct {
	transaction *data.Transaction
	job         *data.DispenseJob
	replayed    bool
}

// Pay settles a payment proof. Verification happens before any database
// write; on acceptance the pending->paid flip and the job enqueue commit
// atomically, so a paid transaction always has exactly one job. A duplicate
// submission, whether a repeat against the same transaction or the same
// nullifier arriving from another device, resolves to the outcome of the
// settlement that consumed the nullifier first.
func (c *TxCoordinator) Pay(ctx context.Context, transactionID string, req VerificationRequest) (*data.Transaction, *data.DispenseJob, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, nil, fmt.Errorf("validating transaction id: %w", data.ErrMissingInput)
	}
	if strings.TrimSpace(req.NullifierHash) == "" {
		return nil, nil, fmt.Errorf("validating nullifier hash: %w", data.ErrMissingInput)
	}

	result, err := c.Verifier.VerifyProof(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("verifying proof for transaction %s: %w", transactionID, err)
	}
	if !result.Accepted {
		log.Ctx(ctx).Warnf("proof rejected for transaction %s: %s", transactionID, result.Reason)
		return nil, nil, &VerificationRejectedError{Reason: result.Reason}
	}

	now := c.nowFn()
	settlement, err := db.RunInTransactionWithResult(ctx, c.Models.DBConnectionPool, db.SerializableTxOptions, func(dbTx db.DBTransaction) (paySettlement, error) {
		paid, payErr := c.Models.Transactions.MarkPaid(ctx, dbTx, transactionID, req.NullifierHash, now)
		if payErr != nil {
			return paySettlement{}, payErr
		}

		job, jobErr := c.Models.DispenseJobs.Insert(ctx, dbTx, paid.ID, c.Options.JobMaxAttempts)
		if jobErr != nil {
			return paySettlement{}, fmt.Errorf("enqueueing dispense job: %w", jobErr)
		}

		return paySettlement{transaction: paid, job: job}, nil
	})
	if err != nil {
		// Resolution happens on fresh reads: a unique violation aborts the
		// database transaction it occurred in.
		settlement, err = c.resolveDuplicatePay(ctx, transactionID, req.NullifierHash, err)
		if err != nil {
			return nil, nil, fmt.Errorf("settling payment for transaction %s: %w", transactionID, err)
		}
	}

	if settlement.replayed {
		log.Ctx(ctx).Infof("duplicate pay submission resolved to transaction %s (status %s)",
			settlement.transaction.ID, settlement.transaction.Status)
		return settlement.transaction, settlement.job, nil
	}

	log.Ctx(ctx).Infof("transaction %s paid, job %s enqueued for kiosk %s",
		settlement.transaction.ID, settlement.job.ID, settlement.transaction.KioskID)

	if c.MonitorService != nil {
		if monitorErr := c.MonitorService.MonitorCounters(monitor.TransactionsPaidCounterTag, nil); monitorErr != nil {
			log.Ctx(ctx).Errorf("monitoring transactions paid counter: %v", monitorErr)
		}
	}

	return settlement.transaction, settlement.job, nil
}

// resolveDuplicatePay turns a MarkPaid conflict into the idempotent outcome of
// the settlement that won, when the submitted nullifier is the one bound to it.
// Any other conflict keeps its original error.
func (c *TxCoordinator) resolveDuplicatePay(ctx context.Context, transactionID, nullifierHash string, payErr error) (paySettlement, error) {
	sqlExec := c.Models.DBConnectionPool

	switch {
	case errors.Is(payErr, data.ErrNullifierReused):
		// The nullifier settled another transaction first; hand back that
		// transaction's outcome instead of an error.
		original, getErr := c.Models.Transactions.GetByNullifierHash(ctx, sqlExec, nullifierHash)
		if getErr != nil {
			return paySettlement{}, payErr
		}
		job, jobErr := c.Models.DispenseJobs.GetByTransactionID(ctx, sqlExec, original.ID)
		if jobErr != nil {
			return paySettlement{}, fmt.Errorf("resolving job for transaction %s: %w", original.ID, jobErr)
		}
		return paySettlement{transaction: original, job: job, replayed: true}, nil

	case errors.Is(payErr, data.ErrTransactionAlreadyProcessed):
		// A repeat of the submission that settled this very transaction is
		// acknowledged with the same outcome; a different proof against an
		// already-settled transaction stays a conflict.
		current, getErr := c.Models.Transactions.Get(ctx, sqlExec, transactionID)
		if getErr != nil {
			return paySettlement{}, payErr
		}
		if current.NullifierHash == nil || *current.NullifierHash != nullifierHash {
			return paySettlement{}, payErr
		}
		job, jobErr := c.Models.DispenseJobs.GetByTransactionID(ctx, sqlExec, current.ID)
		if jobErr != nil {
			return paySettlement{}, fmt.Errorf("resolving job for transaction %s: %w", current.ID, jobErr)
		}
		return paySettlement{transaction: current, job: job, replayed: true}, nil

	default:
		return paySettlement{}, payErr
	}
}

// GetTransaction returns the transaction for status polling.
func (c *TxCoordinator) GetTransaction(ctx context.Context, transactionID string) (*data.Transaction, error) {
	return c.Models.Transactions.Get(ctx, c.Models.DBConnectionPool, transactionID)
}

// ListTransactionEvents returns the audit trail of a transaction, oldest
// first. The transaction must exist.
func (c *TxCoordinator) ListTransactionEvents(ctx context.Context, transactionID string) ([]data.TransactionEvent, error) {
	if _, err := c.Models.Transactions.Get(ctx, c.Models.DBConnectionPool, transactionID); err != nil {
		return nil, err
	}
	return c.Models.TransactionEvents.ListByTransactionID(ctx, c.Models.DBConnectionPool, transactionID)
}
