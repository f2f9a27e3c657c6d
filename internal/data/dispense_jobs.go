package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
)

// DispenseJob is the unit of work handed to a kiosk's agent: pay out
// coin_count coins for one paid transaction. Kiosk id and coin count are
// copied from the transaction at enqueue time and never change afterwards.
type DispenseJob struct {
	ID            string            `json:"id" db:"id"`
	TransactionID string            `json:"transaction_id" db:"transaction_id"`
	KioskID       string            `json:"kiosk_id" db:"kiosk_id"`
	CoinCount     int               `json:"coin_count" db:"coin_count"`
	Status        DispenseJobStatus `json:"status" db:"status"`
	Attempts      int               `json:"attempts" db:"attempts"`
	MaxAttempts   int               `json:"max_attempts" db:"max_attempts"`
	LastError     *string           `json:"last_error,omitempty" db:"last_error"`
	LastAttemptAt *time.Time        `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}

const dispenseJobColumns = `
	id, transaction_id, kiosk_id, coin_count, status, attempts, max_attempts,
	last_error, last_attempt_at, completed_at, created_at, updated_at
`

// CompleteOutcome is what a report settles to, and what the agent is told.
type CompleteOutcome string

const (
	SuccessCompleteOutcome CompleteOutcome = "success"
	RetryCompleteOutcome   CompleteOutcome = "retry"
	FailedCompleteOutcome  CompleteOutcome = "failed"
)

type DispenseJobModel struct {
	dbConnectionPool db.DBConnectionPool
	events           *TransactionEventModel
}

// Insert enqueues a job for a paid transaction, copying kiosk id and coin
// count from the transaction row. It must run in the same database transaction
// as MarkPaid.
func (m *DispenseJobModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, transactionID string, maxAttempts int) (*DispenseJob, error) {
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be greater than zero")
	}

	const query = `
		INSERT INTO dispense_jobs
			(transaction_id, kiosk_id, coin_count, max_attempts)
		SELECT
			t.id, t.kiosk_id, t.coin_count, $2
		FROM
			transactions t
		WHERE
			t.id = $1
		RETURNING
	` + dispenseJobColumns

	var job DispenseJob
	err := sqlExec.GetContext(ctx, &job, query, transactionID, maxAttempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("inserting dispense job for transaction %s: %w", transactionID, err)
	}

	_, err = m.events.Insert(ctx, sqlExec, TransactionEventInsert{
		TransactionID: job.TransactionID,
		JobID:         &job.ID,
		KioskID:       job.KioskID,
		EventKind:     JobEnqueuedEvent,
		Payload:       map[string]any{"coin_count": job.CoinCount, "max_attempts": job.MaxAttempts},
	})
	if err != nil {
		return nil, fmt.Errorf("recording job_enqueued event: %w", err)
	}

	return &job, nil
}

func (m *DispenseJobModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*DispenseJob, error) {
	const query = `SELECT ` + dispenseJobColumns + ` FROM dispense_jobs WHERE id = $1`

	var job DispenseJob
	err := sqlExec.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying dispense job %s: %w", id, err)
	}

	return &job, nil
}

func (m *DispenseJobModel) GetByTransactionID(ctx context.Context, sqlExec db.SQLExecuter, transactionID string) (*DispenseJob, error) {
	const query = `SELECT ` + dispenseJobColumns + ` FROM dispense_jobs WHERE transaction_id = $1`

	var job DispenseJob
	err := sqlExec.GetContext(ctx, &job, query, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying dispense job by transaction %s: %w", transactionID, err)
	}

	return &job, nil
}

// LeaseNext hands out at most one job for the kiosk. If the kiosk already
// holds an in-progress job (it missed a reply and polled again) that same job
// is returned, so the agent's dedupe-by-id is sufficient. Otherwise the oldest
// leasable pending job is flipped to in_progress; the partial unique index on
// (kiosk_id) WHERE in_progress makes a second concurrent lease impossible.
// Returns ErrRecordNotFound when there is nothing to lease.
func (m *DispenseJobModel) LeaseNext(ctx context.Context, sqlExec db.SQLExecuter, kioskID string, now time.Time) (*DispenseJob, error) {
	const inFlightQuery = `SELECT ` + dispenseJobColumns + ` FROM dispense_jobs WHERE kiosk_id = $1 AND status = 'in_progress'`

	var job DispenseJob
	err := sqlExec.GetContext(ctx, &job, inFlightQuery, kioskID)
	if err == nil {
		return &job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying in-progress job for kiosk %s: %w", kioskID, err)
	}

	const leaseQuery = `
		UPDATE dispense_jobs
		SET
			status = 'in_progress',
			last_attempt_at = $2
		WHERE id = (
			SELECT id
			FROM dispense_jobs
			WHERE kiosk_id = $1 AND status = 'pending' AND attempts < max_attempts
			ORDER BY created_at ASC
			LIMIT 1
		)
		RETURNING
	` + dispenseJobColumns

	err = sqlExec.GetContext(ctx, &job, leaseQuery, kioskID, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("leasing next job for kiosk %s: %w", kioskID, err)
	}

	// paid -> dispensing is driven by the lease; later re-leases of the same
	// job find the transaction already in dispensing and leave it alone.
	_, err = sqlExec.ExecContext(ctx, `UPDATE transactions SET status = 'dispensing' WHERE id = $1 AND status = 'paid'`, job.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("moving transaction %s to dispensing: %w", job.TransactionID, err)
	}

	_, err = m.events.Insert(ctx, sqlExec, TransactionEventInsert{
		TransactionID: job.TransactionID,
		JobID:         &job.ID,
		KioskID:       job.KioskID,
		EventKind:     JobLeasedEvent,
		Payload:       map[string]any{"attempts": job.Attempts},
	})
	if err != nil {
		return nil, fmt.Errorf("recording job_leased event: %w", err)
	}

	return &job, nil
}

// Complete settles an in-progress job from an agent report. Terminal jobs are
// immutable; a repeated report for one is acknowledged as a no-op with the
// outcome it originally settled to.
func (m *DispenseJobModel) Complete(ctx context.Context, sqlExec db.SQLExecuter, jobID, kioskID string, success bool, errorText string, now time.Time) (*DispenseJob, CompleteOutcome, error) {
	const query = `SELECT ` + dispenseJobColumns + ` FROM dispense_jobs WHERE id = $1 FOR UPDATE`

	var job DispenseJob
	err := sqlExec.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrRecordNotFound
		}
		return nil, "", fmt.Errorf("querying dispense job %s: %w", jobID, err)
	}

	if job.KioskID != kioskID {
		return nil, "", ErrJobOwnershipMismatch
	}

	switch job.Status {
	case CompletedDispenseJobStatus:
		return &job, SuccessCompleteOutcome, nil
	case FailedDispenseJobStatus:
		return &job, FailedCompleteOutcome, nil
	case InProgressDispenseJobStatus:
		// fallthrough to settle below
	default:
		return nil, "", ErrJobNotInProgress
	}

	if success {
		return m.settleSuccess(ctx, sqlExec, job, now)
	}
	return m.settleFailure(ctx, sqlExec, job, errorText, now)
}

func (m *DispenseJobModel) settleSuccess(ctx context.Context, sqlExec db.SQLExecuter, job DispenseJob, now time.Time) (*DispenseJob, CompleteOutcome, error) {
	if err := job.Status.TransitionTo(CompletedDispenseJobStatus); err != nil {
		return nil, "", fmt.Errorf("validating transition for job %s: %w", job.ID, err)
	}

	const query = `
		UPDATE dispense_jobs
		SET status = 'completed', completed_at = $2, last_error = NULL
		WHERE id = $1
		RETURNING
	` + dispenseJobColumns

	var updated DispenseJob
	err := sqlExec.GetContext(ctx, &updated, query, job.ID, now)
	if err != nil {
		return nil, "", fmt.Errorf("completing dispense job %s: %w", job.ID, err)
	}

	_, err = sqlExec.ExecContext(ctx, `UPDATE transactions SET status = 'completed', completed_at = $2 WHERE id = $1`, job.TransactionID, now)
	if err != nil {
		return nil, "", fmt.Errorf("completing transaction %s: %w", job.TransactionID, err)
	}

	_, err = m.events.Insert(ctx, sqlExec, TransactionEventInsert{
		TransactionID: updated.TransactionID,
		JobID:         &updated.ID,
		KioskID:       updated.KioskID,
		EventKind:     TransactionCompletedEvent,
		Payload:       map[string]any{"attempts": updated.Attempts, "coin_count": updated.CoinCount},
	})
	if err != nil {
		return nil, "", fmt.Errorf("recording completed event: %w", err)
	}

	return &updated, SuccessCompleteOutcome, nil
}

func (m *DispenseJobModel) settleFailure(ctx context.Context, sqlExec db.SQLExecuter, job DispenseJob, errorText string, now time.Time) (*DispenseJob, CompleteOutcome, error) {
	newAttempts := job.Attempts + 1

	if newAttempts < job.MaxAttempts {
		if err := job.Status.TransitionTo(PendingDispenseJobStatus); err != nil {
			return nil, "", fmt.Errorf("validating transition for job %s: %w", job.ID, err)
		}

		const query = `
			UPDATE dispense_jobs
			SET status = 'pending', attempts = $2, last_error = $3
			WHERE id = $1
			RETURNING
		` + dispenseJobColumns

		var updated DispenseJob
		err := sqlExec.GetContext(ctx, &updated, query, job.ID, newAttempts, errorText)
		if err != nil {
			return nil, "", fmt.Errorf("requeueing dispense job %s: %w", job.ID, err)
		}

		_, err = m.events.Insert(ctx, sqlExec, TransactionEventInsert{
			TransactionID: updated.TransactionID,
			JobID:         &updated.ID,
			KioskID:       updated.KioskID,
			EventKind:     DispenseRetryEvent,
			Payload:       map[string]any{"attempts": updated.Attempts, "error": errorText},
		})
		if err != nil {
			return nil, "", fmt.Errorf("recording dispense_retry event: %w", err)
		}

		return &updated, RetryCompleteOutcome, nil
	}

	if err := job.Status.TransitionTo(FailedDispenseJobStatus); err != nil {
		return nil, "", fmt.Errorf("validating transition for job %s: %w", job.ID, err)
	}

	const query = `
		UPDATE dispense_jobs
		SET status = 'failed', attempts = $2, last_error = $3, completed_at = $4
		WHERE id = $1
		RETURNING
	` + dispenseJobColumns

	var updated DispenseJob
	err := sqlExec.GetContext(ctx, &updated, query, job.ID, newAttempts, errorText, now)
	if err != nil {
		return nil, "", fmt.Errorf("failing dispense job %s: %w", job.ID, err)
	}

	_, err = sqlExec.ExecContext(ctx, `UPDATE transactions SET status = 'failed' WHERE id = $1`, job.TransactionID)
	if err != nil {
		return nil, "", fmt.Errorf("failing transaction %s: %w", job.TransactionID, err)
	}

	_, err = m.events.Insert(ctx, sqlExec, TransactionEventInsert{
		TransactionID: updated.TransactionID,
		JobID:         &updated.ID,
		KioskID:       updated.KioskID,
		EventKind:     TransactionFailedEvent,
		Payload:       map[string]any{"attempts": updated.Attempts, "error": errorText},
	})
	if err != nil {
		return nil, "", fmt.Errorf("recording failed event: %w", err)
	}

	return &updated, FailedCompleteOutcome, nil
}

// ReviveStuck resurrects in-progress jobs whose last attempt is older than
// maxAge, meaning the agent's outcome report was lost. Each revival burns one
// attempt; jobs out of budget fail terminally along with their transaction.
// Returns the number of jobs touched.
func (m *DispenseJobModel) ReviveStuck(ctx context.Context, sqlExec db.SQLExecuter, maxAge time.Duration, now time.Time) (int, error) {
	const query = `
		SELECT ` + dispenseJobColumns + `
		FROM dispense_jobs
		WHERE status = 'in_progress' AND last_attempt_at < $1
		ORDER BY last_attempt_at ASC
		FOR UPDATE
	`

	stuck := []DispenseJob{}
	err := sqlExec.SelectContext(ctx, &stuck, query, now.Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("querying stuck dispense jobs: %w", err)
	}

	for _, job := range stuck {
		newAttempts := job.Attempts + 1
		errorText := fmt.Sprintf("lease expired after %s without a report", maxAge)

		if newAttempts < job.MaxAttempts {
			_, err = sqlExec.ExecContext(ctx,
				`UPDATE dispense_jobs SET status = 'pending', attempts = $2, last_error = $3 WHERE id = $1`,
				job.ID, newAttempts, errorText)
			if err != nil {
				return 0, fmt.Errorf("reviving dispense job %s: %w", job.ID, err)
			}

			_, err = m.events.Insert(ctx, sqlExec, TransactionEventInsert{
				TransactionID: job.TransactionID,
				JobID:         &job.ID,
				KioskID:       job.KioskID,
				EventKind:     LeaseRevivedEvent,
				Payload:       map[string]any{"attempts": newAttempts, "error": errorText},
			})
			if err != nil {
				return 0, fmt.Errorf("recording lease_revived event: %w", err)
			}
			continue
		}

		_, err = sqlExec.ExecContext(ctx,
			`UPDATE dispense_jobs SET status = 'failed', attempts = $2, last_error = $3, completed_at = $4 WHERE id = $1`,
			job.ID, newAttempts, errorText, now)
		if err != nil {
			return 0, fmt.Errorf("failing stuck dispense job %s: %w", job.ID, err)
		}

		_, err = sqlExec.ExecContext(ctx, `UPDATE transactions SET status = 'failed' WHERE id = $1`, job.TransactionID)
		if err != nil {
			return 0, fmt.Errorf("failing transaction %s: %w", job.TransactionID, err)
		}

		_, err = m.events.Insert(ctx, sqlExec, TransactionEventInsert{
			TransactionID: job.TransactionID,
			JobID:         &job.ID,
			KioskID:       job.KioskID,
			EventKind:     TransactionFailedEvent,
			Payload:       map[string]any{"attempts": newAttempts, "error": errorText},
		})
		if err != nil {
			return 0, fmt.Errorf("recording failed event: %w", err)
		}
	}

	return len(stuck), nil
}
