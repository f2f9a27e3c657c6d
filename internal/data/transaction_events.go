package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
)

// EventKind labels an entry of the append-only audit trail. One is written,
// atomically, for every transaction or job status change.
type EventKind string

const (
	TransactionCreatedEvent   EventKind = "created"
	TransactionPaidEvent      EventKind = "paid"
	TransactionExpiredEvent   EventKind = "expired"
	TransactionCompletedEvent EventKind = "completed"
	TransactionFailedEvent    EventKind = "failed"
	JobEnqueuedEvent          EventKind = "job_enqueued"
	JobLeasedEvent            EventKind = "job_leased"
	DispenseRetryEvent        EventKind = "dispense_retry"
	LeaseRevivedEvent         EventKind = "lease_revived"
)

type TransactionEvent struct {
	ID            string         `json:"id" db:"id"`
	TransactionID string         `json:"transaction_id" db:"transaction_id"`
	JobID         *string        `json:"job_id,omitempty" db:"job_id"`
	KioskID       string         `json:"kiosk_id" db:"kiosk_id"`
	EventKind     EventKind      `json:"event_kind" db:"event_kind"`
	Payload       types.JSONText `json:"payload" db:"payload"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

type TransactionEventModel struct {
	dbConnectionPool db.DBConnectionPool
}

type TransactionEventInsert struct {
	TransactionID string
	JobID         *string
	KioskID       string
	EventKind     EventKind
	Payload       map[string]any
}

// Insert appends an audit entry. It must be called with the same SQLExecuter
// (usually a DBTransaction) that performed the status change it records.
func (m *TransactionEventModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert TransactionEventInsert) (*TransactionEvent, error) {
	if insert.TransactionID == "" || insert.KioskID == "" || insert.EventKind == "" {
		return nil, fmt.Errorf("validating event: %w", ErrMissingInput)
	}

	payload := insert.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling event payload: %w", err)
	}

	const query = `
		INSERT INTO transaction_events
			(transaction_id, job_id, kiosk_id, event_kind, payload)
		VALUES
			($1, $2, $3, $4, $5)
		RETURNING
			id, transaction_id, job_id, kiosk_id, event_kind, payload, created_at
	`

	var event TransactionEvent
	err = sqlExec.GetContext(ctx, &event, query, insert.TransactionID, insert.JobID, insert.KioskID, insert.EventKind, types.JSONText(payloadJSON))
	if err != nil {
		return nil, fmt.Errorf("inserting transaction event: %w", err)
	}

	return &event, nil
}

// ListByTransactionID returns the audit trail of a transaction, oldest first.
func (m *TransactionEventModel) ListByTransactionID(ctx context.Context, sqlExec db.SQLExecuter, transactionID string) ([]TransactionEvent, error) {
	const query = `
		SELECT
			id, transaction_id, job_id, kiosk_id, event_kind, payload, created_at
		FROM
			transaction_events
		WHERE
			transaction_id = $1
		ORDER BY
			created_at ASC, id ASC
	`

	events := []TransactionEvent{}
	err := sqlExec.SelectContext(ctx, &events, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("querying transaction events: %w", err)
	}

	return events, nil
}
