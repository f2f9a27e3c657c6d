package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
)

type KioskStatus string

const (
	ActiveKioskStatus      KioskStatus = "active"
	InactiveKioskStatus    KioskStatus = "inactive"
	MaintenanceKioskStatus KioskStatus = "maintenance"
	ErrorKioskStatus       KioskStatus = "error"
)

func (status KioskStatus) Validate() error {
	switch status {
	case ActiveKioskStatus, InactiveKioskStatus, MaintenanceKioskStatus, ErrorKioskStatus:
		return nil
	default:
		return fmt.Errorf("invalid kiosk status: %s", status)
	}
}

type Kiosk struct {
	ID         string      `json:"id" db:"id"`
	Status     KioskStatus `json:"status" db:"status"`
	LastSeenAt time.Time   `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}

type KioskModel struct {
	dbConnectionPool db.DBConnectionPool
}

// Touch upserts the kiosk row for the given id, refreshing last-seen. Every
// authenticated kiosk request goes through here; rows are never deleted.
func (m *KioskModel) Touch(ctx context.Context, sqlExec db.SQLExecuter, kioskID string, now time.Time) (*Kiosk, error) {
	if kioskID == "" {
		return nil, fmt.Errorf("validating kiosk id: %w", ErrMissingInput)
	}

	const query = `
		INSERT INTO kiosks
			(id, status, last_seen_at)
		VALUES
			($1, 'active', $2)
		ON CONFLICT (id) DO UPDATE SET
			last_seen_at = EXCLUDED.last_seen_at,
			status = 'active'
		RETURNING
			id, status, last_seen_at, created_at, updated_at
	`

	var kiosk Kiosk
	err := sqlExec.GetContext(ctx, &kiosk, query, kioskID, now)
	if err != nil {
		return nil, fmt.Errorf("upserting kiosk %s: %w", kioskID, err)
	}

	return &kiosk, nil
}

func (m *KioskModel) Get(ctx context.Context, sqlExec db.SQLExecuter, kioskID string) (*Kiosk, error) {
	const query = `
		SELECT
			id, status, last_seen_at, created_at, updated_at
		FROM
			kiosks
		WHERE
			id = $1
	`

	var kiosk Kiosk
	err := sqlExec.GetContext(ctx, &kiosk, query, kioskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying kiosk %s: %w", kioskID, err)
	}

	return &kiosk, nil
}

// GetAll returns every kiosk ever seen, most recently seen first.
func (m *KioskModel) GetAll(ctx context.Context, sqlExec db.SQLExecuter) ([]Kiosk, error) {
	const query = `
		SELECT
			id, status, last_seen_at, created_at, updated_at
		FROM
			kiosks
		ORDER BY
			last_seen_at DESC
	`

	kiosks := []Kiosk{}
	err := sqlExec.SelectContext(ctx, &kiosks, query)
	if err != nil {
		return nil, fmt.Errorf("querying kiosks: %w", err)
	}

	return kiosks, nil
}

// UpdateStatus is an operator-facing mutation, not exposed over HTTP.
func (m *KioskModel) UpdateStatus(ctx context.Context, sqlExec db.SQLExecuter, kioskID string, status KioskStatus) error {
	if err := status.Validate(); err != nil {
		return fmt.Errorf("validating kiosk status: %w", err)
	}

	result, err := sqlExec.ExecContext(ctx, `UPDATE kiosks SET status = $1 WHERE id = $2`, status, kioskID)
	if err != nil {
		return fmt.Errorf("updating kiosk %s status: %w", kioskID, err)
	}

	numRowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting number of rows affected: %w", err)
	}
	if numRowsAffected == 0 {
		return ErrRecordNotFound
	}

	return nil
}
