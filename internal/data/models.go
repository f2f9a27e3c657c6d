package data

import (
	"errors"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
)

var (
	ErrRecordNotFound          = errors.New("record not found")
	ErrRecordAlreadyExists     = errors.New("record already exists")
	ErrMismatchNumRowsAffected = errors.New("mismatch number of rows affected")
	ErrMissingInput            = errors.New("missing input")

	// Transaction state errors:
	ErrTransactionExpired          = errors.New("transaction is expired")
	ErrTransactionAlreadyProcessed = errors.New("transaction was already processed")
	ErrNullifierReused             = errors.New("nullifier was already used by another transaction")

	// Dispense job state errors:
	ErrJobOwnershipMismatch = errors.New("job is owned by another kiosk")
	ErrJobNotInProgress     = errors.New("job is not in progress")
)

type Models struct {
	Transactions      *TransactionModel
	DispenseJobs      *DispenseJobModel
	Kiosks            *KioskModel
	TransactionEvents *TransactionEventModel
	DBConnectionPool  db.DBConnectionPool
}

func NewModels(dbConnectionPool db.DBConnectionPool) (*Models, error) {
	if dbConnectionPool == nil {
		return nil, errors.New("dbConnectionPool is required for NewModels")
	}
	events := &TransactionEventModel{dbConnectionPool: dbConnectionPool}
	return &Models{
		Transactions:      &TransactionModel{dbConnectionPool: dbConnectionPool, events: events},
		DispenseJobs:      &DispenseJobModel{dbConnectionPool: dbConnectionPool, events: events},
		Kiosks:            &KioskModel{dbConnectionPool: dbConnectionPool},
		TransactionEvents: events,
		DBConnectionPool:  dbConnectionPool,
	}, nil
}
