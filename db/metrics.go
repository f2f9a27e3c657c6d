package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stellar/go-stellar-sdk/support/log"

	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/monitor"
)

// QueryType is the coarse classification reported to the metrics backend.
type QueryType string

const (
	SelectQueryType    QueryType = "SELECT"
	InsertQueryType    QueryType = "INSERT"
	UpdateQueryType    QueryType = "UPDATE"
	DeleteQueryType    QueryType = "DELETE"
	UndefinedQueryType QueryType = "UNDEFINED"
)

func classifyQuery(query string) QueryType {
	for i := 0; i < len(query); i++ {
		switch query[i] {
		case ' ', '\t', '\n', '\r':
			continue
		}
		if len(query) < i+6 {
			return UndefinedQueryType
		}
		switch query[i : i+6] {
		case "SELECT", "select":
			return SelectQueryType
		case "INSERT", "insert":
			return InsertQueryType
		case "UPDATE", "update":
			return UpdateQueryType
		case "DELETE", "delete":
			return DeleteQueryType
		}
		return UndefinedQueryType
	}
	return UndefinedQueryType
}

// SQLExecuterWithMetrics wraps a SQLExecuter and reports the duration of every
// query to the monitor service.
type SQLExecuterWithMetrics struct {
	SQLExecuter
	monitorService monitor.MonitorServiceInterface
}

func NewSQLExecuterWithMetrics(sqlExec SQLExecuter, monitorService monitor.MonitorServiceInterface) (*SQLExecuterWithMetrics, error) {
	if sqlExec == nil {
		return nil, fmt.Errorf("sqlExec cannot be nil")
	}
	if monitorService == nil {
		return nil, fmt.Errorf("monitorService cannot be nil")
	}

	return &SQLExecuterWithMetrics{
		SQLExecuter:    sqlExec,
		monitorService: monitorService,
	}, nil
}

var _ SQLExecuter = (*SQLExecuterWithMetrics)(nil)

func (e *SQLExecuterWithMetrics) observe(ctx context.Context, query string, since time.Time, err error) {
	tag := monitor.SuccessfulQueryDurationTag
	if err != nil {
		tag = monitor.FailureQueryDurationTag
	}

	labels := monitor.DBQueryLabels{QueryType: string(classifyQuery(query))}
	if monitorErr := e.monitorService.MonitorDBQueryDuration(time.Since(since), tag, labels); monitorErr != nil {
		log.Ctx(ctx).Errorf("Error trying to monitor db query duration: %s", monitorErr)
	}
}

func (e *SQLExecuterWithMetrics) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	then := time.Now()
	result, err := e.SQLExecuter.ExecContext(ctx, query, args...)
	e.observe(ctx, query, then, err)
	return result, err //nolint:wrapcheck // passthrough wrapper
}

func (e *SQLExecuterWithMetrics) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	then := time.Now()
	err := e.SQLExecuter.GetContext(ctx, dest, query, args...)
	e.observe(ctx, query, then, err)
	return err //nolint:wrapcheck // passthrough wrapper
}

func (e *SQLExecuterWithMetrics) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	then := time.Now()
	err := e.SQLExecuter.SelectContext(ctx, dest, query, args...)
	e.observe(ctx, query, then, err)
	return err //nolint:wrapcheck // passthrough wrapper
}

func (e *SQLExecuterWithMetrics) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	then := time.Now()
	rows, err := e.SQLExecuter.QueryxContext(ctx, query, args...)
	e.observe(ctx, query, then, err)
	return rows, err //nolint:wrapcheck // passthrough wrapper
}

// DBConnectionPoolWithMetrics decorates a DBConnectionPool so that both direct
// queries and queries inside transactions are observed.
type DBConnectionPoolWithMetrics struct {
	dbConnectionPool DBConnectionPool
	SQLExecuterWithMetrics
}

func NewDBConnectionPoolWithMetrics(dbConnectionPool DBConnectionPool, monitorService monitor.MonitorServiceInterface) (*DBConnectionPoolWithMetrics, error) {
	sqlExec, err := NewSQLExecuterWithMetrics(dbConnectionPool, monitorService)
	if err != nil {
		return nil, fmt.Errorf("creating SQLExecuterWithMetrics: %w", err)
	}

	return &DBConnectionPoolWithMetrics{
		dbConnectionPool:       dbConnectionPool,
		SQLExecuterWithMetrics: *sqlExec,
	}, nil
}

var _ DBConnectionPool = (*DBConnectionPoolWithMetrics)(nil)

func (dbc *DBConnectionPoolWithMetrics) BeginTxx(ctx context.Context, opts *sql.TxOptions) (DBTransaction, error) {
	dbTx, err := dbc.dbConnectionPool.BeginTxx(ctx, opts)
	if err != nil {
		return nil, err //nolint:wrapcheck // passthrough wrapper
	}

	sqlExec, err := NewSQLExecuterWithMetrics(dbTx, dbc.monitorService)
	if err != nil {
		return nil, fmt.Errorf("creating SQLExecuterWithMetrics for transaction: %w", err)
	}

	return &dbTransactionWithMetrics{dbTransaction: dbTx, SQLExecuterWithMetrics: *sqlExec}, nil
}

func (dbc *DBConnectionPoolWithMetrics) Close() error {
	return dbc.dbConnectionPool.Close()
}

func (dbc *DBConnectionPoolWithMetrics) Ping(ctx context.Context) error {
	return dbc.dbConnectionPool.Ping(ctx)
}

func (dbc *DBConnectionPoolWithMetrics) SqlDB(ctx context.Context) (*sql.DB, error) {
	return dbc.dbConnectionPool.SqlDB(ctx)
}

func (dbc *DBConnectionPoolWithMetrics) SqlxDB(ctx context.Context) (*sqlx.DB, error) {
	return dbc.dbConnectionPool.SqlxDB(ctx)
}

func (dbc *DBConnectionPoolWithMetrics) DSN(ctx context.Context) (string, error) {
	return dbc.dbConnectionPool.DSN(ctx)
}

type dbTransactionWithMetrics struct {
	dbTransaction DBTransaction
	SQLExecuterWithMetrics
}

var _ DBTransaction = (*dbTransactionWithMetrics)(nil)

func (tx *dbTransactionWithMetrics) Commit() error {
	return tx.dbTransaction.Commit()
}

func (tx *dbTransactionWithMetrics) Rollback() error {
	return tx.dbTransaction.Rollback()
}

// OpenDBConnectionPoolWithMetrics opens a new database connection pool wired into the monitor service.
func OpenDBConnectionPoolWithMetrics(dataSourceName string, monitorService monitor.MonitorServiceInterface) (DBConnectionPool, error) {
	dbConnectionPool, err := OpenDBConnectionPool(dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening a new db connection pool: %w", err)
	}

	return NewDBConnectionPoolWithMetrics(dbConnectionPool, monitorService)
}
