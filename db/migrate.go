package db

import (
	"context"
	"fmt"
	"net/http"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db/migrations"
)

const MigrationsTableName = "rolu_migrations"

// Migrate runs the embedded SQL migrations against the given database, in the
// given direction, up to count steps (0 means all).
func Migrate(dbURL string, dir migrate.MigrationDirection, count int) (int, error) {
	dbConnectionPool, err := OpenDBConnectionPool(dbURL)
	if err != nil {
		return 0, fmt.Errorf("connecting to the database: %w", err)
	}
	defer dbConnectionPool.Close()

	ms := migrate.MigrationSet{
		TableName: MigrationsTableName,
	}

	m := migrate.HttpFileSystemMigrationSource{FileSystem: http.FS(migrations.FS)}
	ctx := context.Background()
	db, err := dbConnectionPool.SqlDB(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching sql.DB: %w", err)
	}
	return ms.ExecMax(db, dbConnectionPool.DriverName(), m, dir, count)
}
