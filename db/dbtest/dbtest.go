package dbtest

import (
	"net/http"
	"testing"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/stellar/go-stellar-sdk/support/db/dbtest"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
	"github.com/abdulrahimiqbal/RoluATM-sub000/db/migrations"
)

func OpenWithoutMigrations(t *testing.T) *dbtest.DB {
	return dbtest.Postgres(t)
}

// Open returns a disposable Postgres database with all migrations applied.
func Open(t *testing.T) *dbtest.DB {
	database := OpenWithoutMigrations(t)

	conn := database.Open()
	defer conn.Close()

	ms := migrate.MigrationSet{TableName: db.MigrationsTableName}
	m := migrate.HttpFileSystemMigrationSource{FileSystem: http.FS(migrations.FS)}
	_, err := ms.ExecMax(conn.DB, "postgres", m, migrate.Up, 0)
	if err != nil {
		t.Fatal(err)
	}

	return database
}
