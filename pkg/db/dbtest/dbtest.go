package dbtest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/db/sqlitestore"
)

// GetTestDB opens an in-memory database private to the caller with the
// position tables created.
func GetTestDB(ctx context.Context) (*sql.DB, error) {
	// unique name keeps parallel tests isolated
	uniqueName := ulid.Make().String()
	connStr := fmt.Sprintf("file:testdb_%s?mode=memory&cache=shared", uniqueName)

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, err
	}
	// a shared-cache memory database is dropped with its last connection
	// and locks per table, one connection avoids both
	db.SetMaxOpenConns(1)

	if err := sqlitestore.CreateTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// GetTestStore wraps GetTestDB with a store over the default table.
func GetTestStore(ctx context.Context) (*sqlitestore.Store, *sql.DB, error) {
	db, err := GetTestDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	store, err := sqlitestore.New(db, sqlitestore.DefaultConfig())
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db, nil
}
