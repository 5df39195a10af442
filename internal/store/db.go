package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the shared SQLite database behind the record collections. A single
// writer mutex serializes every mutation, including the cross-collection
// transactions the ledger and the social toggle need, so two concurrent
// mutations never interleave and a commit is all-or-nothing on disk.
type DB struct {
	sql *sql.DB
	mu  sync.Mutex
}

// Open opens (creating if necessary) the database at the given path.
// Use ":memory:" for tests.
func Open(path string) (*DB, error) {
	dsn := path + "?_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// One connection: keeps ":memory:" stores coherent across the pool and
	// avoids SQLITE_BUSY between the pool's writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{sql: db}, nil
}

func migrate(db *sql.DB) error {
	for _, table := range []string{"users", "files"} {
		_, err := db.Exec(fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY,
				data TEXT NOT NULL
			)
		`, table))
		if err != nil {
			return err
		}
	}
	return nil
}

// Tx is an open transaction over the shared database. Collection methods
// with the Tx suffix operate inside it; everything staged in one Update
// call commits atomically or not at all.
type Tx struct {
	ctx context.Context
	tx  *sql.Tx
}

// Update runs f inside a transaction under the writer lock. If f returns an
// error the transaction is rolled back and the error returned as-is.
func (db *DB) Update(ctx context.Context, f func(tx *Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	sqlTx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := f(&Tx{ctx: ctx, tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

func (db *DB) Close() error {
	return db.sql.Close()
}
