package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// record constrains a store's element type to a pointer with identity
// accessors, so Get can allocate fresh values.
type record[T any] interface {
	*T
	RecordID() uint64
	SetRecordID(id uint64)
}

// Store is a collection of JSON-encoded records keyed by a monotonically
// increasing integer id, backed by one table of the shared database.
//
// Mutations are serialized through the database writer lock: a Mutate
// observes the latest committed value and its result is durable before the
// call returns. Operations that span collections go through DB.Update.
type Store[T any, PT record[T]] struct {
	db    *DB
	table string
}

// Users and Files are the two persistent collections of the marketplace.
type (
	Users = Store[User, *User]
	Files = Store[FileRecord, *FileRecord]
)

func NewUsers(db *DB) *Users { return &Users{db: db, table: "users"} }
func NewFiles(db *DB) *Files { return &Files{db: db, table: "files"} }

// DB exposes the shared database for cross-collection transactions.
func (s *Store[T, PT]) DB() *DB { return s.db }

// Get returns the record with the given id, or ErrNotFound.
func (s *Store[T, PT]) Get(ctx context.Context, id uint64) (PT, error) {
	row := s.db.sql.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, s.table), id)
	return s.scan(row)
}

// List returns all records ordered by id.
func (s *Store[T, PT]) List(ctx context.Context) ([]PT, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		fmt.Sprintf(`SELECT data FROM %s ORDER BY id`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PT
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec := PT(new(T))
		if err := json.Unmarshal(data, rec); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", s.table, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Insert assigns the next id (max existing + 1, or 1 when empty), persists
// the record, and returns the id.
func (s *Store[T, PT]) Insert(ctx context.Context, rec PT) (uint64, error) {
	var id uint64
	err := s.db.Update(ctx, func(tx *Tx) error {
		var err error
		id, err = s.InsertTx(tx, rec)
		return err
	})
	return id, err
}

// Mutate atomically applies f to the record with the given id. f observes
// the latest committed value; if f returns an error the mutation is aborted
// with nothing written and the error is returned as-is. On success the new
// value is committed and returned.
func (s *Store[T, PT]) Mutate(ctx context.Context, id uint64, f func(PT) error) (PT, error) {
	var out PT
	err := s.db.Update(ctx, func(tx *Tx) error {
		var err error
		out, err = s.MutateTx(tx, id, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListTx is List inside an open transaction.
func (s *Store[T, PT]) ListTx(tx *Tx) ([]PT, error) {
	rows, err := tx.tx.QueryContext(tx.ctx,
		fmt.Sprintf(`SELECT data FROM %s ORDER BY id`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PT
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec := PT(new(T))
		if err := json.Unmarshal(data, rec); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", s.table, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetTx is Get inside an open transaction.
func (s *Store[T, PT]) GetTx(tx *Tx, id uint64) (PT, error) {
	row := tx.tx.QueryRowContext(tx.ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, s.table), id)
	return s.scan(row)
}

// InsertTx is Insert inside an open transaction.
func (s *Store[T, PT]) InsertTx(tx *Tx, rec PT) (uint64, error) {
	var id uint64
	row := tx.tx.QueryRowContext(tx.ctx,
		fmt.Sprintf(`SELECT COALESCE(MAX(id), 0) + 1 FROM %s`, s.table))
	if err := row.Scan(&id); err != nil {
		return 0, err
	}

	rec.SetRecordID(id)
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}

	_, err = tx.tx.ExecContext(tx.ctx,
		fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, ?)`, s.table), id, data)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// MutateTx is Mutate inside an open transaction.
func (s *Store[T, PT]) MutateTx(tx *Tx, id uint64, f func(PT) error) (PT, error) {
	rec, err := s.GetTx(tx, id)
	if err != nil {
		return nil, err
	}

	if err := f(rec); err != nil {
		return nil, err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if _, err := tx.tx.ExecContext(tx.ctx,
		fmt.Sprintf(`UPDATE %s SET data = ? WHERE id = ?`, s.table), data, id); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteTx removes a record.
func (s *Store[T, PT]) DeleteTx(tx *Tx, id uint64) error {
	res, err := tx.tx.ExecContext(tx.ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.table), id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store[T, PT]) scan(row *sql.Row) (PT, error) {
	var data []byte
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := PT(new(T))
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", s.table, err)
	}
	return rec, nil
}
