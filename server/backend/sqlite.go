// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package backend

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/pkg/errors"
)

const (
	DefaultBusyTimeoutMs = 5000
	DefaultMaxOpenConns  = 20
)

var _ Backend = &SQLStore{}

type SQLStoreConfig struct {
	Path          string
	BusyTimeoutMs int
	MaxOpenConns  int
}

// SQLStore is a Backend on top of a SQLite database file.
type SQLStore struct {
	path string
	db   *sqlx.DB
}

func NewSQLStore(cfg SQLStoreConfig) (*SQLStore, error) {
	if cfg.Path == "" {
		return nil, ErrOpenStore.WithCausef("empty database path")
	}
	if cfg.BusyTimeoutMs <= 0 {
		cfg.BusyTimeoutMs = DefaultBusyTimeoutMs
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = DefaultMaxOpenConns
	}

	// Immediate transactions take the write lock on BEGIN, so a held replica transaction blocks other writers
	// instead of failing them at commit.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate", cfg.Path, cfg.BusyTimeoutMs)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, ErrOpenStore.WithCause(err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	return &SQLStore{path: cfg.Path, db: db}, nil
}

func (s *SQLStore) Path() string {
	return s.path
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.WithMessagef(err, "ping %s", s.path)
	}
	return nil
}

func (s *SQLStore) Insert(ctx context.Context, table string, record Record) (Record, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	row, err := tx.Insert(ctx, table, record)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *SQLStore) Query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WithMessagef(err, "query %s", s.path)
	}
	return scanRecords(rows)
}

func (s *SQLStore) Exec(ctx context.Context, stmt string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.WithMessagef(err, "exec %s", s.path)
	}
	return nil
}

// ApplySchema runs the statements in a single transaction.
func (s *SQLStore) ApplySchema(ctx context.Context, stmts ...string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WithMessage(err, "begin schema transaction")
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return errors.WithMessagef(err, "apply schema to %s", s.path)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.WithMessagef(err, "begin transaction on %s", s.path)
	}
	return &sqlTx{tx: tx}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	tx *sqlx.Tx
}

func (t *sqlTx) Insert(ctx context.Context, table string, record Record) (Record, error) {
	if err := validateRecord(table, record); err != nil {
		return nil, err
	}

	query, args, err := sq.Insert(table).SetMap(record).Suffix("RETURNING *").ToSql()
	if err != nil {
		return nil, errors.WithMessage(err, "build insert")
	}
	rows, err := t.tx.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WithMessagef(err, "insert into %s", table)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) != 1 {
		return nil, errors.Errorf("insert into %s returned %d rows", table, len(records))
	}
	return records[0], nil
}

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	return t.tx.Rollback()
}

func scanRecords(rows *sqlx.Rows) ([]Record, error) {
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, errors.WithMessage(err, "scan row")
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		records = append(records, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithMessage(err, "iterate rows")
	}
	return records, nil
}
