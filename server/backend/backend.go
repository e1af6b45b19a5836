// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

// Package backend is the boundary to the relational storage engine behind every shard endpoint.
package backend

import (
	"context"
	"regexp"
)

// Record is one row keyed by column name.
type Record map[string]any

// Backend is one storage endpoint, a shard primary or one of its replicas.
type Backend interface {
	Ping(ctx context.Context) error
	// Insert writes the record in its own transaction and returns the stored row.
	Insert(ctx context.Context, table string, record Record) (Record, error)
	Query(ctx context.Context, query string, args ...any) ([]Record, error)
	Exec(ctx context.Context, stmt string, args ...any) error
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

type Tx interface {
	Insert(ctx context.Context, table string, record Record) (Record, error)
	Commit() error
	Rollback() error
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier rejects table and column names that could not be used unquoted.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return ErrInvalidIdentifier.WithCausef("identifier:%q", name)
	}
	return nil
}

func validateRecord(table string, record Record) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}
	if len(record) == 0 {
		return ErrEmptyRecord.WithCausef("table:%s", table)
	}
	for column := range record {
		if err := ValidateIdentifier(column); err != nil {
			return err
		}
	}
	return nil
}
