// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package router

import (
	"testing"

	"github.com/CeresDB/shardrouter/pkg/coderr"
	"github.com/CeresDB/shardrouter/server/backend"
	"github.com/stretchr/testify/require"
)

func TestValidateReadOnly(t *testing.T) {
	re := require.New(t)

	for _, query := range []string{
		"SELECT * FROM users",
		"  select id from users where name = ?;  ",
		"Select\n*\nFrom users",
	} {
		re.NoError(ValidateReadOnly(query), "query:%q", query)
	}

	for _, query := range []string{
		"",
		" ; ",
		"INSERT INTO users (name) VALUES ('a')",
		"UPDATE users SET name = 'b'",
		"SELECT 1; DROP TABLE users",
		"selected",
		"WITH x AS (DELETE FROM users RETURNING *) SELECT * FROM x",
	} {
		re.True(coderr.IsKind(ValidateReadOnly(query), ErrValidation), "query:%q", query)
	}
}

func TestBuildSelect(t *testing.T) {
	re := require.New(t)

	query, args, err := BuildSelect(SelectRequest{Table: "users"})
	re.NoError(err)
	re.Equal("SELECT * FROM users", query)
	re.Empty(args)

	query, args, err = BuildSelect(SelectRequest{
		Table:   "users",
		Where:   map[string]any{"name": "alice", "age": 30},
		OrderBy: "id desc, name",
		Limit:   5,
	})
	re.NoError(err)
	re.Equal("SELECT * FROM users WHERE (age = ? AND name = ?) ORDER BY id DESC, name LIMIT 5", query)
	re.Equal([]any{30, "alice"}, args)
	re.NoError(ValidateReadOnly(query))

	_, _, err = BuildSelect(SelectRequest{Table: "users; DROP TABLE users"})
	re.True(coderr.IsKind(err, backend.ErrInvalidIdentifier))
	_, _, err = BuildSelect(SelectRequest{Table: "users", Where: map[string]any{"1=1 OR name": "x"}})
	re.True(coderr.IsKind(err, backend.ErrInvalidIdentifier))
	_, _, err = BuildSelect(SelectRequest{Table: "users", OrderBy: "id sideways"})
	re.True(coderr.IsKind(err, ErrValidation))
	_, _, err = BuildSelect(SelectRequest{Table: "users", OrderBy: "id, "})
	re.True(coderr.IsKind(err, ErrValidation))
}
