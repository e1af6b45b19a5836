// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package router

import (
	"regexp"
	"sort"
	"strings"

	"github.com/CeresDB/shardrouter/server/backend"
	sq "github.com/Masterminds/squirrel"
)

var selectStatement = regexp.MustCompile(`(?i)^select\b`)

// ValidateReadOnly accepts a single SELECT statement. A trailing semicolon is tolerated, any other one is taken as
// the start of a second statement, string literals included.
func ValidateReadOnly(query string) error {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	if q == "" {
		return ErrValidation.WithCausef("empty query")
	}
	if strings.Contains(q, ";") {
		return ErrValidation.WithCausef("multiple statements are not allowed")
	}
	if !selectStatement.MatchString(q) {
		return ErrValidation.WithCausef("only SELECT statements are allowed on the read path")
	}
	return nil
}

// SelectRequest is the structured read accepted by the HTTP service.
type SelectRequest struct {
	Table string `json:"table"`
	// Where holds equality conditions joined by AND. A nil value matches NULL.
	Where map[string]any `json:"where,omitempty"`
	// OrderBy is a comma separated list of "column [ASC|DESC]".
	OrderBy string `json:"orderBy,omitempty"`
	Limit   uint64 `json:"limit,omitempty"`
}

// BuildSelect renders the request as a parameterized SELECT. Every identifier is validated, values only travel as
// arguments.
func BuildSelect(req SelectRequest) (string, []any, error) {
	if err := backend.ValidateIdentifier(req.Table); err != nil {
		return "", nil, err
	}

	builder := sq.Select("*").From(req.Table)
	if len(req.Where) > 0 {
		columns := make([]string, 0, len(req.Where))
		for column := range req.Where {
			if err := backend.ValidateIdentifier(column); err != nil {
				return "", nil, err
			}
			columns = append(columns, column)
		}
		sort.Strings(columns)
		conds := make(sq.And, 0, len(columns))
		for _, column := range columns {
			conds = append(conds, sq.Eq{column: req.Where[column]})
		}
		builder = builder.Where(conds)
	}
	if req.OrderBy != "" {
		orderBys, err := parseOrderBy(req.OrderBy)
		if err != nil {
			return "", nil, err
		}
		builder = builder.OrderBy(orderBys...)
	}
	if req.Limit > 0 {
		builder = builder.Limit(req.Limit)
	}
	return builder.ToSql()
}

func parseOrderBy(orderBy string) ([]string, error) {
	parts := strings.Split(orderBy, ",")
	clauses := make([]string, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 || len(fields) > 2 {
			return nil, ErrValidation.WithCausef("invalid order by:%q", orderBy)
		}
		if err := backend.ValidateIdentifier(fields[0]); err != nil {
			return nil, err
		}
		clause := fields[0]
		if len(fields) == 2 {
			dir := strings.ToUpper(fields[1])
			if dir != "ASC" && dir != "DESC" {
				return nil, ErrValidation.WithCausef("invalid order direction:%q", fields[1])
			}
			clause += " " + dir
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}
