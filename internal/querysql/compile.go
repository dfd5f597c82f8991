// Package querysql compiles journal filters to parameterized SQLite.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/pdfjson/internal/queryir"
)

// orderKeys gives every table a total order so that results are stable
// across runs. Text keys compare bytewise.
var orderKeys = map[string]string{
	"conversions": "seq ASC, id COLLATE BINARY ASC",
	"sessions":    "id COLLATE BINARY ASC",
}

// Compile converts q to SQL plus its parameters.
//
// q is validated first, so identifiers in the output are known columns.
// Literal values are never interpolated.
func Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, fmt.Errorf("invalid query: %w", err)
	}

	var sel queryir.Select
	switch query := q.(type) {
	case queryir.Select:
		sel = query
	case *queryir.Select:
		sel = *query
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}

	var b strings.Builder
	var params []any

	b.WriteString("SELECT ")
	b.WriteString(strings.Join(sel.Columns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(sel.From)

	if sel.Filter != nil {
		where, p, err := compilePredicate(sel.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		if where != "" {
			b.WriteString(" WHERE ")
			b.WriteString(where)
			params = append(params, p...)
		}
	}

	b.WriteString(" ORDER BY ")
	b.WriteString(orderKeys[sel.From])

	if sel.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, sel.Limit)
	}

	return b.String(), params, nil
}

// compilePredicate returns "" for a predicate that matches every row.
func compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "", nil, nil
	case queryir.Equals:
		return pred.Field + " = ?", []any{pred.Value}, nil
	case *queryir.Equals:
		return compilePredicate(*pred)
	case queryir.AtLeast:
		return pred.Field + " >= ?", []any{pred.Value}, nil
	case *queryir.AtLeast:
		return compilePredicate(*pred)
	case queryir.And:
		return compileAnd(pred)
	case *queryir.And:
		return compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileAnd(and queryir.And) (string, []any, error) {
	var parts []string
	var params []any
	for _, sub := range and.Predicates {
		sql, p, err := compilePredicate(sub)
		if err != nil {
			return "", nil, err
		}
		if sql == "" {
			continue
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	switch len(parts) {
	case 0:
		return "", nil, nil
	case 1:
		return parts[0], params, nil
	default:
		return "(" + strings.Join(parts, " AND ") + ")", params, nil
	}
}
