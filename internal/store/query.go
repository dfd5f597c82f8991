package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/pdfjson/internal/ir"
	"github.com/roach88/pdfjson/internal/queryir"
	"github.com/roach88/pdfjson/internal/querysql"
)

// QueryConversions returns the conversion records matching filter, across
// all sessions, in clock order. A nil filter matches every record and a
// zero limit means no limit.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) QueryConversions(ctx context.Context, filter queryir.Predicate, limit int) ([]ir.ConversionRecord, error) {
	q := queryir.Select{
		From:    "conversions",
		Columns: conversionFields(),
		Filter:  filter,
		Limit:   limit,
	}
	query, params, err := querysql.Compile(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query conversions: %w", err)
	}
	defer rows.Close()

	records := []ir.ConversionRecord{}
	for rows.Next() {
		rec, err := scanConversion(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversions: %w", err)
	}
	return records, nil
}

// conversionFields splits conversionColumns in scan order.
func conversionFields() []string {
	parts := strings.Split(conversionColumns, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
