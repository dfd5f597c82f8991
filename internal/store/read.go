package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/pdfjson/internal/ir"
)

// SessionInfo describes a journal session.
type SessionInfo struct {
	ID             string `json:"id"`
	EngineVersion  string `json:"engine_version"`
	JournalVersion string `json:"journal_version"`
	Conversions    int    `json:"conversions"`
}

// Summary counts a session's conversions by outcome.
type Summary struct {
	Total    int            `json:"total"`
	Outcomes map[string]int `json:"outcomes"`
}

const conversionColumns = `id, seq, direction, outcome, exit_code,
	input_digest, input_bytes, output_digest, output_bytes, diagnostics`

// ListConversions returns a session's records in clock order.
// Returns an empty slice (not nil) for an unknown or empty session.
func (s *Store) ListConversions(ctx context.Context, sessionID string) ([]ir.ConversionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversionColumns+`
		FROM conversions
		WHERE session_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, sessionID)
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

// FindSuccess returns the most recent successful conversion in direction
// whose input had the given digest, across all sessions.
// The bool is false if there is none.
func (s *Store) FindSuccess(ctx context.Context, direction ir.Direction, inputDigest string) (ir.ConversionRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversionColumns+`
		FROM conversions
		WHERE direction = ? AND input_digest = ? AND outcome = ?
		ORDER BY rowid DESC
		LIMIT 1
	`, string(direction), inputDigest, ir.OutcomeOK)

	rec, err := scanConversion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ConversionRecord{}, false, nil
	}
	if err != nil {
		return ir.ConversionRecord{}, false, err
	}
	return rec, true, nil
}

// ListSessions returns every session with its record count, ordered by ID.
// UUIDv7 session IDs sort by creation time.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.engine_version, s.journal_version, COUNT(c.id)
		FROM sessions s
		LEFT JOIN conversions c ON c.session_id = s.id
		GROUP BY s.id
		ORDER BY s.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionInfo{}
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.EngineVersion, &info.JournalVersion, &info.Conversions); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Summarize counts a session's conversions by outcome.
func (s *Store) Summarize(ctx context.Context, sessionID string) (Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*)
		FROM conversions
		WHERE session_id = ?
		GROUP BY outcome
		ORDER BY outcome
	`, sessionID)
	if err != nil {
		return Summary{}, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	sum := Summary{Outcomes: map[string]int{}}
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return Summary{}, fmt.Errorf("scan summary: %w", err)
		}
		sum.Outcomes[outcome] = n
		sum.Total += n
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("iterate summary: %w", err)
	}
	return sum, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversion(row scanner) (ir.ConversionRecord, error) {
	var rec ir.ConversionRecord
	var direction string
	err := row.Scan(
		&rec.ID,
		&rec.Seq,
		&direction,
		&rec.Outcome,
		&rec.ExitCode,
		&rec.InputDigest,
		&rec.InputBytes,
		&rec.OutputDigest,
		&rec.OutputBytes,
		&rec.Diagnostics,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ConversionRecord{}, err
	}
	if err != nil {
		return ir.ConversionRecord{}, fmt.Errorf("scan conversion: %w", err)
	}
	rec.Direction = ir.Direction(direction)
	return rec, nil
}

// LastSeq returns the highest sequence number in the journal, or 0 when it
// holds no conversions.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM conversions`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return last, nil
}
