package store

import (
	"context"
	"fmt"

	"github.com/roach88/pdfjson/internal/ir"
)

// Session appends conversion records for one process run.
// It implements gateway.Recorder.
type Session struct {
	store *Store
	id    string
}

// BeginSession registers a session and returns its recorder.
// Registering an existing session ID again is a no-op.
func (s *Store) BeginSession(ctx context.Context, id, engineVersion string) (*Session, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, engine_version, journal_version)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, engineVersion, ir.JournalVersion)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	return &Session{store: s, id: id}, nil
}

// ID returns the session ID.
func (sess *Session) ID() string {
	return sess.id
}

// RecordConversion appends rec to the session.
// Uses ON CONFLICT(id) DO NOTHING, so writing the same record twice is
// harmless.
func (sess *Session) RecordConversion(ctx context.Context, rec ir.ConversionRecord) error {
	_, err := sess.store.db.ExecContext(ctx, `
		INSERT INTO conversions
		(id, session_id, seq, direction, outcome, exit_code,
		 input_digest, input_bytes, output_digest, output_bytes, diagnostics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		sess.id,
		rec.Seq,
		string(rec.Direction),
		rec.Outcome,
		rec.ExitCode,
		rec.InputDigest,
		rec.InputBytes,
		rec.OutputDigest,
		rec.OutputBytes,
		rec.Diagnostics,
	)
	if err != nil {
		return fmt.Errorf("record conversion %s: %w", rec.ID, err)
	}
	return nil
}
