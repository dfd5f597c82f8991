package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/pdfjson/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession registers a session on s.
func createTestSession(t *testing.T, s *Store, id string) *Session {
	t.Helper()
	sess, err := s.BeginSession(context.Background(), id, "qpdf 11.9.0")
	if err != nil {
		t.Fatalf("BeginSession() failed: %v", err)
	}
	return sess
}

// createTestRecord creates a successful record with minimal fields.
func createTestRecord(id string, seq int64, dir ir.Direction) ir.ConversionRecord {
	return ir.ConversionRecord{
		ID:           id,
		Seq:          seq,
		Direction:    dir,
		Outcome:      ir.OutcomeOK,
		InputDigest:  "in-" + id,
		InputBytes:   10,
		OutputDigest: "out-" + id,
		OutputBytes:  20,
	}
}
