package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pdfjson/internal/ir"
	"github.com/roach88/pdfjson/internal/queryir"
)

func seedQueryStore(t *testing.T) *Store {
	t.Helper()
	s := createTestStore(t)
	ctx := context.Background()

	a := createTestSession(t, s, "a")
	b := createTestSession(t, s, "b")

	failed := createTestRecord("a-2", 2, ir.ToBinary)
	failed.Outcome = string(ir.KindConversion)
	failed.ExitCode = 2

	require.NoError(t, a.RecordConversion(ctx, createTestRecord("a-1", 1, ir.ToStructural)))
	require.NoError(t, a.RecordConversion(ctx, failed))
	require.NoError(t, b.RecordConversion(ctx, createTestRecord("b-1", 1, ir.ToBinary)))
	require.NoError(t, b.RecordConversion(ctx, createTestRecord("b-3", 3, ir.ToStructural)))
	return s
}

func recordIDs(recs []ir.ConversionRecord) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}

func TestQueryConversions(t *testing.T) {
	s := seedQueryStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter queryir.Predicate
		limit  int
		want   []string
	}{
		{"no filter orders by seq then id", nil, 0, []string{"a-1", "b-1", "a-2", "b-3"}},
		{"direction", queryir.Equals{Field: "direction", Value: "to_binary"}, 0, []string{"b-1", "a-2"}},
		{"exit code", queryir.Equals{Field: "exit_code", Value: int64(2)}, 0, []string{"a-2"}},
		{"seq floor", queryir.AtLeast{Field: "seq", Value: 2}, 0, []string{"a-2", "b-3"}},
		{"conjunction", queryir.Conj(
			queryir.Equals{Field: "session_id", Value: "b"},
			queryir.Equals{Field: "direction", Value: "to_structural"},
		), 0, []string{"b-3"}},
		{"limit", nil, 2, []string{"a-1", "b-1"}},
		{"no match", queryir.Equals{Field: "outcome", Value: "ENGINE_UNAVAILABLE"}, 0, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryConversions(ctx, tt.filter, tt.limit)
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Equal(t, tt.want, recordIDs(got))
		})
	}
}

func TestQueryConversions_RejectsInvalidFilter(t *testing.T) {
	s := seedQueryStore(t)

	_, err := s.QueryConversions(context.Background(), queryir.Equals{Field: "rowid; DROP TABLE conversions", Value: "x"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")

	all, err := s.QueryConversions(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestQueryConversions_FullRecord(t *testing.T) {
	s := seedQueryStore(t)

	got, err := s.QueryConversions(context.Background(), queryir.Equals{Field: "id", Value: "a-2"}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	want := createTestRecord("a-2", 2, ir.ToBinary)
	want.Outcome = string(ir.KindConversion)
	want.ExitCode = 2
	assert.Equal(t, want, got[0])
}
