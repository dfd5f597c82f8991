// Package queryir describes filters over the conversion journal.
//
// A filter is a small tree of sealed node types that a backend compiles to
// its own query language. The only backend today is SQLite (see querysql),
// but nothing here depends on SQL.
//
//	[--where expressions] → [queryir.Select] → [querysql] → SQLite
//
// The supported fragment is deliberately narrow:
//   - Select(from, columns, filter, limit) over one journal table
//   - Predicates: Equals, AtLeast, And
//   - Values are strings or int64 (no floats, no NULLs)
//
// Query and Predicate are sealed with marker methods so that backends can
// switch exhaustively:
//
//	switch p := pred.(type) {
//	case Equals:
//	case AtLeast:
//	case And:
//	}
//
// Field names are checked against the journal schema by Validate before a
// query reaches a backend, so backends may emit identifiers verbatim.
package queryir
