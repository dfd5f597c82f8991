package queryir

import (
	"errors"
	"fmt"
	"slices"
)

// Kind is the type of a journal column.
type Kind int

const (
	KindText Kind = iota
	KindInt
)

func (k Kind) String() string {
	if k == KindInt {
		return "integer"
	}
	return "text"
}

// Tables maps each queryable journal table to its columns.
var Tables = map[string]map[string]Kind{
	"conversions": {
		"id":            KindText,
		"session_id":    KindText,
		"seq":           KindInt,
		"direction":     KindText,
		"outcome":       KindText,
		"exit_code":     KindInt,
		"input_digest":  KindText,
		"input_bytes":   KindInt,
		"output_digest": KindText,
		"output_bytes":  KindInt,
		"diagnostics":   KindText,
	},
	"sessions": {
		"id":              KindText,
		"engine_version":  KindText,
		"journal_version": KindText,
	},
}

// Fields returns the sorted column names of table, or nil if it is unknown.
func Fields(table string) []string {
	cols, ok := Tables[table]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validate checks q against the journal schema. Every problem found is
// reported; the result is nil when q can be compiled.
func Validate(q Query) error {
	v := &validator{}
	v.query(q)
	return errors.Join(v.errs...)
}

type validator struct {
	cols map[string]Kind
	errs []error
}

func (v *validator) fail(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) query(q Query) {
	var sel Select
	switch query := q.(type) {
	case Select:
		sel = query
	case *Select:
		if query == nil {
			v.fail("nil query")
			return
		}
		sel = *query
	case nil:
		v.fail("nil query")
		return
	default:
		v.fail("unknown query type %T", q)
		return
	}

	cols, ok := Tables[sel.From]
	if !ok {
		v.fail("unknown table %q", sel.From)
		return
	}
	v.cols = cols

	if len(sel.Columns) == 0 {
		v.fail("no columns selected from %s", sel.From)
	}
	for _, c := range sel.Columns {
		if _, ok := cols[c]; !ok {
			v.fail("unknown column %q in %s", c, sel.From)
		}
	}
	if sel.Limit < 0 {
		v.fail("negative limit %d", sel.Limit)
	}
	v.predicate(sel.Filter)
}

func (v *validator) predicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
	case Equals:
		v.equals(pred)
	case *Equals:
		v.equals(*pred)
	case AtLeast:
		v.atLeast(pred)
	case *AtLeast:
		v.atLeast(*pred)
	case And:
		for _, sub := range pred.Predicates {
			v.predicate(sub)
		}
	case *And:
		for _, sub := range pred.Predicates {
			v.predicate(sub)
		}
	default:
		v.fail("unknown predicate type %T", p)
	}
}

func (v *validator) equals(eq Equals) {
	kind, ok := v.cols[eq.Field]
	if !ok {
		v.fail("unknown field %q", eq.Field)
		return
	}
	switch eq.Value.(type) {
	case string:
		if kind != KindText {
			v.fail("field %s is %s, got a string", eq.Field, kind)
		}
	case int64:
		if kind != KindInt {
			v.fail("field %s is %s, got an integer", eq.Field, kind)
		}
	default:
		v.fail("field %s: unsupported value type %T", eq.Field, eq.Value)
	}
}

func (v *validator) atLeast(al AtLeast) {
	kind, ok := v.cols[al.Field]
	if !ok {
		v.fail("unknown field %q", al.Field)
		return
	}
	if kind != KindInt {
		v.fail("field %s is %s; >= needs an integer field", al.Field, kind)
	}
}
