package queryir

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseWhere parses a command-line filter against table's columns.
//
//	direction=to_binary   Equals
//	exit_code=2           Equals (integer column)
//	seq>=10               AtLeast
//
// Values are taken verbatim after the operator; quoting is the shell's job.
func ParseWhere(table, expr string) (Predicate, error) {
	cols, ok := Tables[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}

	field, value, op := splitWhere(expr)
	if op == "" {
		return nil, fmt.Errorf("invalid filter %q: want field=value or field>=n", expr)
	}
	field = strings.TrimSpace(field)
	kind, ok := cols[field]
	if !ok {
		return nil, fmt.Errorf("invalid filter %q: unknown field %q (have %s)", expr, field, strings.Join(Fields(table), ", "))
	}

	if op == ">=" {
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || kind != KindInt {
			return nil, fmt.Errorf("invalid filter %q: >= needs an integer field and value", expr)
		}
		return AtLeast{Field: field, Value: n}, nil
	}

	if kind == KindInt {
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %s is an integer field", expr, field)
		}
		return Equals{Field: field, Value: n}, nil
	}
	return Equals{Field: field, Value: value}, nil
}

// splitWhere finds the first operator in expr. ">=" wins over "=" when it
// comes first.
func splitWhere(expr string) (field, value, op string) {
	i := strings.Index(expr, "=")
	if i <= 0 {
		return "", "", ""
	}
	if expr[i-1] == '>' {
		if i-1 == 0 {
			return "", "", ""
		}
		return expr[:i-1], expr[i+1:], ">="
	}
	return expr[:i], expr[i+1:], "="
}
