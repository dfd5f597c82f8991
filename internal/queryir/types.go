package queryir

// Query is a query over a journal table.
//
// This is a sealed interface; only types in this package implement it.
type Query interface {
	queryNode()
}

// Predicate is a row filter.
//
// This is a sealed interface; only types in this package implement it.
// There is no OR: run two queries instead.
type Predicate interface {
	predicateNode()
}

// Select reads rows from one table.
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <stable key> LIMIT <limit>
//
// Columns must be explicit. A nil Filter matches every row and a zero Limit
// means no limit.
type Select struct {
	From    string
	Columns []string
	Filter  Predicate
	Limit   int
}

func (Select) queryNode() {}

// Equals matches rows whose Field equals Value.
// Value is a string or an int64.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// AtLeast matches rows whose integer Field is >= Value.
type AtLeast struct {
	Field string
	Value int64
}

func (AtLeast) predicateNode() {}

// And matches rows that satisfy every predicate.
// An empty And matches every row.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Conj joins predicates with And, dropping nils.
// It returns nil when nothing is left and the single predicate when only one
// remains.
func Conj(preds ...Predicate) Predicate {
	var kept []Predicate
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And{Predicates: kept}
	}
}
