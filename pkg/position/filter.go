package position

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/optional"
)

// Op is a comparison operator a store translates into its query language.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLte
	OpGt
	OpGte
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

func (o Op) Valid() bool {
	return o >= OpEq && o <= OpGte
}

// holds reports whether a comparison result c satisfies the operator.
func (o Op) holds(c int) bool {
	switch o {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

type Condition struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, v any) Condition  { return Condition{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v any) Condition  { return Condition{Field: field, Op: OpNe, Value: v} }
func Lt(field string, v any) Condition  { return Condition{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v any) Condition { return Condition{Field: field, Op: OpLte, Value: v} }
func Gt(field string, v any) Condition  { return Condition{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v any) Condition { return Condition{Field: field, Op: OpGte, Value: v} }

func (c Condition) String() string {
	return fmt.Sprintf("%s%s%v", c.Field, c.Op, c.Value)
}

// Matches evaluates the condition in memory. A record without the field
// never matches.
func (c Condition) Matches(r Record) bool {
	v, ok := r.Field(c.Field)
	if !ok {
		return false
	}
	res, ok := compareValues(v, c.Value)
	if !ok {
		return false
	}
	return c.Op.holds(res)
}

// Filter is a conjunction of conditions.
type Filter []Condition

func (f Filter) Matches(r Record) bool {
	for _, c := range f {
		if !c.Matches(r) {
			return false
		}
	}
	return true
}

// Partition is the set of records sharing one order sequence.
type Partition struct {
	conds Filter
}

func NewPartition(conds ...Condition) Partition {
	return Partition{conds: slices.Clone(conds)}
}

// With returns a narrower partition; the receiver is left untouched.
func (p Partition) With(conds ...Condition) Partition {
	out := make(Filter, 0, len(p.conds)+len(conds))
	out = append(out, p.conds...)
	out = append(out, conds...)
	return Partition{conds: out}
}

func (p Partition) Conditions() Filter {
	return slices.Clone(p.conds)
}

func (p Partition) Matches(r Record) bool {
	return p.conds.Matches(r)
}

// Key is a deterministic identifier, independent of condition order.
func (p Partition) Key() string {
	if len(p.conds) == 0 {
		return "*"
	}
	parts := make([]string, len(p.conds))
	for i, c := range p.conds {
		parts[i] = c.String()
	}
	slices.Sort(parts)
	return strings.Join(parts, "&")
}

func (p Partition) String() string {
	return p.Key()
}

// PositionPredicate is a relation on the position field.
type PositionPredicate struct {
	Op    Op
	Value float64
}

func PositionEq(v float64) PositionPredicate { return PositionPredicate{Op: OpEq, Value: v} }
func PositionLt(v float64) PositionPredicate { return PositionPredicate{Op: OpLt, Value: v} }
func PositionGt(v float64) PositionPredicate { return PositionPredicate{Op: OpGt, Value: v} }

func (p PositionPredicate) Matches(position float64) bool {
	return p.Op.holds(cmp.Compare(position, p.Value))
}

func (p PositionPredicate) Condition() Condition {
	return Condition{Field: FieldPosition, Op: p.Op, Value: p.Value}
}

type Order int

const (
	OrderNone Order = iota
	OrderAsc
	OrderDesc
)

// Query is what the core asks a Store for. Stores order by position and
// break ties by id in the same direction.
type Query struct {
	Partition Partition
	Position  optional.Optional[PositionPredicate]
	Filter    Filter
	Order     Order
}

func (q Query) Matches(r Record) bool {
	if !q.Partition.Matches(r) || !q.Filter.Matches(r) {
		return false
	}
	if pred, ok := q.Position.Get(); ok {
		return pred.Matches(r.Position)
	}
	return true
}

// Conditions flattens partition, filter and position predicate.
func (q Query) Conditions() Filter {
	out := q.Partition.Conditions()
	out = append(out, q.Filter...)
	if pred, ok := q.Position.Get(); ok {
		out = append(out, pred.Condition())
	}
	return out
}

func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return cmp.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	case []byte:
		bv, ok := b.([]byte)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(av), string(bv)), true
	}
	af, ok := toFloat(a)
	if !ok {
		return 0, false
	}
	bf, ok := toFloat(b)
	if !ok {
		return 0, false
	}
	return cmp.Compare(af, bf), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
