package indexer

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field is one selected field, with a nested selection for object fields.
type Field struct {
	Name string
	Sub  []Field
}

// F builds a Field.
func F(name string, sub ...Field) Field {
	return Field{Name: name, Sub: sub}
}

// Fields builds a flat selection.
func Fields(names ...string) []Field {
	out := make([]Field, len(names))
	for i, n := range names {
		out[i] = Field{Name: n}
	}
	return out
}

// Op is a single comparison such as {_eq: 1}.
type Op struct {
	name  string
	value any
}

func Eq(v any) Op  { return Op{"_eq", v} }
func Neq(v any) Op { return Op{"_neq", v} }
func Gte(v any) Op { return Op{"_gte", v} }
func Lte(v any) Op { return Op{"_lte", v} }
func Gt(v any) Op  { return Op{"_gt", v} }
func Lt(v any) Op  { return Op{"_lt", v} }
func In(v any) Op  { return Op{"_in", v} }

// Ops combines comparisons on the same field.
type Ops []Op

// Cond is a where-condition keyed by canonical field names. Values are Op,
// Ops or a nested Cond for relationships.
type Cond map[string]any

// Order sorts by a canonical field path, e.g. ["bets_aggregate", "count"].
type Order struct {
	Path []string
	Desc bool
}

// Asc orders by path ascending.
func Asc(path ...string) Order { return Order{Path: path} }

// Desc orders by path descending.
func Desc(path ...string) Order { return Order{Path: path, Desc: true} }

// Query describes one root selection. Zero Limit and Offset are omitted.
type Query struct {
	Entity  Entity
	Where   Cond
	OrderBy []Order
	Limit   int
	Offset  int
	// PK selects a single row by primary key (eventByPk style roots).
	PK     any
	Fields []Field
}

// Document renders q as a GraphQL document of the given operation type
// ("query" or "subscription") using the wire names of s.
func (q Query) Document(s *Schema, operation string) (string, error) {
	var b strings.Builder
	b.WriteString(operation)
	b.WriteString(" { ")
	b.WriteString(s.Root(q.Entity))

	args, err := q.args(s)
	if err != nil {
		return "", err
	}
	if len(args) > 0 {
		b.WriteString("(")
		b.WriteString(strings.Join(args, ", "))
		b.WriteString(")")
	}
	if len(q.Fields) == 0 {
		return "", fmt.Errorf("indexer: query %s selects no fields", q.Entity)
	}
	b.WriteString(" ")
	writeSelection(&b, s, q.Fields)
	b.WriteString(" }")
	return b.String(), nil
}

func (q Query) args(s *Schema) ([]string, error) {
	var args []string
	if q.PK != nil {
		lit, err := literal(q.PK)
		if err != nil {
			return nil, err
		}
		args = append(args, "id: "+lit)
	}
	if len(q.Where) > 0 {
		w, err := renderCond(s, q.Where)
		if err != nil {
			return nil, err
		}
		args = append(args, "where: "+w)
	}
	if len(q.OrderBy) > 0 {
		parts := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			parts[i] = renderOrder(s, o)
		}
		args = append(args, "order_by: ["+strings.Join(parts, ", ")+"]")
	}
	if q.Limit > 0 {
		args = append(args, "limit: "+strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		args = append(args, "offset: "+strconv.Itoa(q.Offset))
	}
	return args, nil
}

func writeSelection(b *strings.Builder, s *Schema, fields []Field) {
	b.WriteString("{ ")
	for i, f := range fields {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(s.Wire(f.Name))
		if len(f.Sub) > 0 {
			b.WriteString(" ")
			writeSelection(b, s, f.Sub)
		}
	}
	b.WriteString(" }")
}

func renderCond(s *Schema, c Cond) (string, error) {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := renderCondValue(s, c[k])
		if err != nil {
			return "", fmt.Errorf("indexer: where %s: %w", k, err)
		}
		parts = append(parts, s.Wire(k)+": "+v)
	}
	return "{" + strings.Join(parts, ", ") + "}", nil
}

func renderCondValue(s *Schema, v any) (string, error) {
	switch t := v.(type) {
	case Cond:
		return renderCond(s, t)
	case Op:
		return renderOps(Ops{t})
	case Ops:
		return renderOps(t)
	default:
		return "", fmt.Errorf("unsupported condition %T", v)
	}
}

func renderOps(ops Ops) (string, error) {
	parts := make([]string, len(ops))
	for i, op := range ops {
		lit, err := literal(op.value)
		if err != nil {
			return "", err
		}
		parts[i] = op.name + ": " + lit
	}
	return "{" + strings.Join(parts, ", ") + "}", nil
}

func renderOrder(s *Schema, o Order) string {
	dir := "asc"
	if o.Desc {
		dir = "desc"
	}
	out := dir
	for i := len(o.Path) - 1; i >= 0; i-- {
		out = "{" + s.Wire(o.Path[i]) + ": " + out + "}"
	}
	return out
}

// literal renders a Go value as a GraphQL input literal.
func literal(v any) (string, error) {
	switch t := v.(type) {
	case string:
		b, err := json.Marshal(t)
		return string(b), err
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case decimal.Decimal:
		return t.String(), nil
	case time.Time:
		return `"` + t.UTC().Format(time.RFC3339Nano) + `"`, nil
	case fmt.Stringer:
		b, err := json.Marshal(t.String())
		return string(b), err
	case []int64:
		parts := make([]string, len(t))
		for i, n := range t {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case []string:
		parts := make([]string, len(t))
		for i, str := range t {
			b, err := json.Marshal(str)
			if err != nil {
				return "", err
			}
			parts[i] = string(b)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	default:
		if rv := reflect.ValueOf(v); rv.IsValid() && rv.Kind() == reflect.String {
			return literal(rv.String())
		}
		return "", fmt.Errorf("unsupported literal %T", v)
	}
}
