package cf

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flynnfc/helenus/pkg/helenus/marshal"
	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

// Row is an immutable, ordered set of columns read from one row key. Columns
// keep wire order; the name index maps each column's name key to its position.
type Row struct {
	Key     any
	columns []*Column
	index   map[string]int
}

// NewRow builds a row over columns. When two columns share a name key the later
// one wins the index entry.
func NewRow(key any, columns []*Column) *Row {
	r := &Row{
		Key:     key,
		columns: columns,
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		r.index[NameKey(c.Name)] = i
	}
	return r
}

// NameKey is the string form a decoded column name is indexed under.
// Composite names join their components with commas.
func NameKey(name any) string {
	switch n := name.(type) {
	case string:
		return n
	case []byte:
		return string(n)
	case uuid.UUID:
		return n.String()
	case time.Time:
		return n.UTC().Format(time.RFC3339Nano)
	case []any:
		parts := make([]string, len(n))
		for i, p := range n {
			parts[i] = NameKey(p)
		}
		return strings.Join(parts, ",")
	case nil:
		return ""
	}
	return fmt.Sprint(name)
}

// Count returns the number of columns.
func (r *Row) Count() int { return len(r.columns) }

// Columns returns copies of the columns in wire order.
func (r *Row) Columns() []*Column { return cloneColumns(r.columns) }

// At returns a copy of the i-th column.
func (r *Row) At(i int) *Column { return r.columns[i].clone() }

// Get looks a column up by its decoded name and returns a copy of it.
func (r *Row) Get(name any) (*Column, bool) {
	i, ok := r.index[NameKey(name)]
	if !ok {
		return nil, false
	}
	return r.columns[i].clone(), true
}

// Value returns the value of the named column, or nil when it is absent.
func (r *Row) Value(name any) any {
	if c, ok := r.Get(name); ok {
		return c.Value
	}
	return nil
}

// NameSlice returns the columns whose name key k satisfies start <= k < end.
// An empty bound is open. Name keys compare as strings, whatever the comparator.
func (r *Row) NameSlice(start, end string) *Row {
	var matches []*Column
	for _, c := range r.columns {
		k := NameKey(c.Name)
		if k < start || (end != "" && k >= end) {
			continue
		}
		matches = append(matches, c.clone())
	}
	return NewRow(r.Key, matches)
}

// Slice returns columns [start, end) by position. Negative positions count from
// the end and out-of-range positions are clamped.
func (r *Row) Slice(start, end int) *Row {
	n := len(r.columns)
	start, end = clampIndex(start, n), clampIndex(end, n)
	if end < start {
		end = start
	}
	return NewRow(r.Key, cloneColumns(r.columns[start:end]))
}

func cloneColumns(columns []*Column) []*Column {
	out := make([]*Column, len(columns))
	for i, c := range columns {
		out[i] = c.clone()
	}
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	return max(0, min(i, n))
}

func (r *Row) String() string {
	parts := make([]string, len(r.columns))
	for i, c := range r.columns {
		parts[i] = c.String()
	}
	return fmt.Sprintf("<Row key=%v columns=[%s]>", r.Key, strings.Join(parts, ", "))
}

// rowFromWire decodes a get_slice style reply. Counter families read the
// counter field and keep its integer as-is.
func rowFromWire(key any, items []wire.ColumnOrSuperColumn, isCounter bool, nameCodec *marshal.Marshaler, valueCodec func([]byte) *marshal.Marshaler) (*Row, error) {
	columns := make([]*Column, 0, len(items))
	for _, item := range items {
		if isCounter {
			if item.CounterColumn == nil {
				return nil, &wire.ProtocolError{Kind: wire.Application, Message: "counter family reply without counter column"}
			}
			name, err := nameCodec.Deserialize(item.CounterColumn.Name)
			if err != nil {
				return nil, err
			}
			columns = append(columns, &Column{Name: name, Value: item.CounterColumn.Value})
			continue
		}
		if item.Column == nil {
			return nil, &wire.ProtocolError{Kind: wire.Application, Message: "reply item without column"}
		}
		c, err := columnFromWire(*item.Column, nameCodec, valueCodec(item.Column.Name))
		if err != nil {
			return nil, err
		}
		columns = append(columns, c)
	}
	return NewRow(key, columns), nil
}

func columnFromWire(wc wire.Column, nameCodec, valueCodec *marshal.Marshaler) (*Column, error) {
	name, err := nameCodec.Deserialize(wc.Name)
	if err != nil {
		return nil, err
	}
	value, err := valueCodec.Deserialize(wc.Value)
	if err != nil {
		return nil, err
	}
	c := &Column{Name: name, Value: value, Timestamp: time.UnixMicro(wc.Timestamp)}
	if wc.TTL != nil {
		c.TTL = time.Duration(*wc.TTL) * time.Second
	}
	return c, nil
}
