// Package wire holds the request and reply shapes exchanged with a Cassandra
// node and the Connection contract the column family layer is written against.
package wire

import (
	"encoding/json"
	"sort"
)

// Column is a named value with a write timestamp in microseconds since the epoch.
type Column struct {
	Name      []byte  `json:"name"`
	Value     []byte  `json:"value"`
	Timestamp int64   `json:"timestamp"`
	TTL       *uint32 `json:"ttl,omitempty"`
}

// CounterColumn carries a counter delta on writes and the counter total on reads.
type CounterColumn struct {
	Name  []byte `json:"name"`
	Value int64  `json:"value"`
}

type SuperColumn struct {
	Name    []byte   `json:"name"`
	Columns []Column `json:"columns"`
}

type CounterSuperColumn struct {
	Name    []byte          `json:"name"`
	Columns []CounterColumn `json:"columns"`
}

// ColumnOrSuperColumn has exactly one field set.
type ColumnOrSuperColumn struct {
	Column             *Column             `json:"column,omitempty"`
	SuperColumn        *SuperColumn        `json:"super_column,omitempty"`
	CounterColumn      *CounterColumn      `json:"counter_column,omitempty"`
	CounterSuperColumn *CounterSuperColumn `json:"counter_super_column,omitempty"`
}

type ColumnParent struct {
	ColumnFamily string `json:"column_family"`
	SuperColumn  []byte `json:"super_column,omitempty"`
}

// ColumnPath addresses a row (no column), a column, or a super column's subcolumn.
type ColumnPath struct {
	ColumnFamily string `json:"column_family"`
	SuperColumn  []byte `json:"super_column,omitempty"`
	Column       []byte `json:"column,omitempty"`
}

type SliceRange struct {
	Start    []byte `json:"start"`
	Finish   []byte `json:"finish"`
	Reversed bool   `json:"reversed"`
	Count    int32  `json:"count"`
}

// SlicePredicate selects columns either by explicit names or by a name range, never both.
type SlicePredicate struct {
	ColumnNames [][]byte    `json:"column_names,omitempty"`
	SliceRange  *SliceRange `json:"slice_range,omitempty"`
}

type IndexOperator int

const (
	EQ IndexOperator = iota
	GTE
	GT
	LTE
	LT
)

func (op IndexOperator) String() string {
	switch op {
	case EQ:
		return "EQ"
	case GTE:
		return "GTE"
	case GT:
		return "GT"
	case LTE:
		return "LTE"
	case LT:
		return "LT"
	}
	return "UNKNOWN"
}

type IndexExpression struct {
	ColumnName []byte        `json:"column_name"`
	Op         IndexOperator `json:"op"`
	Value      []byte        `json:"value"`
}

type IndexClause struct {
	Expressions []IndexExpression `json:"expressions"`
	StartKey    []byte            `json:"start_key"`
	Count       int32             `json:"count"`
}

// Deletion removes the columns matched by Predicate, or the whole row or super
// column when Predicate is nil.
type Deletion struct {
	Timestamp   *int64          `json:"timestamp,omitempty"`
	SuperColumn []byte          `json:"super_column,omitempty"`
	Predicate   *SlicePredicate `json:"predicate,omitempty"`
}

// Mutation has exactly one field set.
type Mutation struct {
	ColumnOrSuperColumn *ColumnOrSuperColumn `json:"column_or_supercolumn,omitempty"`
	Deletion            *Deletion            `json:"deletion,omitempty"`
}

type KeySlice struct {
	Key     []byte                `json:"key"`
	Columns []ColumnOrSuperColumn `json:"columns"`
}

// MutationMap is keyed by raw row key, then by column family name.
type MutationMap map[string]map[string][]Mutation

type mutationEntry struct {
	Key      []byte                `json:"key"`
	Families map[string][]Mutation `json:"families"`
}

// MarshalJSON encodes row keys as base64 since they are arbitrary bytes.
func (m MutationMap) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]mutationEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, mutationEntry{Key: []byte(k), Families: m[k]})
	}
	return json.Marshal(entries)
}

func (m *MutationMap) UnmarshalJSON(b []byte) error {
	var entries []mutationEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return err
	}
	out := make(MutationMap, len(entries))
	for _, e := range entries {
		out[string(e.Key)] = e.Families
	}
	*m = out
	return nil
}

type ColumnDef struct {
	Name            []byte `json:"name"`
	ValidationClass string `json:"validation_class"`
	IndexType       string `json:"index_type,omitempty"`
	IndexName       string `json:"index_name,omitempty"`
}

// CfDef is the schema of one column family as reported by describe_keyspace.
type CfDef struct {
	Keyspace               string      `json:"keyspace"`
	Name                   string      `json:"name"`
	ColumnType             string      `json:"column_type"`
	ComparatorType         string      `json:"comparator_type"`
	SubcomparatorType      string      `json:"subcomparator_type,omitempty"`
	DefaultValidationClass string      `json:"default_validation_class"`
	KeyValidationClass     string      `json:"key_validation_class"`
	ColumnMetadata         []ColumnDef `json:"column_metadata,omitempty"`
}

// IsSuper reports whether the family stores super columns.
func (d CfDef) IsSuper() bool { return d.ColumnType == "Super" }

type KsDef struct {
	Name          string  `json:"name"`
	StrategyClass string  `json:"strategy_class"`
	CfDefs        []CfDef `json:"cf_defs"`
}

// CqlRow is one row of a tabular reply.
type CqlRow struct {
	Key     []byte   `json:"key"`
	Columns []Column `json:"columns"`
}

// CqlMetadata names the types of a tabular reply. The per-column maps are keyed
// by raw column name.
type CqlMetadata struct {
	NameTypes        map[string]string `json:"name_types"`
	ValueTypes       map[string]string `json:"value_types"`
	DefaultNameType  string            `json:"default_name_type"`
	DefaultValueType string            `json:"default_value_type"`
}
