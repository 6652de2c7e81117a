package cf

import (
	"time"

	"github.com/flynnfc/helenus/pkg/helenus/marshal"
	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

// keyColumn duplicates the row key in tabular replies and is not a real column.
const keyColumn = "KEY"

// CQLSchema holds the codecs named by a tabular reply's metadata, resolved once.
type CQLSchema struct {
	defaultName  *marshal.Marshaler
	defaultValue *marshal.Marshaler
	names        map[string]*marshal.Marshaler
	values       map[string]*marshal.Marshaler

	// NoDeserialize keeps values as raw bytes, for replies whose values are
	// already native, such as counters.
	NoDeserialize bool
}

func NewCQLSchema(meta wire.CqlMetadata, noDeserialize bool) (*CQLSchema, error) {
	s := &CQLSchema{
		names:         make(map[string]*marshal.Marshaler, len(meta.NameTypes)),
		values:        make(map[string]*marshal.Marshaler, len(meta.ValueTypes)),
		NoDeserialize: noDeserialize,
	}
	var err error
	if s.defaultName, err = parseOrBytes(meta.DefaultNameType); err != nil {
		return nil, err
	}
	if s.defaultValue, err = parseOrBytes(meta.DefaultValueType); err != nil {
		return nil, err
	}
	for name, typeName := range meta.NameTypes {
		if s.names[name], err = parseOrBytes(typeName); err != nil {
			return nil, err
		}
	}
	for name, typeName := range meta.ValueTypes {
		if s.values[name], err = parseOrBytes(typeName); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *CQLSchema) nameCodec(raw []byte) *marshal.Marshaler {
	if m, ok := s.names[string(raw)]; ok {
		return m
	}
	return s.defaultName
}

func (s *CQLSchema) valueCodec(raw []byte) *marshal.Marshaler {
	if m, ok := s.values[string(raw)]; ok {
		return m
	}
	return s.defaultValue
}

// NewRowFromCQL builds a row from one row of a tabular reply. The row key is
// kept raw and the KEY column is dropped.
func NewRowFromCQL(data wire.CqlRow, schema *CQLSchema) (*Row, error) {
	columns := make([]*Column, 0, len(data.Columns))
	for _, wc := range data.Columns {
		if string(wc.Name) == keyColumn {
			continue
		}
		name, err := schema.nameCodec(wc.Name).Deserialize(wc.Name)
		if err != nil {
			return nil, err
		}
		var value any = wc.Value
		if !schema.NoDeserialize {
			if value, err = schema.valueCodec(wc.Name).Deserialize(wc.Value); err != nil {
				return nil, err
			}
		}
		c := &Column{Name: name, Value: value, Timestamp: time.UnixMicro(wc.Timestamp)}
		if wc.TTL != nil {
			c.TTL = time.Duration(*wc.TTL) * time.Second
		}
		columns = append(columns, c)
	}
	return NewRow(data.Key, columns), nil
}

func parseOrBytes(typeName string) (*marshal.Marshaler, error) {
	if typeName == "" {
		typeName = "BytesType"
	}
	return marshal.Parse(typeName)
}
