// Package marshal converts native Go values to and from the byte strings stored
// in column names, column values and row keys. A Marshaler is resolved once from
// a comparator or validator class name and is safe for concurrent use.
package marshal

// boundMode selects how the last component of a composite value is terminated.
type boundMode uint8

const (
	exact boundMode = iota
	lower
	upper
)

// Marshaler is an immutable codec for one comparator/validator type.
type Marshaler struct {
	typeName   string
	kind       Kind
	components []*Marshaler
}

// ExclusiveBound marks a composite range bound that must not match columns sharing its prefix.
type ExclusiveBound struct {
	Value any
}

// Exclusive wraps v so that SerializeBound excludes columns with the same prefix.
func Exclusive(v any) ExclusiveBound {
	return ExclusiveBound{Value: v}
}

// TypeName returns the normalised type name, without the marshal package prefix.
func (m *Marshaler) TypeName() string { return m.typeName }

func (m *Marshaler) String() string { return m.typeName }

// Kind returns the resolved kind. Unknown validator classes report BytesKind.
func (m *Marshaler) Kind() Kind { return m.kind }

// Reversed reports whether the type is a ReversedType, which only changes comparison direction.
func (m *Marshaler) Reversed() bool { return m.kind == ReversedKind }

// Components returns the sub-types of a CompositeType or ReversedType.
func (m *Marshaler) Components() []*Marshaler {
	out := make([]*Marshaler, len(m.components))
	copy(out, m.components)
	return out
}

// Serialize encodes v for storage or equality matching.
// A nil value encodes to an empty byte string.
func (m *Marshaler) Serialize(v any) ([]byte, error) {
	return m.serialize(v, exact)
}

// SerializeBound encodes v as a slice range bound. ascending is true for the
// lower end of the traversal and false for the upper end; it only changes the
// end-of-component byte of composite values and the clock/node bits of TimeUUIDs
// built from a time.
func (m *Marshaler) SerializeBound(v any, ascending bool) ([]byte, error) {
	if ascending {
		return m.serialize(v, lower)
	}
	return m.serialize(v, upper)
}

func (m *Marshaler) serialize(v any, mode boundMode) ([]byte, error) {
	if ex, ok := v.(ExclusiveBound); ok {
		switch m.kind {
		case CompositeKind:
			return m.serializeComposite(ex.Value, mode, true)
		case ReversedKind:
			return m.components[0].serialize(ex, mode)
		}
		v = ex.Value
	}
	if v == nil {
		return []byte{}, nil
	}
	switch m.kind {
	case CompositeKind:
		return m.serializeComposite(v, mode, false)
	case ReversedKind:
		return m.components[0].serialize(v, mode)
	case UTF8Kind:
		return m.serializeText(v, false)
	case ASCIIKind:
		return m.serializeText(v, true)
	case LongKind, CounterKind:
		return m.serializeLong(v)
	case Int32Kind:
		return m.serializeInt32(v)
	case IntegerKind:
		return m.serializeInteger(v)
	case UUIDKind:
		return m.serializeUUID(v, false, mode)
	case TimeUUIDKind:
		return m.serializeUUID(v, true, mode)
	case BooleanKind:
		return m.serializeBool(v)
	case FloatKind:
		return m.serializeFloat(v)
	case DoubleKind:
		return m.serializeDouble(v)
	case DateKind:
		return m.serializeDate(v)
	default:
		return m.serializeBytes(v)
	}
}

// Deserialize decodes b into its native value:
//
//	BytesType, unknown  []byte
//	UTF8Type, AsciiType string
//	LongType, Counter   int64
//	Int32Type           int32
//	IntegerType         *big.Int
//	UUIDType, TimeUUID  uuid.UUID
//	BooleanType         bool
//	FloatType           float32
//	DoubleType          float64
//	DateType            time.Time (UTC, millisecond precision)
//	CompositeType       []any
//
// An empty byte string decodes to nil for every kind except the byte and text kinds.
func (m *Marshaler) Deserialize(b []byte) (any, error) {
	switch m.kind {
	case BytesKind:
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case UTF8Kind:
		return m.deserializeText(b, false)
	case ASCIIKind:
		return m.deserializeText(b, true)
	case ReversedKind:
		return m.components[0].Deserialize(b)
	}
	if len(b) == 0 {
		return nil, nil
	}
	if w := m.kind.fixedWidth(); w != 0 && len(b) != w {
		return nil, m.deserializeErr("expected %d bytes, got %d", w, len(b))
	}
	switch m.kind {
	case CompositeKind:
		return m.deserializeComposite(b)
	case LongKind, CounterKind:
		return m.deserializeLong(b), nil
	case Int32Kind:
		return m.deserializeInt32(b), nil
	case IntegerKind:
		return m.deserializeInteger(b), nil
	case UUIDKind:
		return m.deserializeUUID(b, false)
	case TimeUUIDKind:
		return m.deserializeUUID(b, true)
	case BooleanKind:
		return b[0] != 0, nil
	case FloatKind:
		return m.deserializeFloat(b), nil
	case DoubleKind:
		return m.deserializeDouble(b), nil
	case DateKind:
		return m.deserializeDate(b), nil
	}
	return nil, m.deserializeErr("unsupported kind %s", m.kind)
}
