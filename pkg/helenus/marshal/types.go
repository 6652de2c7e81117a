package marshal

import (
	"fmt"
	"strings"
)

// Kind identifies one of the comparator/validator types the codec layer understands.
type Kind uint8

const (
	// BytesKind is also the fallback for validator classes we do not recognise.
	BytesKind Kind = iota
	UTF8Kind
	ASCIIKind
	LongKind
	Int32Kind
	IntegerKind
	UUIDKind
	TimeUUIDKind
	BooleanKind
	FloatKind
	DoubleKind
	DateKind
	CounterKind
	CompositeKind
	ReversedKind
)

const marshalPackage = "org.apache.cassandra.db.marshal."

var kindNames = map[string]Kind{
	"BytesType":         BytesKind,
	"UTF8Type":          UTF8Kind,
	"AsciiType":         ASCIIKind,
	"LongType":          LongKind,
	"Int32Type":         Int32Kind,
	"IntegerType":       IntegerKind,
	"UUIDType":          UUIDKind,
	"LexicalUUIDType":   UUIDKind,
	"TimeUUIDType":      TimeUUIDKind,
	"BooleanType":       BooleanKind,
	"FloatType":         FloatKind,
	"DoubleType":        DoubleKind,
	"DateType":          DateKind,
	"TimestampType":     DateKind,
	"CounterColumnType": CounterKind,
	"CompositeType":     CompositeKind,
	"ReversedType":      ReversedKind,
}

var canonicalNames = [...]string{
	BytesKind:     "BytesType",
	UTF8Kind:      "UTF8Type",
	ASCIIKind:     "AsciiType",
	LongKind:      "LongType",
	Int32Kind:     "Int32Type",
	IntegerKind:   "IntegerType",
	UUIDKind:      "UUIDType",
	TimeUUIDKind:  "TimeUUIDType",
	BooleanKind:   "BooleanType",
	FloatKind:     "FloatType",
	DoubleKind:    "DoubleType",
	DateKind:      "DateType",
	CounterKind:   "CounterColumnType",
	CompositeKind: "CompositeType",
	ReversedKind:  "ReversedType",
}

func (k Kind) String() string {
	if int(k) < len(canonicalNames) {
		return canonicalNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// fixedWidth returns the encoded size of fixed-width kinds, or 0 for variable ones.
func (k Kind) fixedWidth() int {
	switch k {
	case LongKind, CounterKind, DoubleKind, DateKind:
		return 8
	case Int32Kind, FloatKind:
		return 4
	case UUIDKind, TimeUUIDKind:
		return 16
	case BooleanKind:
		return 1
	}
	return 0
}

// typeExpr is the parsed form of a type name such as
// "CompositeType(LongType,ReversedType(UTF8Type))".
type typeExpr struct {
	name string
	args []typeExpr
}

func parseTypeExpr(s string) (typeExpr, string, error) {
	s = strings.TrimSpace(s)
	end := strings.IndexAny(s, "(),")
	if end < 0 {
		end = len(s)
	}
	expr := typeExpr{name: strings.TrimPrefix(strings.TrimSpace(s[:end]), marshalPackage)}
	if expr.name == "" {
		return typeExpr{}, "", fmt.Errorf("empty type name in %q", s)
	}
	rest := s[end:]
	if !strings.HasPrefix(rest, "(") {
		return expr, rest, nil
	}
	rest = rest[1:]
	for {
		arg, tail, err := parseTypeExpr(rest)
		if err != nil {
			return typeExpr{}, "", err
		}
		expr.args = append(expr.args, arg)
		tail = strings.TrimSpace(tail)
		switch {
		case strings.HasPrefix(tail, ","):
			rest = tail[1:]
		case strings.HasPrefix(tail, ")"):
			return expr, tail[1:], nil
		default:
			return typeExpr{}, "", fmt.Errorf("unterminated type parameters in %q", s)
		}
	}
}

// Parse resolves a comparator or validator class name into a Marshaler.
// The org.apache.cassandra.db.marshal package prefix is optional. Unknown class
// names resolve to a raw-bytes Marshaler that keeps the original name.
func Parse(typeName string) (*Marshaler, error) {
	expr, rest, err := parseTypeExpr(typeName)
	if err != nil {
		return nil, &CodecError{Type: typeName, Op: "parse", Err: err}
	}
	if strings.TrimSpace(rest) != "" {
		return nil, &CodecError{Type: typeName, Op: "parse", Err: fmt.Errorf("trailing input %q", rest)}
	}
	m, err := build(expr)
	if err != nil {
		return nil, &CodecError{Type: typeName, Op: "parse", Err: err}
	}
	return m, nil
}

// MustParse is like Parse but panics on malformed names. Intended for static type names.
func MustParse(typeName string) *Marshaler {
	m, err := Parse(typeName)
	if err != nil {
		panic(err)
	}
	return m
}

func build(expr typeExpr) (*Marshaler, error) {
	kind, ok := kindNames[expr.name]
	if !ok {
		return &Marshaler{typeName: expr.name, kind: BytesKind}, nil
	}
	m := &Marshaler{typeName: expr.name, kind: kind}
	switch kind {
	case CompositeKind:
		if len(expr.args) == 0 {
			return nil, fmt.Errorf("CompositeType needs at least one component")
		}
		for _, arg := range expr.args {
			sub, err := build(arg)
			if err != nil {
				return nil, err
			}
			m.components = append(m.components, sub)
		}
	case ReversedKind:
		if len(expr.args) != 1 {
			return nil, fmt.Errorf("ReversedType takes exactly one type, got %d", len(expr.args))
		}
		sub, err := build(expr.args[0])
		if err != nil {
			return nil, err
		}
		m.components = []*Marshaler{sub}
	default:
		if len(expr.args) != 0 {
			return nil, fmt.Errorf("%s does not take type parameters", expr.name)
		}
		return m, nil
	}
	names := make([]string, len(m.components))
	for i, c := range m.components {
		names[i] = c.typeName
	}
	m.typeName = expr.name + "(" + strings.Join(names, ",") + ")"
	return m, nil
}
