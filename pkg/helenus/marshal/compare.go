package marshal

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"math"

	"github.com/google/uuid"
)

// Compare orders two encoded values the way the server orders columns for this
// comparator. Empty values sort first. Values of the wrong width for a
// fixed-width kind fall back to byte order.
func (m *Marshaler) Compare(a, b []byte) int {
	if len(a) == 0 || len(b) == 0 {
		return cmp.Compare(len(a), len(b))
	}
	switch m.kind {
	case ReversedKind:
		return -m.components[0].Compare(a, b)
	case CompositeKind:
		return m.compareComposite(a, b)
	case IntegerKind:
		return m.deserializeInteger(a).Cmp(m.deserializeInteger(b))
	}
	if w := m.kind.fixedWidth(); w != 0 && (len(a) != w || len(b) != w) {
		return bytes.Compare(a, b)
	}
	switch m.kind {
	case LongKind, CounterKind, DateKind:
		return cmp.Compare(int64(binary.BigEndian.Uint64(a)), int64(binary.BigEndian.Uint64(b)))
	case Int32Kind:
		return cmp.Compare(int32(binary.BigEndian.Uint32(a)), int32(binary.BigEndian.Uint32(b)))
	case FloatKind:
		return compareFloat(float64(m.deserializeFloat(a)), float64(m.deserializeFloat(b)))
	case DoubleKind:
		return compareFloat(m.deserializeDouble(a), m.deserializeDouble(b))
	case TimeUUIDKind:
		return compareTimeUUID(a, b)
	case UUIDKind:
		if a[6]>>4 == 1 && b[6]>>4 == 1 {
			return compareTimeUUID(a, b)
		}
	}
	return bytes.Compare(a, b)
}

func compareFloat(a, b float64) int {
	if math.IsNaN(a) || math.IsNaN(b) {
		return cmp.Compare(math.Float64bits(a), math.Float64bits(b))
	}
	return cmp.Compare(a, b)
}

func compareTimeUUID(a, b []byte) int {
	ta, tb := uuid.UUID(a).Time(), uuid.UUID(b).Time()
	if c := cmp.Compare(ta, tb); c != 0 {
		return c
	}
	return bytes.Compare(a, b)
}

func (m *Marshaler) compareComposite(a, b []byte) int {
	for i := 0; len(a) > 0 && len(b) > 0; i++ {
		pa, ea, ra, okA := nextComponent(a)
		pb, eb, rb, okB := nextComponent(b)
		if !okA || !okB {
			return bytes.Compare(a, b)
		}
		sub := m.components[min(i, len(m.components)-1)]
		if c := sub.Compare(pa, pb); c != 0 {
			return c
		}
		if ea != eb {
			return cmp.Compare(int8(ea), int8(eb))
		}
		a, b = ra, rb
	}
	return cmp.Compare(len(a), len(b))
}

func nextComponent(b []byte) (part []byte, eoc byte, rest []byte, ok bool) {
	if len(b) < 2 {
		return nil, 0, nil, false
	}
	n := int(binary.BigEndian.Uint16(b))
	if len(b) < n+3 {
		return nil, 0, nil, false
	}
	return b[2 : 2+n], b[2+n], b[3+n:], true
}
