package marshal

import (
	"encoding/binary"
	"errors"
	"math"
	"math/big"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

func (m *Marshaler) serializeBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out, nil
	case string:
		return []byte(t), nil
	}
	return nil, m.serializeErr("cannot encode %T as raw bytes", v)
}

func (m *Marshaler) serializeText(v any, ascii bool) ([]byte, error) {
	var b []byte
	switch t := v.(type) {
	case string:
		b = []byte(t)
	case []byte:
		b = make([]byte, len(t))
		copy(b, t)
	default:
		return nil, m.serializeErr("cannot encode %T as text", v)
	}
	if err := checkText(b, ascii); err != nil {
		return nil, m.serializeErr("%v", err)
	}
	return b, nil
}

func (m *Marshaler) deserializeText(b []byte, ascii bool) (any, error) {
	if err := checkText(b, ascii); err != nil {
		return nil, m.deserializeErr("%v", err)
	}
	return string(b), nil
}

func checkText(b []byte, ascii bool) error {
	if ascii {
		for _, c := range b {
			if c >= utf8.RuneSelf {
				return errors.New("non-ASCII byte in text")
			}
		}
		return nil
	}
	if !utf8.Valid(b) {
		return errors.New("invalid UTF-8 sequence")
	}
	return nil
}

// toInt64 widens every Go integer type, and decimal strings, to int64.
func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		return int64(t), uint64(t) <= math.MaxInt64
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), t <= math.MaxInt64
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func (m *Marshaler) serializeLong(v any) ([]byte, error) {
	n, ok := toInt64(v)
	if !ok {
		return nil, m.serializeErr("cannot encode %v (%T) as a 64-bit integer", v, v)
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b, nil
}

func (m *Marshaler) deserializeLong(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func (m *Marshaler) serializeInt32(v any) ([]byte, error) {
	n, ok := toInt64(v)
	if !ok || n < math.MinInt32 || n > math.MaxInt32 {
		return nil, m.serializeErr("cannot encode %v (%T) as a 32-bit integer", v, v)
	}
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(int32(n)))
	return b, nil
}

func (m *Marshaler) deserializeInt32(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b))
}

func (m *Marshaler) serializeInteger(v any) ([]byte, error) {
	var x *big.Int
	switch t := v.(type) {
	case *big.Int:
		if t == nil {
			return []byte{}, nil
		}
		x = t
	case string:
		var ok bool
		if x, ok = new(big.Int).SetString(t, 10); !ok {
			return nil, m.serializeErr("%q is not a decimal integer", t)
		}
	default:
		n, ok := toInt64(v)
		if !ok {
			if u, isUint := v.(uint64); isUint {
				x = new(big.Int).SetUint64(u)
				break
			}
			return nil, m.serializeErr("cannot encode %v (%T) as a varint", v, v)
		}
		x = big.NewInt(n)
	}
	return encodeVarint(x), nil
}

// encodeVarint writes x as a minimal big-endian two's-complement integer.
func encodeVarint(x *big.Int) []byte {
	switch x.Sign() {
	case 0:
		return []byte{0x00}
	case 1:
		b := x.Bytes()
		if b[0]&0x80 != 0 {
			b = append([]byte{0x00}, b...)
		}
		return b
	}
	// -x-1 has the same bit pattern as x with every bit inverted.
	mag := new(big.Int).Neg(x)
	mag.Sub(mag, big.NewInt(1))
	b := mag.Bytes()
	for i := range b {
		b[i] = ^b[i]
	}
	if len(b) == 0 || b[0]&0x80 == 0 {
		b = append([]byte{0xff}, b...)
	}
	return b
}

func (m *Marshaler) deserializeInteger(b []byte) *big.Int {
	if b[0]&0x80 == 0 {
		return new(big.Int).SetBytes(b)
	}
	inv := make([]byte, len(b))
	for i := range b {
		inv[i] = ^b[i]
	}
	x := new(big.Int).SetBytes(inv)
	x.Add(x, big.NewInt(1))
	return x.Neg(x)
}

func (m *Marshaler) serializeUUID(v any, timeBased bool, mode boundMode) ([]byte, error) {
	var u uuid.UUID
	switch t := v.(type) {
	case uuid.UUID:
		u = t
	case [16]byte:
		u = uuid.UUID(t)
	case []byte:
		parsed, err := uuid.FromBytes(t)
		if err != nil {
			return nil, m.serializeErr("%v", err)
		}
		u = parsed
	case string:
		parsed, err := uuid.Parse(t)
		if err != nil {
			return nil, m.serializeErr("%v", err)
		}
		u = parsed
	case time.Time:
		if !timeBased {
			return nil, m.serializeErr("only TimeUUIDType can be built from a time")
		}
		u = TimeUUID(t, mode == upper)
	default:
		return nil, m.serializeErr("cannot encode %T as a UUID", v)
	}
	if timeBased && u.Version() != 1 {
		return nil, m.serializeErr("%s is a version %d UUID, not a time UUID", u, u.Version())
	}
	out := make([]byte, 16)
	copy(out, u[:])
	return out, nil
}

func (m *Marshaler) deserializeUUID(b []byte, timeBased bool) (any, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return nil, m.deserializeErr("%v", err)
	}
	if timeBased && u.Version() != 1 {
		return nil, m.deserializeErr("%s is a version %d UUID, not a time UUID", u, u.Version())
	}
	return u, nil
}

func (m *Marshaler) serializeBool(v any) ([]byte, error) {
	var flag bool
	switch t := v.(type) {
	case bool:
		flag = t
	case string:
		parsed, err := strconv.ParseBool(t)
		if err != nil {
			return nil, m.serializeErr("%q is not a boolean", t)
		}
		flag = parsed
	default:
		return nil, m.serializeErr("cannot encode %T as a boolean", v)
	}
	if flag {
		return []byte{0x01}, nil
	}
	return []byte{0x00}, nil
}

func toFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

func (m *Marshaler) serializeFloat(v any) ([]byte, error) {
	f, ok := toFloat64(v)
	if !ok {
		return nil, m.serializeErr("cannot encode %v (%T) as a float", v, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxFloat32 {
		return nil, m.serializeErr("%v is outside the finite 32-bit float range", f)
	}
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, math.Float32bits(float32(f)))
	return b, nil
}

func (m *Marshaler) deserializeFloat(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

func (m *Marshaler) serializeDouble(v any) ([]byte, error) {
	f, ok := toFloat64(v)
	if !ok {
		return nil, m.serializeErr("cannot encode %v (%T) as a double", v, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, m.serializeErr("%v is not a finite double", f)
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(f))
	return b, nil
}

func (m *Marshaler) deserializeDouble(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func (m *Marshaler) serializeDate(v any) ([]byte, error) {
	var ms int64
	switch t := v.(type) {
	case time.Time:
		ms = t.UnixMilli()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil, m.serializeErr("%v", err)
		}
		ms = parsed.UnixMilli()
	default:
		n, ok := toInt64(v)
		if !ok {
			return nil, m.serializeErr("cannot encode %T as a date", v)
		}
		ms = n
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(ms))
	return b, nil
}

func (m *Marshaler) deserializeDate(b []byte) time.Time {
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b))).UTC()
}
