package marshal

import (
	"encoding/binary"
	"errors"
	"math"
)

// End-of-component markers. A bound ending in eocBefore sorts ahead of every
// column sharing its prefix; eocAfter sorts behind them.
const (
	eocEqual  byte = 0x00
	eocAfter  byte = 0x01
	eocBefore byte = 0xff
)

func (m *Marshaler) serializeComposite(v any, mode boundMode, exclusive bool) ([]byte, error) {
	var values []any
	switch t := v.(type) {
	case nil:
		return []byte{}, nil
	case []any:
		values = t
	case []string:
		values = make([]any, len(t))
		for i, s := range t {
			values[i] = s
		}
	default:
		values = []any{v}
	}
	if len(values) > len(m.components) {
		return nil, m.serializeErr("%d values for %d components", len(values), len(m.components))
	}

	var out []byte
	for i, value := range values {
		enc, err := m.components[i].serialize(value, exact)
		if err != nil {
			return nil, err
		}
		if len(enc) > math.MaxUint16 {
			return nil, m.serializeErr("component %d is %d bytes, limit is %d", i, len(enc), math.MaxUint16)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(len(enc)))
		out = append(out, enc...)
		out = append(out, endOfComponent(i == len(values)-1, mode, exclusive))
	}
	return out, nil
}

func endOfComponent(last bool, mode boundMode, exclusive bool) byte {
	if !last {
		return eocEqual
	}
	switch mode {
	case lower:
		if exclusive {
			return eocAfter
		}
		return eocEqual
	case upper:
		if exclusive {
			return eocBefore
		}
		return eocAfter
	}
	return eocEqual
}

// splitComposite walks the length-prefixed components of b, calling fn with each
// component's bytes and its end-of-component marker.
func splitComposite(b []byte, fn func(i int, part []byte, eoc byte) error) error {
	for i := 0; len(b) > 0; i++ {
		part, eoc, rest, ok := nextComponent(b)
		if !ok {
			return errTruncated
		}
		if err := fn(i, part, eoc); err != nil {
			return err
		}
		b = rest
	}
	return nil
}

func (m *Marshaler) deserializeComposite(b []byte) (any, error) {
	var values []any
	err := splitComposite(b, func(i int, part []byte, _ byte) error {
		if i >= len(m.components) {
			return m.deserializeErr("more components than the %d declared", len(m.components))
		}
		v, err := m.components[i].Deserialize(part)
		if err != nil {
			return err
		}
		values = append(values, v)
		return nil
	})
	if errors.Is(err, errTruncated) {
		return nil, m.deserializeErr("truncated composite value")
	}
	if err != nil {
		return nil, err
	}
	return values, nil
}
