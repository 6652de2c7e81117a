package marshal

import "fmt"

// CodecError reports a value that could not be encoded for, or bytes that could
// not be decoded as, a given type. It is always fatal to the operation that hit it.
type CodecError struct {
	Type string
	Op   string
	Err  error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("marshal: %s %s: %v", e.Op, e.Type, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func (m *Marshaler) serializeErr(format string, args ...any) error {
	return &CodecError{Type: m.typeName, Op: "serialize", Err: fmt.Errorf(format, args...)}
}

func (m *Marshaler) deserializeErr(format string, args ...any) error {
	return &CodecError{Type: m.typeName, Op: "deserialize", Err: fmt.Errorf(format, args...)}
}
