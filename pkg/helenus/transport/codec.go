// Package transport carries wire requests over gRPC. Requests travel as JSON
// envelopes through a single unary method, so no generated stubs are needed.
package transport

import (
	"encoding/json"
	"fmt"
)

const (
	serviceName   = "helenus.Cassandra"
	executeMethod = "/" + serviceName + "/Execute"
)

// jsonCodec is the gRPC codec for envelopes.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "json" }

// Envelope is one request on the wire.
type Envelope struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply carries either the command's result or the exception the server raised.
type Reply struct {
	Payload   json.RawMessage `json:"payload,omitempty"`
	Exception *Exception      `json:"exception,omitempty"`
}

// Exception is a server-side failure, named like the server's exception classes.
type Exception struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *Exception) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
