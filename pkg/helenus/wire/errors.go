package wire

import "fmt"

// Exception names reported by the server.
const (
	InvalidRequest = "InvalidRequestException"
	Unavailable    = "UnavailableException"
	TimedOut       = "TimedOutException"
	NotFound       = "NotFoundException"
	Application    = "TApplicationException"
	Transport      = "TransportException"
)

// ProtocolError is a failure reported by the connection or the server. Kind is
// the server's exception name where one was reported.
type ProtocolError struct {
	Kind    string
	Command string
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Command, e.Kind, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a keyspace, column family or row missing from schema metadata.
type NotFoundError struct {
	What string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.What, e.Name)
}
