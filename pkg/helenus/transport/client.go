package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

// Client is a wire.Connection to a remote Server.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Execute sends req and decodes the result into reply. Server exceptions come
// back as *wire.ProtocolError carrying the server's exception kind.
func (c *Client) Execute(ctx context.Context, req wire.Request, reply any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return &wire.ProtocolError{Kind: wire.Application, Command: req.Command(), Message: err.Error(), Err: err}
	}

	var out Reply
	err = c.conn.Invoke(ctx, executeMethod, &Envelope{Command: req.Command(), Payload: payload}, &out, grpc.ForceCodec(jsonCodec{}))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		st, _ := status.FromError(err)
		return &wire.ProtocolError{Kind: wire.Transport, Command: req.Command(), Message: fmt.Sprintf("%s: %s", st.Code(), st.Message()), Err: err}
	}
	if out.Exception != nil {
		return &wire.ProtocolError{Kind: out.Exception.Kind, Command: req.Command(), Message: out.Exception.Message, Err: out.Exception}
	}
	if reply == nil || len(out.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(out.Payload, reply); err != nil {
		return &wire.ProtocolError{Kind: wire.Application, Command: req.Command(), Message: "decoding reply: " + err.Error(), Err: err}
	}
	return nil
}
