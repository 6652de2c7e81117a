package wire

import (
	"context"
	"fmt"

	"github.com/flynnfc/helenus/pkg/helenus/consistency"
)

// Command names understood by a Connection.
const (
	CmdGetSlice         = "get_slice"
	CmdGetCount         = "get_count"
	CmdGetIndexedSlices = "get_indexed_slices"
	CmdBatchMutate      = "batch_mutate"
	CmdRemove           = "remove"
	CmdRemoveCounter    = "remove_counter"
	CmdAdd              = "add"
	CmdTruncate         = "truncate"
	CmdDescribeKeyspace = "describe_keyspace"
)

// Connection performs a single RPC. reply must be the pointer type documented on
// the request, or nil for commands without a result. Implementations return
// either an error or a filled reply, never both.
type Connection interface {
	Execute(ctx context.Context, req Request, reply any) error
}

// ConnectionFunc adapts a function to the Connection interface.
type ConnectionFunc func(ctx context.Context, req Request, reply any) error

func (f ConnectionFunc) Execute(ctx context.Context, req Request, reply any) error {
	return f(ctx, req, reply)
}

type Request interface {
	Command() string
}

// GetSliceRequest replies with *[]ColumnOrSuperColumn.
type GetSliceRequest struct {
	Key         []byte            `json:"key"`
	Parent      ColumnParent      `json:"column_parent"`
	Predicate   SlicePredicate    `json:"predicate"`
	Consistency consistency.Level `json:"consistency_level"`
}

func (*GetSliceRequest) Command() string { return CmdGetSlice }

// GetCountRequest replies with *int32.
type GetCountRequest struct {
	Key         []byte            `json:"key"`
	Parent      ColumnParent      `json:"column_parent"`
	Predicate   SlicePredicate    `json:"predicate"`
	Consistency consistency.Level `json:"consistency_level"`
}

func (*GetCountRequest) Command() string { return CmdGetCount }

// GetIndexedSlicesRequest replies with *[]KeySlice.
type GetIndexedSlicesRequest struct {
	Parent      ColumnParent      `json:"column_parent"`
	Clause      IndexClause       `json:"index_clause"`
	Predicate   SlicePredicate    `json:"column_predicate"`
	Consistency consistency.Level `json:"consistency_level"`
}

func (*GetIndexedSlicesRequest) Command() string { return CmdGetIndexedSlices }

type BatchMutateRequest struct {
	Mutations   MutationMap       `json:"mutation_map"`
	Consistency consistency.Level `json:"consistency_level"`
}

func (*BatchMutateRequest) Command() string { return CmdBatchMutate }

type RemoveRequest struct {
	Key         []byte            `json:"key"`
	Path        ColumnPath        `json:"column_path"`
	Timestamp   int64             `json:"timestamp"`
	Consistency consistency.Level `json:"consistency_level"`
}

func (*RemoveRequest) Command() string { return CmdRemove }

// RemoveCounterRequest deletes counters, which carry no timestamp.
type RemoveCounterRequest struct {
	Key         []byte            `json:"key"`
	Path        ColumnPath        `json:"path"`
	Consistency consistency.Level `json:"consistency_level"`
}

func (*RemoveCounterRequest) Command() string { return CmdRemoveCounter }

// AddRequest applies a counter delta.
type AddRequest struct {
	Key         []byte            `json:"key"`
	Parent      ColumnParent      `json:"column_parent"`
	Column      CounterColumn     `json:"column"`
	Consistency consistency.Level `json:"consistency_level"`
}

func (*AddRequest) Command() string { return CmdAdd }

type TruncateRequest struct {
	ColumnFamily string `json:"cfname"`
}

func (*TruncateRequest) Command() string { return CmdTruncate }

// DescribeKeyspaceRequest replies with *KsDef.
type DescribeKeyspaceRequest struct {
	Keyspace string `json:"keyspace"`
}

func (*DescribeKeyspaceRequest) Command() string { return CmdDescribeKeyspace }

// NewRequest returns an empty request for command, ready to be decoded into.
func NewRequest(command string) (Request, error) {
	switch command {
	case CmdGetSlice:
		return &GetSliceRequest{}, nil
	case CmdGetCount:
		return &GetCountRequest{}, nil
	case CmdGetIndexedSlices:
		return &GetIndexedSlicesRequest{}, nil
	case CmdBatchMutate:
		return &BatchMutateRequest{}, nil
	case CmdRemove:
		return &RemoveRequest{}, nil
	case CmdRemoveCounter:
		return &RemoveCounterRequest{}, nil
	case CmdAdd:
		return &AddRequest{}, nil
	case CmdTruncate:
		return &TruncateRequest{}, nil
	case CmdDescribeKeyspace:
		return &DescribeKeyspaceRequest{}, nil
	}
	return nil, &ProtocolError{Kind: Application, Command: command, Message: fmt.Sprintf("unknown command %q", command)}
}

// NewReply returns a pointer suitable for the reply of command, or nil when the command has none.
func NewReply(command string) any {
	switch command {
	case CmdGetSlice:
		return &[]ColumnOrSuperColumn{}
	case CmdGetCount:
		return new(int32)
	case CmdGetIndexedSlices:
		return &[]KeySlice{}
	case CmdDescribeKeyspace:
		return &KsDef{}
	}
	return nil
}
