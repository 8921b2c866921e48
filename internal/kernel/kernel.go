package kernel

import (
	"context"
	"errors"
)

var (
	ErrConnect        = errors.New("kernel: connect failed")
	ErrClosed         = errors.New("kernel: connection closed")
	ErrKernelNotFound = errors.New("kernel: kernel not found")
	ErrEmptyCode      = errors.New("kernel: empty code")
)

// Connector establishes a kernel session.
type Connector interface {
	Connect(ctx context.Context) (Kernel, error)
}

// Kernel is a live session able to run code.
type Kernel interface {
	ID() string
	// Submit starts executing code and returns the stream of messages it produces.
	Submit(ctx context.Context, code string) (*Stream, error)
	// Pending lists submissions that have not completed yet, oldest first.
	Pending() []Pending
	Close() error
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context) (Kernel, error)

func (f ConnectorFunc) Connect(ctx context.Context) (Kernel, error) {
	return f(ctx)
}
