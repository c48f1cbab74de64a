package types

import (
	"context"
	"time"
)

// CompletionCounter counts completed operations per kind since the last
// reset. The transport feeds it; the benchmark loop reads it.
type CompletionCounter interface {
	Reset()
	Count(kind OperKind) uint64
	WaitFor(ctx context.Context, kind OperKind, quota uint64, timeout time.Duration) error
}

// Link is the connection to the peer. It owns the registered host staging
// buffer returned by Init.
type Link interface {
	Init(ctx context.Context, maxSize uint64, port int) ([]byte, error)
	Submit(kind OperKind, sg ScatterSg) error
	Completions() CompletionCounter
	Barrier(ctx context.Context, isInitiator bool) error
	SetRegister(value uint64, id uint32) error
	Close() error
}
