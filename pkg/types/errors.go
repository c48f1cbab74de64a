package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTargetTooSmall = errors.New("transfer size exceeds device target capacity")
	ErrNoTargets      = errors.New("no device targets")
	ErrLinkClosed     = errors.New("link closed")
	ErrNotConnected   = errors.New("link not initialised")
)

// AllocationError reports that the staging buffer or a device target
// could not be obtained. Device is -1 for host allocations.
type AllocationError struct {
	Device int
	Size   uint64
	Err    error
}

func (e *AllocationError) Error() string {
	if e.Device < 0 {
		return fmt.Sprintf("could not allocate %d bytes of host memory: %v", e.Size, e.Err)
	}
	return fmt.Sprintf("could not allocate %d bytes on device %d: %v", e.Size, e.Device, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

type DeviceSelectionError struct {
	Device int
	Err    error
}

func (e *DeviceSelectionError) Error() string {
	return fmt.Sprintf("couldn't select device %d: %v", e.Device, e.Err)
}

func (e *DeviceSelectionError) Unwrap() error { return e.Err }

// CopyError reports a host-to-device copy that could not be enqueued.
type CopyError struct {
	Device int
	Chunk  int
	Err    error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("couldn't enqueue copy of chunk %d to device %d: %v", e.Chunk, e.Device, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }

type SyncError struct {
	Device int
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("couldn't synchronize device %d: %v", e.Device, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

type LinkInitError struct {
	Addr string
	Err  error
}

func (e *LinkInitError) Error() string {
	return fmt.Sprintf("link initialisation on %s failed: %v", e.Addr, e.Err)
}

func (e *LinkInitError) Unwrap() error { return e.Err }

// QuotaTimeoutError is returned when fewer than Want completions of Kind
// were observed before Timeout elapsed.
type QuotaTimeoutError struct {
	Kind    OperKind
	Want    uint64
	Got     uint64
	Timeout time.Duration
}

func (e *QuotaTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for %d %s completions (got %d)",
		e.Timeout, e.Want, e.Kind, e.Got)
}
