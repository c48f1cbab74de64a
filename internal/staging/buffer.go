// Package staging owns the host staging buffer registered with the link.
package staging

import (
	"errors"
	"unsafe"

	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/logutil"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Buffer is an anonymous mapping locked into RAM when the memlock limit
// allows it. Pinning is best effort; an unpinned buffer is still usable.
type Buffer struct {
	mem    []byte
	pinned bool
}

func Alloc(size uint64) (*Buffer, error) {
	logger := logutil.GetLogger()

	if size == 0 {
		return nil, &types.AllocationError{Device: -1, Size: size, Err: errors.New("zero-sized buffer")}
	}

	if err := RaiseMemlock(); err != nil {
		logger.Warn("could not raise memlock limit", zap.Error(err))
	}

	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, &types.AllocationError{Device: -1, Size: size, Err: err}
	}

	b := &Buffer{mem: mem}
	if err := unix.Mlock(mem); err != nil {
		var lim unix.Rlimit
		_ = unix.Getrlimit(unix.RLIMIT_MEMLOCK, &lim)
		logger.Warn("staging buffer is not pinned",
			zap.Uint64("size", size),
			zap.Uint64("memlock_limit", uint64(lim.Cur)),
			zap.Error(err))
	} else {
		b.pinned = true
	}

	logger.Debug("staging buffer mapped", zap.Uint64("size", size), zap.Bool("pinned", b.pinned))
	return b, nil
}

// RaiseMemlock lifts the soft RLIMIT_MEMLOCK to the hard limit. Raising
// the hard limit itself needs CAP_SYS_RESOURCE and is left to the operator.
func RaiseMemlock() error {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &lim); err != nil {
		return err
	}
	if lim.Cur >= lim.Max {
		return nil
	}
	lim.Cur = lim.Max
	return unix.Setrlimit(unix.RLIMIT_MEMLOCK, &lim)
}

func (b *Buffer) Bytes() []byte { return b.mem }

func (b *Buffer) Len() int { return len(b.mem) }

func (b *Buffer) Pinned() bool { return b.pinned }

// Addr is the virtual address of the first byte, for diagnostics.
func (b *Buffer) Addr() uint64 {
	if len(b.mem) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b.mem[0])))
}

func (b *Buffer) Close() error {
	if b.mem == nil {
		return nil
	}
	var err error
	if b.pinned {
		err = multierr.Append(err, unix.Munlock(b.mem))
	}
	err = multierr.Append(err, unix.Munmap(b.mem))
	b.mem = nil
	b.pinned = false
	return err
}
