package device

import (
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/logutil"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Targets is the ordered set of device buffers the fan-out writes to.
// Target i lives on device i. The set is never resized after allocation.
type Targets struct {
	rt   types.DeviceRuntime
	bufs []types.DeviceBuffer
}

// AllocateTargets allocates one buffer of size bytes on each of the first
// n devices. On failure the buffers already obtained are released.
func AllocateTargets(rt types.DeviceRuntime, n int, size uint64) (*Targets, error) {
	logger := logutil.GetLogger()
	if n < 1 {
		return nil, &types.AllocationError{Device: 0, Size: size, Err: types.ErrNoTargets}
	}

	t := &Targets{rt: rt, bufs: make([]types.DeviceBuffer, 0, n)}
	for i := 0; i < n; i++ {
		if err := rt.SelectDevice(i); err != nil {
			allocErr := &types.AllocationError{Device: i, Size: size, Err: &types.DeviceSelectionError{Device: i, Err: err}}
			return nil, multierr.Append(allocErr, t.Free())
		}
		buf, err := rt.Allocate(i, size)
		if err != nil {
			allocErr := &types.AllocationError{Device: i, Size: size, Err: err}
			return nil, multierr.Append(allocErr, t.Free())
		}
		t.bufs = append(t.bufs, buf)
		logger.Debug("allocated scatter target", zap.Int("device", i), zap.Uint64("addr", buf.Addr))
	}
	return t, nil
}

func (t *Targets) Len() int {
	return len(t.bufs)
}

func (t *Targets) At(i int) types.DeviceBuffer {
	return t.bufs[i]
}

// Buffers returns the targets in device order. The slice must not be
// modified.
func (t *Targets) Buffers() []types.DeviceBuffer {
	return t.bufs
}

// Capacity is the size of the smallest target.
func (t *Targets) Capacity() uint64 {
	if len(t.bufs) == 0 {
		return 0
	}
	c := t.bufs[0].Size
	for _, b := range t.bufs[1:] {
		c = min(c, b.Size)
	}
	return c
}

// Free releases every target, selecting its device first.
func (t *Targets) Free() error {
	var err error
	for _, buf := range t.bufs {
		if selErr := t.rt.SelectDevice(buf.Device); selErr != nil {
			err = multierr.Append(err, &types.DeviceSelectionError{Device: buf.Device, Err: selErr})
			continue
		}
		err = multierr.Append(err, t.rt.Free(buf))
	}
	t.bufs = nil
	return err
}
