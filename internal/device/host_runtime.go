// Package device provides the device targets of the fan-out and a
// host-memory device runtime used when no accelerator runtime is linked.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/logutil"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
	"go.uber.org/zap"
)

const (
	hostAddrBase   = 0x7e0000000000
	hostAddrStride = 1 << 36
	streamDepth    = 1024
)

var (
	ErrNoDevice      = errors.New("no such device")
	ErrNoCurrent     = errors.New("no device selected")
	ErrUnknownBuffer = errors.New("unknown device buffer")
	ErrRuntimeClosed = errors.New("device runtime closed")
	ErrInjected      = errors.New("injected device fault")
)

type streamOp struct {
	dst   []byte
	src   []byte
	delay time.Duration
	done  chan struct{}
}

type hostDevice struct {
	id     int
	stream chan streamOp
	next   uint64

	failAlloc  bool
	failSelect bool
	failCopy   bool
	failSync   bool
	delay      time.Duration

	copies uint64
	bytes  uint64
}

// HostRuntime emulates N devices in host memory. Every device executes the
// copies enqueued on it in FIFO order on its own goroutine, like a default
// stream; Synchronize waits until that stream is drained.
type HostRuntime struct {
	mu      sync.Mutex
	devices []*hostDevice
	memory  map[uint64][]byte
	current int
	closed  bool
	wg      sync.WaitGroup
}

func NewHostRuntime(numDevices int) *HostRuntime {
	r := &HostRuntime{
		memory:  make(map[uint64][]byte),
		current: -1,
	}
	for i := 0; i < numDevices; i++ {
		d := &hostDevice{
			id:     i,
			stream: make(chan streamOp, streamDepth),
			next:   hostAddrBase + uint64(i)*hostAddrStride,
		}
		r.devices = append(r.devices, d)
		r.wg.Add(1)
		go r.runStream(d)
	}
	return r
}

func (r *HostRuntime) runStream(d *hostDevice) {
	defer r.wg.Done()
	for op := range d.stream {
		if op.delay > 0 {
			time.Sleep(op.delay)
		}
		if op.done != nil {
			close(op.done)
			continue
		}
		copy(op.dst, op.src)
	}
}

func (r *HostRuntime) NumDevices() int {
	return len(r.devices)
}

func (r *HostRuntime) device(id int) (*hostDevice, error) {
	if id < 0 || id >= len(r.devices) {
		return nil, fmt.Errorf("%w: %d", ErrNoDevice, id)
	}
	return r.devices[id], nil
}

func (r *HostRuntime) Allocate(device int, size uint64) (types.DeviceBuffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return types.DeviceBuffer{}, ErrRuntimeClosed
	}
	d, err := r.device(device)
	if err != nil {
		return types.DeviceBuffer{}, err
	}
	if d.failAlloc {
		return types.DeviceBuffer{}, ErrInjected
	}

	buf := types.DeviceBuffer{Device: device, Addr: d.next, Size: size}
	r.memory[buf.Addr] = make([]byte, size)
	// Keep allocations page aligned like a real allocator.
	d.next += (size + 0xfff) &^ 0xfff

	logutil.GetLogger().Debug("device memory allocated",
		zap.Int("device", device),
		zap.String("addr", fmt.Sprintf("%#x", buf.Addr)),
		zap.Uint64("size", size))
	return buf, nil
}

func (r *HostRuntime) Free(buf types.DeviceBuffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.memory[buf.Addr]; !ok {
		return fmt.Errorf("%w: %#x", ErrUnknownBuffer, buf.Addr)
	}
	delete(r.memory, buf.Addr)
	return nil
}

func (r *HostRuntime) SelectDevice(device int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.device(device)
	if err != nil {
		return err
	}
	if d.failSelect {
		return ErrInjected
	}
	r.current = device
	return nil
}

func (r *HostRuntime) CopyAsync(dst types.DeviceBuffer, dstOffset uint64, src []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRuntimeClosed
	}
	if r.current < 0 {
		return ErrNoCurrent
	}
	d := r.devices[r.current]
	if d.failCopy {
		return ErrInjected
	}
	mem, ok := r.memory[dst.Addr]
	if !ok {
		return fmt.Errorf("%w: %#x", ErrUnknownBuffer, dst.Addr)
	}
	end := dstOffset + uint64(len(src))
	if end > uint64(len(mem)) {
		return fmt.Errorf("%w: [%d, %d) in %d bytes", types.ErrTargetTooSmall, dstOffset, end, len(mem))
	}

	d.copies++
	d.bytes += uint64(len(src))
	d.stream <- streamOp{dst: mem[dstOffset:end], src: src, delay: d.delay}
	return nil
}

func (r *HostRuntime) Synchronize(ctx context.Context, device int) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRuntimeClosed
	}
	d, err := r.device(device)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if d.failSync {
		r.mu.Unlock()
		return ErrInjected
	}
	done := make(chan struct{})
	d.stream <- streamOp{done: done}
	r.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read returns a copy of a device buffer's contents. Callers synchronize
// the device first.
func (r *HostRuntime) Read(buf types.DeviceBuffer) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem, ok := r.memory[buf.Addr]
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownBuffer, buf.Addr)
	}
	return append([]byte(nil), mem...), nil
}

// Stats returns the number of copies and bytes enqueued on a device.
func (r *HostRuntime) Stats(device int) (copies, bytes uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if device < 0 || device >= len(r.devices) {
		return 0, 0
	}
	d := r.devices[device]
	return d.copies, d.bytes
}

func (r *HostRuntime) FailAlloc(device int, fail bool)  { r.set(device, func(d *hostDevice) { d.failAlloc = fail }) }
func (r *HostRuntime) FailSelect(device int, fail bool) { r.set(device, func(d *hostDevice) { d.failSelect = fail }) }
func (r *HostRuntime) FailCopy(device int, fail bool)   { r.set(device, func(d *hostDevice) { d.failCopy = fail }) }
func (r *HostRuntime) FailSync(device int, fail bool)   { r.set(device, func(d *hostDevice) { d.failSync = fail }) }

// Delay slows down every copy subsequently enqueued on device.
func (r *HostRuntime) Delay(device int, delay time.Duration) {
	r.set(device, func(d *hostDevice) { d.delay = delay })
}

func (r *HostRuntime) set(device int, f func(d *hostDevice)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, err := r.device(device); err == nil {
		f(d)
	}
}

// Close drains and stops every device stream.
func (r *HostRuntime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, d := range r.devices {
		close(d.stream)
	}
	r.mu.Unlock()
	r.wg.Wait()
	return nil
}
