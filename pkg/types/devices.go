package types

import "context"

// DeviceBuffer is a region of device memory owned by one device.
type DeviceBuffer struct {
	Device int
	Addr   uint64
	Size   uint64
}

// DeviceRuntime is the accelerator memory service. Copies are enqueued on
// the stream of the currently selected device and complete asynchronously;
// Synchronize blocks until every copy enqueued on a device has retired.
type DeviceRuntime interface {
	Allocate(device int, size uint64) (DeviceBuffer, error)
	Free(buf DeviceBuffer) error
	SelectDevice(device int) error
	CopyAsync(dst DeviceBuffer, dstOffset uint64, src []byte) error
	Synchronize(ctx context.Context, device int) error
}
