// Package fanout scatters a host region across device targets in fixed
// size chunks and waits for every device to retire its copies.
package fanout

import (
	"context"
	"time"

	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/logutil"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
	"github.com/unixpickle/essentials"
	"go.uber.org/zap"
)

// Chunk is one copy of the fan-out plan.
type Chunk struct {
	Index     int
	Target    int
	SrcOffset int
	DstOffset int
	Len       int
}

type Distributor struct {
	runtime    types.DeviceRuntime
	targets    []types.DeviceBuffer
	chunkSize  int
	collectors []types.Collector
}

func NewDistributor(rt types.DeviceRuntime, targets []types.DeviceBuffer, chunkSize int,
	collectors ...types.Collector) *Distributor {
	if chunkSize <= 0 {
		chunkSize = types.CHUNK_SIZE_DEFAULT
	}
	return &Distributor{
		runtime:    rt,
		targets:    targets,
		chunkSize:  chunkSize,
		collectors: collectors,
	}
}

func (d *Distributor) ChunkSize() int { return d.chunkSize }

// Plan splits length bytes into ceil(length/chunkSize) chunks. Chunk i goes
// to target i mod N at offset (i/N)*chunkSize, so consecutive rounds of the
// round robin fill each target densely.
func (d *Distributor) Plan(length int) []Chunk {
	n := len(d.targets)
	if n == 0 || length <= 0 {
		return nil
	}
	chunks := make([]Chunk, 0, (length+d.chunkSize-1)/d.chunkSize)
	for i, off := 0, 0; off < length; i, off = i+1, off+d.chunkSize {
		chunks = append(chunks, Chunk{
			Index:     i,
			Target:    i % n,
			SrcOffset: off,
			DstOffset: (i / n) * d.chunkSize,
			Len:       essentials.MinInt(d.chunkSize, length-off),
		})
	}
	return chunks
}

// Distribute copies src to the targets and returns once every device of the
// target set is synchronized. Any failure is returned as is; nothing is
// retried.
func (d *Distributor) Distribute(ctx context.Context, src []byte) error {
	logger := logutil.GetLogger()
	if len(d.targets) == 0 {
		return &types.CopyError{Device: -1, Chunk: 0, Err: types.ErrNoTargets}
	}

	for _, c := range d.Plan(len(src)) {
		tgt := d.targets[c.Target]
		if uint64(c.DstOffset+c.Len) > tgt.Size {
			return &types.CopyError{Device: tgt.Device, Chunk: c.Index, Err: types.ErrTargetTooSmall}
		}
		if err := d.runtime.SelectDevice(tgt.Device); err != nil {
			return &types.DeviceSelectionError{Device: tgt.Device, Err: err}
		}
		if err := d.runtime.CopyAsync(tgt, uint64(c.DstOffset), src[c.SrcOffset:c.SrcOffset+c.Len]); err != nil {
			return &types.CopyError{Device: tgt.Device, Chunk: c.Index, Err: err}
		}
		d.emit(types.MemcpyEvent{Device: tgt.Device, Bytes: uint64(c.Len), Kind: types.DIR_HTOD})
	}

	synced := make(map[int]bool, len(d.targets))
	for _, tgt := range d.targets {
		if synced[tgt.Device] {
			continue
		}
		if err := d.runtime.SelectDevice(tgt.Device); err != nil {
			return &types.DeviceSelectionError{Device: tgt.Device, Err: err}
		}
		start := time.Now()
		if err := d.runtime.Synchronize(ctx, tgt.Device); err != nil {
			return &types.SyncError{Device: tgt.Device, Err: err}
		}
		synced[tgt.Device] = true
		d.emit(types.SyncEvent{Device: tgt.Device, Delta: time.Since(start)})
	}

	logger.Debug("fan-out complete", zap.Int("bytes", len(src)), zap.Int("targets", len(d.targets)))
	return nil
}

func (d *Distributor) emit(ev any) {
	for _, c := range d.collectors {
		c.Update(ev)
	}
}
