// Package aggregator folds fan-out copy and synchronization events into a
// per-device fingerprint.
package aggregator

import (
	"sort"
	"sync"
	"time"

	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/logutil"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
	"go.uber.org/zap"
)

type FanoutAggregator struct {
	windows map[int]*DeviceFingerprint
	mu      sync.Mutex
}

func NewFanoutAggregator() *FanoutAggregator {
	return &FanoutAggregator{
		windows: make(map[int]*DeviceFingerprint),
	}
}

func (fa *FanoutAggregator) ensureWindow(device int) *DeviceFingerprint {
	win, ok := fa.windows[device]
	if !ok {
		win = &DeviceFingerprint{
			Device:      device,
			WindowStart: time.Now(),
		}
		fa.windows[device] = win
	}
	return win
}

func (fa *FanoutAggregator) Update(ev any) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	switch e := ev.(type) {
	case types.MemcpyEvent:
		w := fa.ensureWindow(e.Device)
		w.MemcpyCount++
		w.TotalMemcpyBytes += e.Bytes
		if e.Kind == types.DIR_HTOD {
			w.HTODBytes += e.Bytes
		} else {
			w.DTOHBytes += e.Bytes
		}

	case types.SyncEvent:
		w := fa.ensureWindow(e.Device)
		delta := uint64(e.Delta.Nanoseconds())
		w.StreamSyncCount++
		w.TotalSyncNs += delta
		w.AvgSyncTimeNs = ((w.AvgSyncTimeNs * float64(w.StreamSyncCount-1)) + float64(delta)) / float64(w.StreamSyncCount)
		w.MaxSyncTimeNs = max(w.MaxSyncTimeNs, delta)
	}
}

// Flush closes every open window and returns the fingerprints ordered by
// device.
func (fa *FanoutAggregator) Flush() []*DeviceFingerprint {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	now := time.Now()
	out := make([]*DeviceFingerprint, 0, len(fa.windows))
	for device, w := range fa.windows {
		w.WindowEnd = now
		duration := w.WindowEnd.Sub(w.WindowStart).Seconds()
		if w.MemcpyCount > 0 {
			w.AvgMemcpyBytes = float64(w.TotalMemcpyBytes) / float64(w.MemcpyCount)
		}
		if w.TotalMemcpyBytes > 0 {
			w.HTODRatio = float64(w.HTODBytes) / float64(w.TotalMemcpyBytes)
		}
		if duration > 0 {
			w.MemcpyRate = float64(w.MemcpyCount) / duration
		}
		if w.TotalSyncNs > 0 {
			// Bytes land on the device no later than its last sync returns.
			w.BandwidthGbps = float64(w.TotalMemcpyBytes*8) / float64(w.TotalSyncNs)
		}
		out = append(out, w)
		delete(fa.windows, device)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}

// LogFlush flushes and logs every fingerprint with the given size label.
func (fa *FanoutAggregator) LogFlush(size uint64) []*DeviceFingerprint {
	logger := logutil.GetLogger()
	fps := fa.Flush()
	for _, s := range fps {
		logger.Info("Aggregated fan-out fingerprint",
			zap.Uint64("size", size),
			zap.Int("device", s.Device),
			zap.Uint64("memcpy_count", s.MemcpyCount),
			zap.Uint64("total_memcpy_bytes", s.TotalMemcpyBytes),
			zap.Float64("htod_ratio", s.HTODRatio),
			zap.Float64("memcpy_rate", s.MemcpyRate),
			zap.Uint64("sync_count", s.StreamSyncCount),
			zap.Float64("avg_sync_ns", s.AvgSyncTimeNs),
			zap.Uint64("max_sync_ns", s.MaxSyncTimeNs),
		)
	}
	return fps
}
