package bench

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/logutil"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
	"go.uber.org/zap"
)

// Sweep walks the transfer sizes MinSize, 2*MinSize, ... up to MaxSize and
// runs every size once with the throughput quota and once with the latency
// quota.
type Sweep struct {
	Mode    types.Mode
	MinSize uint64
	MaxSize uint64
	Runs    uint64

	ThroughputQuota uint64
	LatencyQuota    uint64

	// Collectors receive one types.BenchEvent per loop invocation.
	Collectors []types.Collector

	// SizeDone, if set, is called after both invocations of a size.
	SizeDone func(size uint64)
}

// Sizes returns the doubling sequence. It is empty when MinSize is zero or
// greater than MaxSize.
func (s *Sweep) Sizes() []uint64 {
	var sizes []uint64
	if s.MinSize == 0 {
		return nil
	}
	for size := s.MinSize; size <= s.MaxSize; size *= 2 {
		sizes = append(sizes, size)
		if size > math.MaxUint64/2 {
			break
		}
	}
	return sizes
}

func (s *Sweep) quotas() []uint64 {
	tq, lq := s.ThroughputQuota, s.LatencyQuota
	if tq == 0 {
		tq = types.N_THROUGHPUT_REPS
	}
	if lq == 0 {
		lq = types.N_LATENCY_REPS
	}
	return []uint64{tq, lq}
}

// Run executes the sweep against r. The first failing invocation aborts
// the sweep.
func (s *Sweep) Run(ctx context.Context, r Runner) error {
	logger := logutil.GetLogger()

	sizes := s.Sizes()
	if len(sizes) == 0 {
		logger.Info("empty sweep, no rounds to run",
			zap.Uint64("min_size", s.MinSize),
			zap.Uint64("max_size", s.MaxSize))
		return nil
	}

	for _, size := range sizes {
		for _, quota := range s.quotas() {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			if err := r.Run(ctx, s.Mode, size, quota, s.Runs); err != nil {
				return fmt.Errorf("size %d, quota %d: %w", size, quota, err)
			}
			elapsed := time.Since(start)

			logger.Debug("benchmark invocation done",
				zap.String("mode", s.Mode.String()),
				zap.Uint64("size", size),
				zap.Uint64("quota", quota),
				zap.Uint64("runs", s.Runs),
				zap.Duration("elapsed", elapsed))
			s.emit(types.BenchEvent{
				Mode:    s.Mode,
				Size:    size,
				Quota:   quota,
				Runs:    s.Runs,
				Elapsed: elapsed,
			})
		}
		if s.SizeDone != nil {
			s.SizeDone(size)
		}
	}
	return nil
}

func (s *Sweep) emit(ev any) {
	for _, c := range s.Collectors {
		c.Update(ev)
	}
}
