// Package bench drives the benchmark rounds of one role against the link.
package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/maximilianheer/eurosys-rdma-scatter-app/internal/staging"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/logutil"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
	"go.uber.org/zap"
)

// Fanout distributes the landed payload to the device targets.
type Fanout interface {
	Distribute(ctx context.Context, src []byte) error
}

// Runner executes runs rounds of one transfer size with the given quota.
type Runner interface {
	Run(ctx context.Context, mode types.Mode, size, quota, runs uint64) error
}

// Loop is the per-role benchmark loop. It owns the link and the staging
// buffer for the duration of Run; nothing else may touch either.
type Loop struct {
	Link    types.Link
	Staging []byte
	Role    types.Role

	// Fanout is required for a responder in WRITE mode.
	Fanout Fanout

	// QuotaTimeout bounds each wait for inbound completions; zero waits
	// until the context is cancelled.
	QuotaTimeout time.Duration

	// Verify compares received payloads against the index pattern after
	// every invocation and logs mismatches.
	Verify bool

	// indexed is the length of the staging prefix that already carries
	// the index pattern for the peer to read.
	indexed int
}

func (l *Loop) Run(ctx context.Context, mode types.Mode, size, quota, runs uint64) error {
	logger := logutil.GetLogger()
	if size > uint64(len(l.Staging)) {
		return fmt.Errorf("%w: transfer of %d bytes, staging holds %d",
			types.ErrTargetTooSmall, size, len(l.Staging))
	}

	region := l.Staging[:size]
	l.fill(mode, region)

	for round := uint64(0); round < runs; round++ {
		var err error
		if l.Role.IsInitiator() {
			err = l.initiatorRound(ctx, mode, size, quota)
		} else {
			err = l.responderRound(ctx, mode, region, quota)
		}
		if err != nil {
			logger.Error("round failed",
				zap.String("mode", mode.String()),
				zap.Uint64("size", size),
				zap.Uint64("round", round),
				zap.Error(err))
			return err
		}
	}

	if l.Verify && l.receives(mode) {
		l.verify(mode, region)
	}
	return nil
}

// fill prepares the staging region: the side whose data is read or sent
// first carries the index pattern, the receiving side starts zeroed.
//
// A READ responder never learns when the peer's last read of the previous
// invocation has been served, so it only writes past the prefix it filled
// before.
func (l *Loop) fill(mode types.Mode, region []byte) {
	switch {
	case !l.Role.IsInitiator() && mode == types.READ:
		if len(region) > l.indexed {
			staging.FillIndexFrom(region, l.indexed)
			l.indexed = len(region)
		}
	case l.Role.IsInitiator() == (mode == types.WRITE):
		staging.FillIndex(region)
		l.indexed = 0
	default:
		staging.Zero(region)
		l.indexed = 0
	}
}

func (l *Loop) receives(mode types.Mode) bool {
	return l.Role.IsInitiator() != (mode == types.WRITE)
}

func (l *Loop) responderRound(ctx context.Context, mode types.Mode, region []byte, quota uint64) error {
	cq := l.Link.Completions()
	cq.Reset()
	if err := l.Link.Barrier(ctx, false); err != nil {
		return err
	}
	if mode == types.READ {
		return nil
	}

	if err := cq.WaitFor(ctx, types.LOCAL_WRITE, quota, l.QuotaTimeout); err != nil {
		return err
	}
	if l.Fanout == nil {
		return &types.CopyError{Device: -1, Err: types.ErrNoTargets}
	}
	if err := l.Fanout.Distribute(ctx, region); err != nil {
		return err
	}

	sg := types.ScatterSg{Len: uint64(len(region))}
	for i := uint64(0); i < quota; i++ {
		if err := l.Link.Submit(types.REMOTE_WRITE, sg); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) initiatorRound(ctx context.Context, mode types.Mode, size, quota uint64) error {
	cq := l.Link.Completions()
	cq.Reset()
	if err := l.Link.Barrier(ctx, true); err != nil {
		return err
	}

	submit, await := types.REMOTE_WRITE, types.LOCAL_WRITE
	if mode == types.READ {
		submit, await = types.REMOTE_READ, types.LOCAL_READ
	}
	sg := types.ScatterSg{Len: size}
	for i := uint64(0); i < quota; i++ {
		if err := l.Link.Submit(submit, sg); err != nil {
			return err
		}
	}
	return cq.WaitFor(ctx, await, quota, l.QuotaTimeout)
}

func (l *Loop) verify(mode types.Mode, region []byte) {
	logger := logutil.GetLogger()
	count, first := staging.CountMismatches(region)
	if count == 0 {
		logger.Debug("payload verified", zap.String("mode", mode.String()), zap.Int("size", len(region)))
		return
	}
	logger.Warn("payload does not match index pattern",
		zap.String("mode", mode.String()),
		zap.Int("size", len(region)),
		zap.Int("mismatched_words", count),
		zap.Int("first_mismatch", first))
}
