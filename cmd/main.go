package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/maximilianheer/eurosys-rdma-scatter-app/internal/bench"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/internal/collector/aggregator"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/internal/collector/timeserie"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/internal/config"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/internal/device"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/internal/fanout"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/internal/link"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/internal/report"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/logutil"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
	"github.com/unixpickle/essentials"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var newRuntime = device.NewHostRuntime

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logutil.InitLogger()

	logger := logutil.GetLogger()
	defer logger.Sync()

	go func() {
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigch
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	cfg := config.LoadConfig()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("Benchmark failed", zap.Error(err))
	}
	logger.Info("Benchmark finished")
}

// run owns every resource of the process. All of them are released before
// it returns, whatever the outcome.
func run(ctx context.Context, cfg *config.Config) (err error) {
	logger := logutil.GetLogger()

	lnk := link.NewTCPLink(link.Options{Role: cfg.Role, PeerAddr: cfg.Addr})
	defer multierr.AppendInvoke(&err, multierr.Close(lnk))

	mem, err := lnk.Init(ctx, cfg.MaxSize, cfg.Port)
	if err != nil {
		return err
	}
	report.Params(os.Stdout, cfg, lnk.RunID())

	agg := aggregator.NewFanoutAggregator()
	var fan bench.Fanout
	if !cfg.Role.IsInitiator() {
		rt := newRuntime(cfg.Devices)
		defer multierr.AppendInvoke(&err, multierr.Close(rt))

		var targets *device.Targets
		targets, err = device.AllocateTargets(rt, cfg.Devices, cfg.MaxSize)
		if err != nil {
			return err
		}
		defer multierr.AppendInvoke(&err, multierr.Invoke(targets.Free))

		report.Buffers(os.Stdout, lnk.Staging().Addr(), targets.Buffers())
		if err = publishTargets(lnk, targets.Buffers()); err != nil {
			return err
		}
		fan = fanout.NewDistributor(rt, targets.Buffers(), cfg.ChunkSize, agg)
	}

	ts := timeserie.NewTimeSeriesCollector()
	sweep := &bench.Sweep{
		Mode:            cfg.Mode(),
		MinSize:         cfg.MinSize,
		MaxSize:         cfg.MaxSize,
		Runs:            cfg.Runs,
		ThroughputQuota: types.N_THROUGHPUT_REPS,
		LatencyQuota:    types.N_LATENCY_REPS,
		Collectors:      []types.Collector{ts},
	}
	if fan != nil {
		sweep.SizeDone = func(size uint64) { agg.LogFlush(size) }
	}
	loop := &bench.Loop{
		Link:         lnk,
		Staging:      mem,
		Role:         cfg.Role,
		Fanout:       fan,
		QuotaTimeout: cfg.QuotaTimeout,
		Verify:       cfg.Verify,
	}

	logger.Info("Starting sweep",
		zap.String("role", string(cfg.Role)),
		zap.String("mode", cfg.Mode().String()),
		zap.Int("sizes", len(sweep.Sizes())))
	if err = sweep.Run(ctx, loop); err != nil {
		return err
	}

	if err = lnk.Barrier(ctx, cfg.Role.IsInitiator()); err != nil {
		return essentials.AddCtx("final barrier", err)
	}
	return report.Results(os.Stdout, ts.Flush())
}

// publishTargets writes target i's address to register i and marks the
// set valid in register N.
func publishTargets(l types.Link, targets []types.DeviceBuffer) error {
	for i, t := range targets {
		if err := l.SetRegister(t.Addr, uint32(i)); err != nil {
			return essentials.AddCtx("publish target address", err)
		}
	}
	if err := l.SetRegister(1, uint32(len(targets))); err != nil {
		return essentials.AddCtx("publish target set", err)
	}
	return nil
}
