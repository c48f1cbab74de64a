// Package report prints the human readable console output of a run.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/maximilianheer/eurosys-rdma-scatter-app/internal/collector/timeserie"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/internal/config"
	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
)

func Params(w io.Writer, cfg *config.Config, runID string) {
	fmt.Fprintln(w, "CLI parameters:")
	fmt.Fprintf(w, "  role:           %s\n", cfg.Role)
	fmt.Fprintf(w, "  run id:         %s\n", runID)
	fmt.Fprintf(w, "  operation:      %s\n", cfg.Mode())
	fmt.Fprintf(w, "  runs:           %d\n", cfg.Runs)
	fmt.Fprintf(w, "  min size:       %d\n", cfg.MinSize)
	fmt.Fprintf(w, "  max size:       %d\n", cfg.MaxSize)
	if !cfg.Role.IsInitiator() {
		fmt.Fprintf(w, "  devices:        %d\n", cfg.Devices)
		fmt.Fprintf(w, "  chunk size:     %d\n", cfg.ChunkSize)
	}
	fmt.Fprintln(w)
}

func Buffers(w io.Writer, stagingAddr uint64, targets []types.DeviceBuffer) {
	fmt.Fprintf(w, "Staging buffer at %#x\n", stagingAddr)
	for i, t := range targets {
		fmt.Fprintf(w, "Target %d on device %d at %#x (%d bytes)\n", i, t.Device, t.Addr, t.Size)
	}
	fmt.Fprintln(w)
}

// Results prints one row per loop invocation.
func Results(w io.Writer, tokens []*timeserie.Token) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "mode\tsize [B]\tquota\truns\ttime [us]\tthroughput [Gbit/s]\tlatency [us]\t")
	for _, t := range tokens {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f\t%.3f\t%.3f\t\n",
			t.Mode, t.Size, t.Quota, t.Runs,
			float64(t.Elapsed.Nanoseconds())/1e3,
			t.ThroughputGbps, t.LatencyUs)
	}
	return tw.Flush()
}
