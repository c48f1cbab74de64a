package aggregator

import "time"

// DeviceFingerprint summarises the fan-out traffic one device received
// during a window.
type DeviceFingerprint struct {
	Device      int
	WindowStart time.Time
	WindowEnd   time.Time

	// Counts
	MemcpyCount     uint64
	StreamSyncCount uint64

	// Memory metrics
	TotalMemcpyBytes uint64
	AvgMemcpyBytes   float64
	HTODBytes        uint64
	DTOHBytes        uint64
	HTODRatio        float64

	// Synchronization
	AvgSyncTimeNs float64
	MaxSyncTimeNs uint64
	TotalSyncNs   uint64

	// Derived ratios
	MemcpyRate    float64
	BandwidthGbps float64
}
