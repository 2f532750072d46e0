package constants

// VM trace source file routing
const (
	TracePrefix         = "vm"              // manifest entries in scope
	TraceTablePrefix    = "vmtable"         // the single VM table archive
	TraceReadingsPrefix = "vm_cpu_readings" // partitioned time-series files
)

// VM trace cleaning parameters
const (
	// TraceTimeQuantum buckets raw timestamps into scheduling ticks.
	TraceTimeQuantum = 300
	// TraceRetentionHorizon is the last deletion bucket kept in the output.
	TraceRetentionHorizon = 43
)

// Download task status constants
type DownloadStatus string

const (
	DownloadStatusActive   DownloadStatus = "active"
	DownloadStatusWaiting  DownloadStatus = "waiting"
	DownloadStatusPaused   DownloadStatus = "paused"
	DownloadStatusComplete DownloadStatus = "complete"
	DownloadStatusError    DownloadStatus = "error"
)

func (s DownloadStatus) String() string {
	return string(s)
}
