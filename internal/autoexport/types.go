package autoexport

import "time"

// Config controls periodic event exports.
type Config struct {
	Enabled  bool
	Interval time.Duration
	Dir      string
	Format   string
	KeepLast int
	// SnapshotDB also copies the history database next to each export.
	SnapshotDB bool
}

// Exporter writes the buffered events to path in the given format.
type Exporter interface {
	Export(path, format string) (int, error)
}

// Snapshotter is the minimal database snapshot contract.
type Snapshotter interface {
	DBPath() string
	SnapshotTo(dstPath string) error
}
