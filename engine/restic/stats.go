package restic

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/goccy/go-json"

	"github.com/vshn/timevault/engine/logging"
)

// RepositoryStats is the output of `restic stats --json --mode raw-data`.
type RepositoryStats struct {
	TotalSize             int64   `json:"total_size"`
	TotalUncompressedSize int64   `json:"total_uncompressed_size"`
	CompressionRatio      float64 `json:"compression_ratio"`
	TotalBlobCount        int64   `json:"total_blob_count"`
	SnapshotsCount        int     `json:"snapshots_count"`
}

// Stats returns the size of the data stored in the repository.
func (r *Restic) Stats(ctx context.Context) (RepositoryStats, error) {
	r.opLock.RLock()
	defer r.opLock.RUnlock()

	return r.stats(ctx, r.logger.WithName("stats"))
}

func (r *Restic) stats(ctx context.Context, log logr.Logger) (RepositoryStats, error) {
	buf := &bytes.Buffer{}
	cmd := r.newCommand(ctx, log, r.opts.ListTimeout,
		r.globalFlags.ApplyToCommand("stats", "--json", "--mode", "raw-data"),
		buf, logging.NewErrorWriter(log.WithName("restic")))
	cmd.Run()

	if err := executionError("stats", cmd); err != nil {
		return RepositoryStats{}, err
	}

	stats := RepositoryStats{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &stats); err != nil {
		return RepositoryStats{}, fmt.Errorf("cannot decode repository stats: %w", err)
	}
	return stats, nil
}

func (r *Restic) rawDataSize(ctx context.Context, log logr.Logger) (int64, error) {
	stats, err := r.stats(ctx, log)
	return stats.TotalSize, err
}
