package restic

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vshn/timevault/engine/logging"
)

// Uploader stores an object, e.g. in an S3 bucket.
type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) error
}

// Archive streams the given snapshot (empty for the latest one) as tar.gz to
// the uploader and returns the name of the uploaded object.
func (r *Restic) Archive(ctx context.Context, snapshotID string, uploader Uploader) (string, error) {
	r.opLock.RLock()
	defer r.opLock.RUnlock()

	archiveLogger := r.logger.WithName("archive")

	snapshot, err := r.resolveSnapshot(ctx, snapshotID)
	if err != nil {
		return "", err
	}

	fileName := fmt.Sprintf("backup-%s-%s.tar.gz", snapshot.Hostname, snapshot.Time.UTC().Format(time.RFC3339))
	archiveLogger.Info("starting archival", "snapshot", snapshot.ID, "object", fileName)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	uploadReadPipe, uploadWritePipe := io.Pipe()
	errorChannel := make(chan error, 1)
	go func() {
		err := uploader.Upload(ctx, fileName, uploadReadPipe)
		if err != nil {
			// stop restic, nobody reads its output anymore
			cancel()
			_ = uploadReadPipe.CloseWithError(err)
		}
		errorChannel <- err
	}()

	gzipWriter := gzip.NewWriter(uploadWritePipe)
	cmd := r.newCommand(ctx, archiveLogger, r.opts.Timeout,
		r.globalFlags.ApplyToCommand("dump", "--archive", "tar", snapshot.ID, "/"),
		gzipWriter, logging.NewErrorWriter(archiveLogger.WithName("restic")))
	cmd.Run()

	closeErr := gzipWriter.Close()
	dumpErr := executionError("dump", cmd)
	switch {
	case dumpErr != nil:
		_ = uploadWritePipe.CloseWithError(dumpErr)
	case closeErr != nil:
		_ = uploadWritePipe.CloseWithError(closeErr)
	default:
		_ = uploadWritePipe.Close()
	}

	uploadErr := <-errorChannel
	if uploadErr != nil && !errors.Is(uploadErr, dumpErr) {
		return "", fmt.Errorf("upload of %s failed: %w", fileName, uploadErr)
	}
	if dumpErr != nil {
		return "", dumpErr
	}
	if closeErr != nil {
		return "", fmt.Errorf("cannot finish archive: %w", closeErr)
	}

	archiveLogger.Info("archival finished", "object", fileName)
	return fileName, nil
}
