package restic

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/goccy/go-json"

	"github.com/vshn/timevault/engine"
	"github.com/vshn/timevault/engine/dto"
	"github.com/vshn/timevault/engine/logging"
)

// resticSnapshot is a single element of `restic snapshots --json`.
type resticSnapshot struct {
	dto.Snapshot
	Summary *struct {
		TotalBytesProcessed *int64 `json:"total_bytes_processed"`
	} `json:"summary,omitempty"`
}

// Snapshots lists all the snapshots from the repository that carry every
// given tag and saves them in the restic instance for further use.
func (r *Restic) Snapshots(ctx context.Context, tags ...string) ([]dto.Snapshot, error) {
	r.opLock.RLock()
	defer r.opLock.RUnlock()

	return r.listSnapshots(ctx, tags)
}

func (r *Restic) listSnapshots(ctx context.Context, tags []string) ([]dto.Snapshot, error) {
	snaplogger := r.logger.WithName("snapshots")

	snaplogger.Info("getting list of snapshots", "tags", tags)

	args := []string{"--json"}
	if len(tags) > 0 {
		// a comma separated list within one --tag matches snapshots carrying all of them
		args = append(args, "--tag", strings.Join(tags, ","))
	}

	var (
		snaps     []dto.Snapshot
		decodeErr error
	)
	stdout, waitStdout := consume(func(rd io.Reader) {
		snaps, decodeErr = decodeSnapshots(rd, snaplogger)
	})

	cmd := r.newCommand(ctx, snaplogger, r.opts.ListTimeout, r.globalFlags.ApplyToCommand("snapshots", args...),
		stdout, logging.NewErrorWriter(snaplogger.WithName("restic")))
	cmd.Run()
	waitStdout()

	if err := executionError("snapshots", cmd); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("cannot decode snapshot list: %w", decodeErr)
	}

	filtered := snaps[:0]
	for _, s := range snaps {
		if s.HasTags(tags...) {
			filtered = append(filtered, s)
		}
	}

	r.setListing(filtered)
	return append([]dto.Snapshot(nil), filtered...), nil
}

// decodeSnapshots decodes the JSON array element by element. Elements that
// don't describe a snapshot are skipped.
func decodeSnapshots(rd io.Reader, log logr.Logger) ([]dto.Snapshot, error) {
	dec := json.NewDecoder(rd)

	tok, err := dec.Token()
	if err == io.EOF {
		return []dto.Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("expected a JSON array, got %v", tok)
	}

	snaps := make([]dto.Snapshot, 0)
	for index := 0; dec.More(); index++ {
		raw := json.RawMessage{}
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}

		snap, err := parseSnapshot(raw)
		if err != nil {
			log.Info("skipping malformed snapshot entry", "index", index, "error", err.Error())
			continue
		}
		snaps = append(snaps, snap)
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return snaps, nil
}

func parseSnapshot(raw json.RawMessage) (dto.Snapshot, error) {
	rs := resticSnapshot{}
	if err := json.Unmarshal(raw, &rs); err != nil {
		return dto.Snapshot{}, err
	}
	if rs.ID == "" {
		return dto.Snapshot{}, fmt.Errorf("snapshot without id")
	}
	if rs.Time.IsZero() {
		return dto.Snapshot{}, fmt.Errorf("snapshot %s without time", rs.ID)
	}

	snap := rs.Snapshot
	snap.Time = snap.Time.UTC().Truncate(time.Second)
	if rs.Summary != nil && rs.Summary.TotalBytesProcessed != nil {
		size := *rs.Summary.TotalBytesProcessed
		snap.SizeBytes = &size
	}
	return snap, nil
}

// resolveSnapshot finds a snapshot by full id or unique prefix in the last
// listing, fetching a listing first if there is none. An empty id selects
// the newest snapshot.
func (r *Restic) resolveSnapshot(ctx context.Context, id string) (dto.Snapshot, error) {
	snaps, listed := r.lastListing()
	if !listed {
		var err error
		snaps, err = r.listSnapshots(ctx, nil)
		if err != nil {
			return dto.Snapshot{}, err
		}
	}

	if id == "" {
		if len(snaps) == 0 {
			return dto.Snapshot{}, &engine.UnknownSnapshotError{IDs: []string{"latest"}}
		}
		latest := snaps[0]
		for _, s := range snaps[1:] {
			if s.Newer(latest) {
				latest = s
			}
		}
		return latest, nil
	}

	var matches []dto.Snapshot
	for _, s := range snaps {
		if s.ID == id {
			return s, nil
		}
		// Doing prefixes so we can also use short IDs here.
		if strings.HasPrefix(s.ID, id) {
			matches = append(matches, s)
		}
	}
	if len(matches) != 1 {
		return dto.Snapshot{}, &engine.UnknownSnapshotError{IDs: []string{id}}
	}
	return matches[0], nil
}
