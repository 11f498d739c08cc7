package restic

import (
	"context"

	"github.com/vshn/timevault/engine"
	"github.com/vshn/timevault/engine/logging"
)

// Prune removes exactly the given snapshots and the data only they reference.
// All ids have to be part of the last listing, otherwise nothing is touched.
func (r *Restic) Prune(ctx context.Context, ids []string) (engine.PruneResult, error) {
	if len(ids) == 0 {
		return engine.PruneResult{}, engine.ErrNoSnapshotIDs
	}

	r.opLock.Lock()
	defer r.opLock.Unlock()

	prunelogger := r.logger.WithName("prune")

	ids, unknown := r.checkListed(ids)
	if len(unknown) > 0 {
		err := &engine.UnknownSnapshotError{IDs: unknown}
		prunelogger.Error(err, "refusing to prune snapshots that are not part of the last listing")
		return engine.PruneResult{}, err
	}

	prunelogger.Info("pruning repository", "snapshots", ids)

	sizeBefore, errBefore := r.rawDataSize(ctx, prunelogger)

	resticPruneLogger := prunelogger.WithName("restic")
	args := append([]string{"--prune"}, ids...)
	cmd := r.newCommand(ctx, prunelogger, r.opts.Timeout, r.globalFlags.ApplyToCommand("forget", args...),
		logging.NewInfoWriter(resticPruneLogger), logging.NewErrorWriter(resticPruneLogger))
	cmd.Run()

	if err := executionError("forget", cmd); err != nil {
		return engine.PruneResult{}, err
	}
	r.forgetListed(ids)

	result := engine.PruneResult{
		Removed:      ids,
		RemovedCount: len(ids),
	}

	if errBefore != nil {
		prunelogger.Error(errBefore, "cannot determine repository size, reclaimed space unknown")
		return result, nil
	}
	sizeAfter, err := r.rawDataSize(ctx, prunelogger)
	if err != nil {
		prunelogger.Error(err, "cannot determine repository size, reclaimed space unknown")
		return result, nil
	}
	if sizeBefore > sizeAfter {
		result.ReclaimedBytes = sizeBefore - sizeAfter
	}

	prunelogger.Info("prune finished", "removed", result.RemovedCount, "reclaimedBytes", result.ReclaimedBytes)
	return result, nil
}

// checkListed deduplicates ids and returns those not found in the last listing.
// Short ids are accepted and translated to full ids.
func (r *Restic) checkListed(ids []string) (known, unknown []string) {
	snaps, _ := r.lastListing()

	byID := make(map[string]string, 2*len(snaps))
	for _, s := range snaps {
		byID[s.ID] = s.ID
		if s.ShortID != "" {
			byID[s.ShortID] = s.ID
		}
	}

	seen := map[string]bool{}
	for _, id := range ids {
		full, ok := byID[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		if !seen[full] {
			seen[full] = true
			known = append(known, full)
		}
	}
	return known, unknown
}
