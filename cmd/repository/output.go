package repository

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/vshn/timevault/engine/dto"
	"github.com/vshn/timevault/orchestrator"
	"github.com/vshn/timevault/retention"
)

const (
	actionKeep  = "keep"
	actionPrune = "prune"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func shortID(s dto.Snapshot) string {
	if s.ShortID != "" {
		return s.ShortID
	}
	if len(s.ID) > 8 {
		return s.ID[:8]
	}
	return s.ID
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatBytes renders n with binary prefixes, e.g. 1.5 KiB.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func printSnapshots(w io.Writer, snapshots []dto.Snapshot) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tTIME\tHOST\tTAGS\tPATHS\tSIZE")
	for _, s := range snapshots {
		size := "-"
		if s.SizeBytes != nil {
			size = formatBytes(*s.SizeBytes)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(s), formatTime(s.Time), s.Hostname, strings.Join(s.Tags, ","), strings.Join(s.Paths, ","), size)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d snapshots\n", len(snapshots))
	return err
}

// printDecision lists every evaluated snapshot newest first together with
// the bucket that keeps it.
func printDecision(w io.Writer, d retention.Decision) error {
	rows := make([]dto.Snapshot, 0, len(d.Keep)+len(d.Prune))
	rows = append(rows, d.Keep...)
	rows = append(rows, d.Prune...)
	pruned := make(map[string]bool, len(d.Prune))
	for _, s := range d.Prune {
		pruned[s.ID] = true
	}
	sortNewestFirst(rows)

	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tTIME\tACTION\tBUCKET")
	for _, s := range rows {
		action, bucket := actionKeep, string(d.Reasons[s.ID])
		if pruned[s.ID] {
			action, bucket = actionPrune, "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", shortID(s), formatTime(s.Time), action, bucket)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "keep %d, prune %d\n", len(d.Keep), len(d.Prune))
	return err
}

func sortNewestFirst(snapshots []dto.Snapshot) {
	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].Newer(snapshots[j])
	})
}

func printReport(w io.Writer, set string, r orchestrator.Report) {
	b := r.Backup
	fmt.Fprintf(w, "backup set %s: snapshot %s\n", set, b.SnapshotID)
	fmt.Fprintf(w, "  files: %d new, %d changed, %d unmodified\n", b.FilesNew, b.FilesChanged, b.FilesUnmodified)
	fmt.Fprintf(w, "  dirs:  %d new, %d changed, %d unmodified\n", b.DirsNew, b.DirsChanged, b.DirsUnmodified)
	fmt.Fprintf(w, "  added: %s of %s processed in %s\n",
		formatBytes(b.BytesAdded), formatBytes(b.TotalBytesProcessed), b.Duration.Round(time.Second))
	printRetention(w, r)
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}

func printRetention(w io.Writer, r orchestrator.Report) {
	fmt.Fprintf(w, "  retention: %d snapshots, keep %d, prune %d\n",
		len(r.Snapshots), len(r.Decision.Keep), len(r.Decision.Prune))
	if r.Pruned {
		fmt.Fprintf(w, "  pruned: %d snapshots, reclaimed %s\n", r.Prune.RemovedCount, formatBytes(r.Prune.ReclaimedBytes))
	}
}
