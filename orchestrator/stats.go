package orchestrator

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vshn/timevault/engine/dto"
)

const (
	prometheusNamespace = "timevault"
	prometheusSubsystem = "backup"
)

var (
	_ PrometheusProvider = &BackupStats{}
	_ WebhookProvider    = &BackupStats{}
)

// RawMetrics contains the raw metrics of a run.
// Webhook data and prometheus statistics are derived from it.
type RawMetrics struct {
	BackupStartTimestamp float64 `json:"backup_start_timestamp"`
	BackupEndTimestamp   float64 `json:"backup_end_timestamp"`
	Errors               float64 `json:"errors"`
	NewFiles             float64 `json:"new_files"`
	ChangedFiles         float64 `json:"changed_files"`
	UnmodifiedFiles      float64 `json:"unmodified_files"`
	NewDirs              float64 `json:"new_dirs"`
	ChangedDirs          float64 `json:"changed_dirs"`
	UnmodifiedDirs       float64 `json:"unmodified_dirs"`
	DataTransferred      float64 `json:"data_transferred"`
	AvailableSnapshots   float64 `json:"available_snapshots"`
	PrunedSnapshots      float64 `json:"pruned_snapshots"`
	ReclaimedBytes       float64 `json:"reclaimed_bytes"`
	ID                   string  `json:"id"`
	host                 string
	set                  string
}

type BackupStats struct {
	Name          string         `json:"name,omitempty"`
	Paths         []string       `json:"paths,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	Error         string         `json:"error,omitempty"`
	BackupMetrics *RawMetrics    `json:"backup_metrics,omitempty"`
	Snapshots     []dto.Snapshot `json:"snapshots,omitempty"`
}

type PromMetrics struct {
	Errors             *prometheus.GaugeVec
	AvailableSnapshots *prometheus.GaugeVec
	NewFiles           *prometheus.GaugeVec
	ChangedFiles       *prometheus.GaugeVec
	UnmodifiedFiles    *prometheus.GaugeVec
	NewDirs            *prometheus.GaugeVec
	ChangedDirs        *prometheus.GaugeVec
	UnmodifiedDirs     *prometheus.GaugeVec
	DataTransferred    *prometheus.GaugeVec
	PrunedSnapshots    *prometheus.GaugeVec
	ReclaimedBytes     *prometheus.GaugeVec
	LastRun            *prometheus.GaugeVec
}

// newBackupStats derives the stats of a run. runErr is the error that aborted the run, if any.
func newBackupStats(host string, paths, tags []string, report Report, runErr error) *BackupStats {
	errorCount := len(report.Warnings)
	stats := &BackupStats{
		Name:      host,
		Paths:     paths,
		Tags:      tags,
		Warnings:  report.Warnings,
		Snapshots: report.Decision.Keep,
	}
	if runErr != nil {
		stats.Error = runErr.Error()
		errorCount++
	}

	b := report.Backup
	stats.BackupMetrics = &RawMetrics{
		BackupStartTimestamp: float64(report.Started.Unix()),
		BackupEndTimestamp:   float64(report.Finished.Unix()),
		Errors:               float64(errorCount),
		NewFiles:             float64(b.FilesNew),
		ChangedFiles:         float64(b.FilesChanged),
		UnmodifiedFiles:      float64(b.FilesUnmodified),
		NewDirs:              float64(b.DirsNew),
		ChangedDirs:          float64(b.DirsChanged),
		UnmodifiedDirs:       float64(b.DirsUnmodified),
		DataTransferred:      float64(b.BytesAdded),
		AvailableSnapshots:   float64(len(report.Decision.Keep)),
		PrunedSnapshots:      float64(report.Prune.RemovedCount),
		ReclaimedBytes:       float64(report.Prune.ReclaimedBytes),
		ID:                   b.SnapshotID,
		host:                 host,
		set:                  strings.Join(tags, ","),
	}
	return stats
}

func newPromMetrics() *PromMetrics {
	labels := []string{
		"host",
		"backup_set",
	}

	return &PromMetrics{
		Errors:             gaugeVec("last_errors", "How many errors the last run had", labels),
		AvailableSnapshots: gaugeVec("available_snapshots", "How many snapshots the retention policy keeps", labels),
		NewFiles:           gaugeVec("new_files_during_backup", "How many new files were backed up during the last backup", labels),
		ChangedFiles:       gaugeVec("changed_files_during_backup", "How many changed files were backed up during the last backup", labels),
		UnmodifiedFiles:    gaugeVec("unmodified_files_during_backup", "How many files were skipped due to no modifications", labels),
		NewDirs:            gaugeVec("new_directories_during_backup", "How many new directories were backed up during the last backup", labels),
		ChangedDirs:        gaugeVec("changed_directories_during_backup", "How many changed directories were backed up during the last backup", labels),
		UnmodifiedDirs:     gaugeVec("unmodified_directories_during_backup", "How many directories were skipped due to no modifications", labels),
		DataTransferred:    gaugeVec("data_transferred_during_backup", "Amount of data added to the repository during last backup", labels),
		PrunedSnapshots:    gaugeVec("pruned_snapshots", "How many snapshots the last run pruned", labels),
		ReclaimedBytes:     gaugeVec("reclaimed_bytes", "How many bytes the last prune freed", labels),
		LastRun:            gaugeVec("last_run_timestamp_seconds", "When the last run finished", labels),
	}
}

func gaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: prometheusNamespace,
		Subsystem: prometheusSubsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (r *RawMetrics) prometheus() *PromMetrics {
	metrics := newPromMetrics()

	metrics.Errors.WithLabelValues(r.host, r.set).Set(r.Errors)
	metrics.AvailableSnapshots.WithLabelValues(r.host, r.set).Set(r.AvailableSnapshots)
	metrics.NewFiles.WithLabelValues(r.host, r.set).Set(r.NewFiles)
	metrics.ChangedFiles.WithLabelValues(r.host, r.set).Set(r.ChangedFiles)
	metrics.UnmodifiedFiles.WithLabelValues(r.host, r.set).Set(r.UnmodifiedFiles)
	metrics.NewDirs.WithLabelValues(r.host, r.set).Set(r.NewDirs)
	metrics.ChangedDirs.WithLabelValues(r.host, r.set).Set(r.ChangedDirs)
	metrics.UnmodifiedDirs.WithLabelValues(r.host, r.set).Set(r.UnmodifiedDirs)
	metrics.DataTransferred.WithLabelValues(r.host, r.set).Set(r.DataTransferred)
	metrics.PrunedSnapshots.WithLabelValues(r.host, r.set).Set(r.PrunedSnapshots)
	metrics.ReclaimedBytes.WithLabelValues(r.host, r.set).Set(r.ReclaimedBytes)
	metrics.LastRun.WithLabelValues(r.host, r.set).Set(r.BackupEndTimestamp)

	return metrics
}

func (b *BackupStats) ToJSON() []byte {
	jsonData, _ := json.Marshal(b)
	return jsonData
}

func (b *BackupStats) ToProm() []prometheus.Collector {
	return b.BackupMetrics.prometheus().ToProm()
}

func (p *PromMetrics) ToProm() []prometheus.Collector {
	return []prometheus.Collector{
		p.Errors,
		p.AvailableSnapshots,
		p.NewFiles,
		p.ChangedFiles,
		p.UnmodifiedFiles,
		p.NewDirs,
		p.ChangedDirs,
		p.UnmodifiedDirs,
		p.DataTransferred,
		p.PrunedSnapshots,
		p.ReclaimedBytes,
		p.LastRun,
	}
}
