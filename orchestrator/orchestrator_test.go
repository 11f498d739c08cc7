package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/vshn/timevault/engine"
	"github.com/vshn/timevault/engine/dto"
	"github.com/vshn/timevault/retention"
)

var now = time.Date(2024, time.March, 8, 12, 45, 0, 0, time.UTC)

type OrchestratorTestSuite struct {
	suite.Suite

	ctx    context.Context
	log    logr.Logger
	engine *fakeEngine
	policy retention.Policy
}

func Test_Orchestrator(t *testing.T) {
	suite.Run(t, new(OrchestratorTestSuite))
}

func (ts *OrchestratorTestSuite) SetupTest() {
	ts.ctx = context.Background()
	ts.log = zapr.NewLogger(zaptest.NewLogger(ts.T()))
	ts.engine = &fakeEngine{
		backupResult: engine.BackupResult{SnapshotID: "new", FilesNew: 3, BytesAdded: 4096},
	}
	ts.policy = retention.Policy{Hourly: 2, Daily: 1}
}

func (ts *OrchestratorTestSuite) newOrchestrator(opts ...Option) *Orchestrator {
	opts = append([]Option{WithClock(func() time.Time { return now }), WithHost("laptop")}, opts...)
	return New(ts.engine, ts.log, opts...)
}

func (ts *OrchestratorTestSuite) givenSnapshots(ages ...time.Duration) {
	for i, age := range ages {
		ts.engine.snapshots = append(ts.engine.snapshots, dto.Snapshot{
			ID:    string(rune('a' + i)),
			Time:  now.Add(-age),
			Paths: []string{"/home/u"},
			Tags:  []string{"home"},
		})
	}
}

func (ts *OrchestratorTestSuite) givenScenarioSnapshots() {
	ts.givenSnapshots(30*time.Minute, 90*time.Minute, 3*time.Hour, 25*time.Hour)
}

func (ts *OrchestratorTestSuite) whenRun(opts ...Option) (Report, error) {
	return ts.newOrchestrator(opts...).Run(ts.ctx, []string{"/home/u"}, ts.policy, "home")
}

func (ts *OrchestratorTestSuite) thenCallsAre(backup, list, prune int) {
	ts.Equal(backup, ts.engine.backupCalls, "backup calls")
	ts.Equal(list, ts.engine.listCalls, "list calls")
	ts.Equal(prune, ts.engine.pruneCalls, "prune calls")
}

func (ts *OrchestratorTestSuite) TestRun_PrunesWhatThePolicyDoesNotKeep() {
	ts.givenScenarioSnapshots()

	report, err := ts.whenRun()

	ts.Require().NoError(err)
	ts.thenCallsAre(1, 1, 1)
	ts.Equal([]string{"a", "b", "d"}, report.Decision.KeepIDs())
	ts.Equal([]string{"c"}, ts.engine.pruned)
	ts.True(report.Pruned)
	ts.Equal(1, report.Prune.RemovedCount)
	ts.Empty(report.Warnings)
	ts.Equal(now, report.Started)
	ts.Equal(now, report.Finished)
}

func (ts *OrchestratorTestSuite) TestRun_SoftFailureProceedsToPrune() {
	ts.givenScenarioSnapshots()
	ts.engine.backupResult.Warnings = []engine.SoftBackupWarning{
		{Item: "/home/u/locked.db", During: "archival", Message: "permission denied"},
		{Item: "/home/u/.socket", Message: "not a regular file"},
	}

	report, err := ts.whenRun()

	ts.Require().NoError(err)
	ts.thenCallsAre(1, 1, 1)
	ts.True(report.Backup.Partial())
	ts.Equal([]string{
		"/home/u/locked.db (archival): permission denied",
		"/home/u/.socket: not a regular file",
	}, report.Warnings)
	ts.True(report.Pruned)
}

func (ts *OrchestratorTestSuite) TestRun_HardFailureAbortsBeforeListing() {
	ts.givenScenarioSnapshots()
	ts.engine.backupErr = &engine.ExecutionError{Command: "restic backup", ExitCode: 1, StderrTail: "Fatal: unable to open repository"}

	report, err := ts.whenRun()

	var execErr *engine.ExecutionError
	ts.Require().ErrorAs(err, &execErr)
	ts.Equal(1, execErr.ExitCode)
	ts.thenCallsAre(1, 0, 0)
	ts.False(report.Pruned)
	ts.Len(ts.engine.snapshots, 4)
}

func (ts *OrchestratorTestSuite) TestRun_ListFailureIsWarning() {
	ts.engine.listErr = errors.New("repository busy")

	report, err := ts.whenRun()

	ts.Require().NoError(err)
	ts.thenCallsAre(1, 1, 0)
	ts.Equal([]string{"cannot list snapshots: repository busy"}, report.Warnings)
	ts.Equal("new", report.Backup.SnapshotID)
}

func (ts *OrchestratorTestSuite) TestRun_PruneFailureIsWarning() {
	ts.givenScenarioSnapshots()
	ts.engine.pruneErr = &engine.ExecutionError{Command: "restic forget", ExitCode: 1}

	report, err := ts.whenRun()

	ts.Require().NoError(err)
	ts.thenCallsAre(1, 1, 1)
	ts.False(report.Pruned)
	ts.Require().Len(report.Warnings, 1)
	ts.Contains(report.Warnings[0], "cannot prune snapshots: restic forget failed with exit code 1")
	ts.Len(ts.engine.snapshots, 4)
}

func (ts *OrchestratorTestSuite) TestRun_NothingToPrune() {
	ts.givenSnapshots(30 * time.Minute)

	report, err := ts.whenRun()

	ts.Require().NoError(err)
	ts.thenCallsAre(1, 1, 0)
	ts.False(report.Pruned)
	ts.Empty(report.Decision.Prune)
}

func (ts *OrchestratorTestSuite) TestRun_DryRunDoesNotPrune() {
	ts.givenScenarioSnapshots()

	report, err := ts.whenRun(WithDryRun(true))

	ts.Require().NoError(err)
	ts.thenCallsAre(1, 1, 0)
	ts.Equal([]string{"c"}, report.Decision.PruneIDs())
	ts.False(report.Pruned)
}

func (ts *OrchestratorTestSuite) TestRun_PassesBackupSet() {
	ts.policy.ExcludePatterns = []string{"*.tmp", "/home/u/.cache"}

	_, err := ts.whenRun()

	ts.Require().NoError(err)
	ts.Equal(engine.BackupRequest{
		Paths:    []string{"/home/u"},
		Excludes: []string{"*.tmp", "/home/u/.cache"},
		Tags:     []string{"home"},
		Host:     "laptop",
	}, ts.engine.lastBackup)
	ts.Equal([]string{"home"}, ts.engine.lastListTags)
}

func (ts *OrchestratorTestSuite) TestRun_OnlyEvaluatesTheBackupSet() {
	ts.givenScenarioSnapshots()
	ts.engine.snapshots = append(ts.engine.snapshots, dto.Snapshot{ID: "other", Time: now.Add(-3 * time.Hour), Tags: []string{"manifest"}})

	report, err := ts.whenRun()

	ts.Require().NoError(err)
	ts.Len(report.Snapshots, 4)
	ts.NotContains(ts.engine.pruned, "other")
}

func (ts *OrchestratorTestSuite) TestRun_WithoutPaths() {
	_, err := ts.newOrchestrator().Run(ts.ctx, nil, ts.policy)

	ts.Error(err)
	ts.thenCallsAre(0, 0, 0)
}

func (ts *OrchestratorTestSuite) TestRun_LocksRepository() {
	locker := &fakeLocker{}

	_, err := ts.whenRun(WithLocker(locker, "s3:https://s3.example.com/backups"))

	ts.Require().NoError(err)
	ts.Equal([]string{"s3:https://s3.example.com/backups"}, locker.locked)
	ts.Equal(1, locker.released)
}

func (ts *OrchestratorTestSuite) TestRun_LockedRepository() {
	locker := &fakeLocker{err: errors.New("locked by pid 42")}

	_, err := ts.whenRun(WithLocker(locker, "repo"))

	ts.ErrorContains(err, "cannot lock repository: locked by pid 42")
	ts.thenCallsAre(0, 0, 0)
}

func (ts *OrchestratorTestSuite) TestRun_SendsStats() {
	ts.givenScenarioSnapshots()
	handler := &fakeStatsHandler{err: errors.New("connection refused")}

	_, err := ts.whenRun(WithStatsHandler(handler))

	ts.Require().NoError(err)
	ts.Require().Len(handler.webhooks, 1)
	ts.Equal(12, handler.prom)

	stats := BackupStats{}
	ts.Require().NoError(json.Unmarshal(handler.webhooks[0], &stats))
	ts.Equal("laptop", stats.Name)
	ts.Equal([]string{"home"}, stats.Tags)
	ts.Equal("new", stats.BackupMetrics.ID)
	ts.Equal(float64(3), stats.BackupMetrics.NewFiles)
	ts.Equal(float64(1), stats.BackupMetrics.PrunedSnapshots)
	ts.Equal(float64(3), stats.BackupMetrics.AvailableSnapshots)
	ts.Empty(stats.Error)
}

func (ts *OrchestratorTestSuite) TestRun_SendsStatsOnFailure() {
	ts.engine.backupErr = errors.New("boom")
	handler := &fakeStatsHandler{}

	_, err := ts.whenRun(WithStatsHandler(handler))

	ts.Require().Error(err)
	ts.Require().Len(handler.webhooks, 1)
	stats := BackupStats{}
	ts.Require().NoError(json.Unmarshal(handler.webhooks[0], &stats))
	ts.Equal("backup failed: boom", stats.Error)
	ts.Equal(float64(1), stats.BackupMetrics.Errors)
}

func (ts *OrchestratorTestSuite) TestApplyRetention() {
	ts.givenScenarioSnapshots()

	report, err := ts.newOrchestrator().ApplyRetention(ts.ctx, ts.policy, "home")

	ts.Require().NoError(err)
	ts.thenCallsAre(0, 1, 1)
	ts.Equal([]string{"c"}, report.Decision.PruneIDs())
	ts.True(report.Pruned)
}

func (ts *OrchestratorTestSuite) TestApplyRetention_ListFailureIsError() {
	ts.engine.listErr = errors.New("repository busy")

	_, err := ts.newOrchestrator().ApplyRetention(ts.ctx, ts.policy)

	ts.ErrorContains(err, "cannot list snapshots")
	ts.thenCallsAre(0, 1, 0)
}

func (ts *OrchestratorTestSuite) TestApplyRetention_KeepsNothing() {
	ts.givenScenarioSnapshots()

	report, err := ts.newOrchestrator().ApplyRetention(ts.ctx, retention.Policy{})

	ts.Require().NoError(err)
	ts.Empty(report.Decision.Keep)
	ts.Len(ts.engine.pruned, 4)
	ts.Empty(ts.engine.snapshots)
}
