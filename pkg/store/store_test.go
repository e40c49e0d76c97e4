package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testplatform/runtrackr/pkg/config"
	"github.com/testplatform/runtrackr/pkg/lifecycle"
	"github.com/testplatform/runtrackr/pkg/store"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func createTestRun(t *testing.T, s store.Store) *store.Run {
	t.Helper()

	run := &store.Run{
		Platform: "linux",
		Kind:     store.KindCommit,
		Branch:   "master",
		Commit:   "abc123",
	}
	require.NoError(t, s.CreateRun(context.Background(), run))

	return run
}

func TestStore_CreateRunGeneratesToken(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := createTestRun(t, s)
	assert.Len(t, run.Token, 64)

	other := &store.Run{
		Platform: "windows",
		Kind:     store.KindPullRequest,
		Branch:   "fix/crash",
		Commit:   "def456",
		PRNumber: 42,
	}
	require.NoError(t, s.CreateRun(ctx, other))
	assert.NotEqual(t, run.Token, other.Token)

	// Lookup by both id and token.
	byID, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Token, byID.Token)

	byToken, err := s.GetRunByToken(ctx, other.Token)
	require.NoError(t, err)
	assert.Equal(t, other.ID, byToken.ID)
	assert.Equal(t, 42, byToken.PRNumber)
}

func TestStore_CreateRunKeepsSuppliedToken(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := &store.Run{
		Token:    "fixed-token",
		Platform: "linux",
		Kind:     store.KindCommit,
		Branch:   "master",
		Commit:   "abc123",
	}
	require.NoError(t, s.CreateRun(ctx, run))
	assert.Equal(t, "fixed-token", run.Token)
}

func TestStore_EventLog(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := createTestRun(t, s)

	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendEvent(
		ctx, run.ID, lifecycle.StagePreparation, "queued", t0,
	))
	require.NoError(t, s.AppendEvent(
		ctx, run.ID, lifecycle.StageBuilding, "compiling", t0.Add(time.Minute),
	))
	require.NoError(t, s.AppendEvent(
		ctx, run.ID, lifecycle.StageTesting, "running cases", t0.Add(2*time.Minute),
	))

	events, err := s.ListEvents(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Insertion order, UTC timestamps.
	assert.Equal(t, lifecycle.StagePreparation, events[0].Stage)
	assert.Equal(t, lifecycle.StageBuilding, events[1].Stage)
	assert.Equal(t, lifecycle.StageTesting, events[2].Stage)

	for _, e := range events {
		assert.Equal(t, time.UTC, e.Timestamp.Location())
		assert.Equal(t, run.ID, e.RunID)
	}

	assert.True(t, events[0].Timestamp.Equal(t0))

	last, err := s.LastEvent(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, lifecycle.StageTesting, last.Stage)
}

func TestStore_AppendEventNormalizesTimezone(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := createTestRun(t, s)

	loc := time.FixedZone("UTC+5", 5*60*60)
	local := time.Date(2025, 3, 1, 17, 0, 0, 0, loc)

	require.NoError(t, s.AppendEvent(
		ctx, run.ID, lifecycle.StagePreparation, "", local,
	))

	events, err := s.ListEvents(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, time.UTC, events[0].Timestamp.Location())
	assert.True(t, events[0].Timestamp.Equal(local))
}

func TestStore_LastEventEmpty(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := createTestRun(t, s)

	last, err := s.LastEvent(ctx, run.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	events, err := s.ListEvents(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStore_CaseResults(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := createTestRun(t, s)

	require.NoError(t, s.CreateCaseResult(ctx, &store.CaseResult{
		RunID: run.ID, CaseID: 2, RuntimeMS: 150, ExitCode: 0, ExpectedExitCode: 0,
	}))
	require.NoError(t, s.CreateCaseResult(ctx, &store.CaseResult{
		RunID: run.ID, CaseID: 1, RuntimeMS: 90, ExitCode: 1, ExpectedExitCode: 0,
	}))

	results, err := s.ListCaseResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint(1), results[0].CaseID)
	assert.Equal(t, uint(2), results[1].CaseID)
}

func TestStore_OutputComparisons(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := createTestRun(t, s)

	matching := &store.CaseOutputComparison{
		RunID: run.ID, CaseID: 1, OutputID: 1, ExpectedFile: "sample1.txt",
	}
	differing := &store.CaseOutputComparison{
		RunID: run.ID, CaseID: 1, OutputID: 2,
		ExpectedFile: "sample2.txt", ActualFile: "sample2_got.txt",
	}

	require.NoError(t, s.CreateOutputComparison(ctx, matching))
	require.NoError(t, s.CreateOutputComparison(ctx, differing))

	cmps, err := s.ListOutputComparisons(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, cmps, 2)
	assert.True(t, cmps[0].Matches())
	assert.False(t, cmps[1].Matches())

	got, err := s.GetOutputComparison(ctx, run.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "sample2_got.txt", got.ActualFile)

	_, err = s.GetOutputComparison(ctx, run.ID, 1, 99)
	assert.Error(t, err)
}

func TestStore_DeleteRunCascades(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := createTestRun(t, s)

	require.NoError(t, s.AppendEvent(
		ctx, run.ID, lifecycle.StagePreparation, "", time.Time{},
	))
	require.NoError(t, s.CreateCaseResult(ctx, &store.CaseResult{
		RunID: run.ID, CaseID: 1,
	}))
	require.NoError(t, s.CreateOutputComparison(ctx, &store.CaseOutputComparison{
		RunID: run.ID, CaseID: 1, OutputID: 1, ExpectedFile: "x",
	}))

	require.NoError(t, s.DeleteRun(ctx, run.ID))

	_, err := s.GetRun(ctx, run.ID)
	assert.Error(t, err)

	events, err := s.ListEvents(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, events)

	results, err := s.ListCaseResults(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, results)

	cmps, err := s.ListOutputComparisons(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, cmps)
}

func TestStore_SeedUsers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	users := []config.AuthUser{
		{Username: "admin", Password: "hunter2", Role: "admin"},
	}
	require.NoError(t, s.SeedUsers(ctx, users))

	user, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", user.Role)
	assert.NotEqual(t, "hunter2", user.PasswordHash)

	// Seeding again updates in place rather than duplicating.
	users[0].Role = "viewer"
	require.NoError(t, s.SeedUsers(ctx, users))

	user, err = s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "viewer", user.Role)

	_, err = s.GetUserByUsername(ctx, "nobody")
	assert.Error(t, err)
}
