package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *SQLiteLogger {
	t.Helper()
	logger, err := NewSQLiteLogger(filepath.Join(t.TempDir(), "audit", "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestRecordAndQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := newTestLogger(t)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := []*Entry{
		{Timestamp: base, Component: "doctor", Task: "health-check", Action: "restart", AgentID: "legacy-dialogue-1", Success: true, Duration: 20 * time.Millisecond},
		{Timestamp: base.Add(time.Minute), Component: "doctor", Task: "spawn-agent", Action: "spawn", AgentType: "dialogue", Success: true, Details: map[string]any{"reason": "no healthy agent"}},
		{Timestamp: base.Add(2 * time.Minute), Component: "doctor", Task: "spawn-agent", Action: "spawn", AgentType: "plot-structure", Success: false, Error: "provider missing"},
	}
	for _, e := range entries {
		require.NoError(t, logger.Record(ctx, e))
		assert.NotZero(t, e.ID)
	}

	all, err := logger.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "plot-structure", all[0].AgentType)
	assert.Equal(t, "provider missing", all[0].Error)
	assert.Equal(t, "no healthy agent", all[1].Details["reason"])
	assert.Equal(t, 20*time.Millisecond, all[2].Duration)

	spawns, err := logger.Query(ctx, Filter{Task: "spawn-agent", Limit: 1})
	require.NoError(t, err)
	require.Len(t, spawns, 1)
	assert.Equal(t, "plot-structure", spawns[0].AgentType)

	ok := true
	successes, err := logger.Query(ctx, Filter{Success: &ok})
	require.NoError(t, err)
	assert.Len(t, successes, 2)

	since := base.Add(30 * time.Second)
	recent, err := logger.Query(ctx, Filter{Since: &since, AgentID: ""})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := newTestLogger(t)

	empty, err := logger.Stats(ctx, "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, Stats{}, *empty)

	now := time.Now()
	require.NoError(t, logger.Record(ctx, &Entry{Timestamp: now, Component: "doctor", Task: "health-check", Action: "restart", Success: true, Duration: 10 * time.Millisecond}))
	require.NoError(t, logger.Record(ctx, &Entry{Timestamp: now, Component: "doctor", Task: "health-check", Action: "restart", Success: false, Duration: 30 * time.Millisecond}))
	require.NoError(t, logger.Record(ctx, &Entry{Timestamp: now, Component: "doctor", Task: "spawn-agent", Action: "spawn", Success: true}))

	stats, err := logger.Stats(ctx, "health-check", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Successful)
	assert.InDelta(t, 0.5, stats.ErrorRate, 1e-9)
	assert.Equal(t, 20*time.Millisecond, stats.AverageDuration)

	all, err := logger.Stats(ctx, "", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
}

func TestInMemoryDatabase(t *testing.T) {
	t.Parallel()
	logger, err := NewSQLiteLogger(":memory:")
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.Record(context.Background(), &Entry{Component: "doctor", Task: "emergency-response", Action: "restart-all", Success: true}))
	entries, err := logger.Query(context.Background(), Filter{Component: "doctor"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Timestamp.IsZero())
}
