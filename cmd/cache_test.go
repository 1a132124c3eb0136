package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCacheCmd(t *testing.T, c *cobra.Command) string {
	t.Helper()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetContext(context.Background())
	t.Cleanup(func() { c.SetOut(nil) })
	require.NoError(t, c.RunE(c, nil))
	return out.String()
}

func TestCacheCommands_NoAPIKeys(t *testing.T) {
	cfg = loadTestConfig(t)
	t.Cleanup(func() { cfg = nil })
	cfg.Google.Key = ""
	cfg.Anthropic.Enabled = true
	cfg.Anthropic.Key = ""
	cfg.Snapshot.Driver = "sqlite"
	cfg.Snapshot.Path = "snap.db"

	// A service shutdown writes the snapshot.
	env, err := initService(context.Background(), "cache")
	require.NoError(t, err)
	env.Close()

	var stats snapshotStats
	require.NoError(t, json.Unmarshal([]byte(runCacheCmd(t, cacheStatsCmd)), &stats))
	assert.Equal(t, "sqlite", stats.Driver)
	assert.Zero(t, stats.Entries)
	require.NotNil(t, stats.SavedAt)

	cacheCategory = ""
	assert.Contains(t, runCacheCmd(t, cacheClearCmd), "removed 0 cached results")

	stats = snapshotStats{}
	require.NoError(t, json.Unmarshal([]byte(runCacheCmd(t, cacheStatsCmd)), &stats))
	assert.Nil(t, stats.SavedAt, "clear without a category deletes the snapshot")
}

func TestCacheStats_NoSnapshotStore(t *testing.T) {
	cfg = loadTestConfig(t)
	t.Cleanup(func() { cfg = nil })

	out := runCacheCmd(t, cacheStatsCmd)
	assert.Contains(t, out, `"driver": "none"`)
	assert.NotContains(t, out, "hits")
	assert.NotContains(t, out, "saved_at")
}
