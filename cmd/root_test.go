package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"recommend", "serve", "cache"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "placefinder", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRecommendCommand_Flags(t *testing.T) {
	f := recommendCmd.Flags()
	for _, name := range []string{"category", "mood", "budget", "social", "time", "distance", "lat", "lng", "progress", "more"} {
		require.NotNil(t, f.Lookup(name), "recommend should have --%s", name)
	}
	assert.Equal(t, "5", f.Lookup("min-results").DefValue)
	assert.Equal(t, "50", f.Lookup("mood").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestCacheCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range cacheCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["clear"])
	assert.True(t, names["stats"])
	require.NotNil(t, cacheClearCmd.Flags().Lookup("category"))
}

func TestFilterFromFlags(t *testing.T) {
	recCategory, recMood, recBudget, recSocial, recTime = "activity", 80, "PP", "barkada", "night"
	recDistance, recLat, recLng = 10, 14.55, 121.02
	t.Cleanup(func() {
		recCategory, recMood, recBudget, recSocial, recTime = "food", 50, "", "", ""
		recDistance, recLat, recLng = 5, 0, 0
	})

	f, err := filterFromFlags()
	require.NoError(t, err)
	assert.Equal(t, "activity", string(f.Category))
	assert.Equal(t, 80, f.Mood)
	assert.Equal(t, "barkada", string(f.SocialContext))

	recBudget = "PPPP"
	_, err = filterFromFlags()
	assert.Error(t, err)
}
