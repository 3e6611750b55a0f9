package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnvOverride(t *testing.T) {
	t.Setenv("NEWSFEED_FEED_PAGE_SIZE", "7")
	t.Setenv("NEWSFEED_DATABASE_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Feed.PageSize)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 500, cfg.Feed.HeatBatchSize)
	assert.Equal(t, 24*time.Hour, cfg.Feed.CacheTTL)
	assert.Equal(t, "feed:heat", cfg.Heater.Stream)
	assert.Equal(t, "feed:engagement", cfg.Engagement.Stream)
	assert.Equal(t, "feed-engagement", cfg.Engagement.Group)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	bad := *cfg
	bad.Feed.PageSize = 0
	assert.Error(t, Validate(&bad))

	bad = *cfg
	bad.Feed.Backend = "memcached"
	assert.Error(t, Validate(&bad))

	bad = *cfg
	bad.Tracing.Enabled = true
	bad.Tracing.Endpoint = ""
	assert.Error(t, Validate(&bad))
}
