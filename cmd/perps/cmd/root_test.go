package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PERPS_API_KEY", "key")
	t.Setenv("PERPS_API_SECRET", "secret")
	t.Setenv("PERPS_BASE_URL", "http://127.0.0.1:9")
	t.Setenv("PERPS_LOG_LEVEL", "debug")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.Exchange.APIKey)
	assert.Equal(t, "secret", cfg.Exchange.APISecret)
	assert.Equal(t, "http://127.0.0.1:9", cfg.Exchange.BaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestNewSupervisorBuildsWorkers(t *testing.T) {
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.NotNil(t, newSupervisor(cfg, nil, nil, nil))
}
