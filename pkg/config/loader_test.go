package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/config"
)

type testConfig struct {
	Host string `env:"CONFIG_TEST_HOST" envDefault:"localhost"`
	Port int    `env:"CONFIG_TEST_PORT" envDefault:"5432"`
}

type requiredConfig struct {
	Token string `env:"CONFIG_TEST_REQUIRED_TOKEN,required"`
}

func TestLoad(t *testing.T) {
	t.Setenv("CONFIG_TEST_HOST", "db.internal")

	var cfg testConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)

	// The second load is served from cache and ignores environment changes.
	t.Setenv("CONFIG_TEST_HOST", "other")
	var again testConfig
	require.NoError(t, config.Load(&again))
	assert.Equal(t, "db.internal", again.Host)
}

func TestLoadErrors(t *testing.T) {
	var nilCfg *testConfig
	assert.ErrorIs(t, config.Load(nilCfg), config.ErrNilPointer)

	var cfg requiredConfig
	assert.ErrorIs(t, config.Load(&cfg), config.ErrParsingConfig)
}
