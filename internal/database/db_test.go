package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPoolConfigKeepsPoolDefaults(t *testing.T) {
	// The binaries only fill the connection fields; pool tuning has to stay
	// at the pgxpool defaults instead of being zeroed, or construction fails
	// before the first connection attempt.
	cfg := Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "secret",
		Database: "catalog_sync",
		SSLMode:  "disable",
	}

	pc, err := buildPoolConfig(cfg)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, pc.MaxConns, int32(1))
	assert.Positive(t, pc.MaxConnLifetime)
	assert.Equal(t, "localhost", pc.ConnConfig.Host)
	assert.Equal(t, uint16(5432), pc.ConnConfig.Port)
	assert.Equal(t, "catalog_sync", pc.ConnConfig.Database)
	assert.Equal(t, "postgres", pc.ConnConfig.User)
}

func TestBuildPoolConfigAppliesTuning(t *testing.T) {
	cfg := Config{
		Host:        "db.internal",
		Port:        5432,
		User:        "sync",
		Password:    "secret",
		Database:    "catalog_sync",
		MaxConns:    8,
		MinConns:    2,
		MaxConnLife: time.Hour,
		MaxConnIdle: 10 * time.Minute,
	}

	pc, err := buildPoolConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(8), pc.MaxConns)
	assert.Equal(t, int32(2), pc.MinConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	assert.Equal(t, 10*time.Minute, pc.MaxConnIdleTime)
}

func TestBuildPoolConfigDefaultsSSLModeToDisable(t *testing.T) {
	cfg := Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "secret",
		Database: "catalog_sync",
	}

	pc, err := buildPoolConfig(cfg)
	require.NoError(t, err)
	assert.Nil(t, pc.ConnConfig.TLSConfig)
}
