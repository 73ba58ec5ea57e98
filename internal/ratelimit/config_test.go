package ratelimit

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()
	require.Equal(t, DefaultBurst, cfg.DefaultBurst)
	require.Equal(t, DefaultAcquireTimeout, cfg.AcquireTimeout)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv(EnvDefaultBurst, "10")
	t.Setenv(EnvAcquireTimeoutMs, "5000")

	cfg := LoadFromEnv()
	require.Equal(t, 10, cfg.DefaultBurst)
	require.Equal(t, 5*time.Second, cfg.AcquireTimeout)
}

func TestLoadFromEnv_FallsBackOnInvalid(t *testing.T) {
	t.Setenv(EnvDefaultBurst, "not-a-number")
	os.Unsetenv(EnvAcquireTimeoutMs)

	cfg := LoadFromEnv()
	require.Equal(t, DefaultBurst, cfg.DefaultBurst)
	require.Equal(t, DefaultAcquireTimeout, cfg.AcquireTimeout)
}
