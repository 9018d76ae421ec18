package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.Licensing.TrialDuration)
	assert.Equal(t, 2, cfg.Licensing.DeviceLimit)
	assert.Equal(t, 6*time.Hour, cfg.Licensing.ActiveRecheck)
	assert.Equal(t, 24*time.Hour, cfg.Licensing.StaleGraceWindow)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	assert.Error(t, cfg.validate())

	cfg.Server.Port = 70000
	assert.Error(t, cfg.validate())
}

func TestValidateRejectsZeroDeviceLimit(t *testing.T) {
	cfg := Default()
	cfg.Licensing.DeviceLimit = 0
	assert.Error(t, cfg.validate())
}

func TestValidateRejectsEnabledRateLimitWithoutBudget(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.Limit = 0
	assert.Error(t, cfg.validate())

	cfg.RateLimit.Enabled = false
	assert.NoError(t, cfg.validate())
}

func TestValidateForcesJSONLogFormat(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "text"
	require.NoError(t, cfg.validate())
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestMergeConfigsEnvWins(t *testing.T) {
	fileCfg := *Default()
	fileCfg.Server.Port = 9000
	fileCfg.Keygen.AccountID = "file-account"
	fileCfg.Signing.Secret = "file-secret"

	envCfg := *Default()
	envCfg.Keygen.AccountID = "env-account"

	merged := mergeConfigs(fileCfg, envCfg)

	// Env set port stands; the file only fills in blanks.
	assert.Equal(t, 8080, merged.Server.Port)
	assert.Equal(t, "env-account", merged.Keygen.AccountID)
	assert.Equal(t, "file-secret", merged.Signing.Secret)
}

func TestMergeConfigsFileFillsBlanks(t *testing.T) {
	fileCfg := *Default()
	fileCfg.Server.Port = 9000
	fileCfg.Licensing.AllowedKeys = []string{"aabbcc"}

	envCfg := *Default()
	envCfg.Server.Port = 0

	merged := mergeConfigs(fileCfg, envCfg)
	assert.Equal(t, 9000, merged.Server.Port)
	assert.Equal(t, []string{"aabbcc"}, merged.Licensing.AllowedKeys)
}

func TestKeygenConfigured(t *testing.T) {
	var k KeygenConfig
	assert.False(t, k.Configured())

	k.AccountID = "acct-1"
	assert.False(t, k.Configured())

	k.Token = "prod-token"
	assert.True(t, k.Configured())
}
