package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMasterKey() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("WARDEN_MASTER_KEY", validMasterKey())

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Session.RefreshTTL)
	assert.Equal(t, 5, cfg.MFA.LockoutThreshold)
	assert.Equal(t, 15*time.Minute, cfg.MFA.LockoutWindow)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Len(t, cfg.Crypto.MasterKey, 32)
}

func TestFromEnv_MissingMasterKey(t *testing.T) {
	t.Setenv("WARDEN_MASTER_KEY", "")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WARDEN_MASTER_KEY")
}

func TestFromEnv_ShortMasterKey(t *testing.T) {
	t.Setenv("WARDEN_MASTER_KEY", base64.StdEncoding.EncodeToString([]byte("short")))

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestFromEnv_ProviderRedirectURLs(t *testing.T) {
	t.Setenv("WARDEN_MASTER_KEY", validMasterKey())
	t.Setenv("OAUTH_REDIRECT_BASE_URL", "https://auth.example.com/")
	t.Setenv("OAUTH_GITHUB_CLIENT_ID", "gh-client")
	t.Setenv("OAUTH_GITHUB_CLIENT_SECRET", "gh-secret")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "gh-client", cfg.Providers.GitHub.ClientID)
	assert.Equal(t, "https://auth.example.com/auth/oauth/github/callback", cfg.Providers.GitHub.RedirectURL)
	assert.Equal(t, "https://auth.example.com/auth/oauth/google/callback", cfg.Providers.Google.RedirectURL)
	assert.Empty(t, cfg.Providers.Google.ClientID)
}

func TestFromEnv_KafkaBrokers(t *testing.T) {
	t.Setenv("WARDEN_MASTER_KEY", validMasterKey())
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092, broker-1:9092,")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
}
