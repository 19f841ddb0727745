package streamr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetDefaults_FillsUnsetFields(t *testing.T) {
	cfg := Config{}
	SetDefaults(&cfg)

	require.Equal(t, "websocket", cfg.Transport)
	require.Equal(t, 10000, cfg.VerifierCacheSize)
	require.Equal(t, "auto", cfg.VerifySignatures)
	require.NotNil(t, cfg.Logger)
	require.NotNil(t, cfg.Metrics)
	require.NotNil(t, cfg.Clock)
}

func TestValidate_RejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.PrivateKey = "0xabc"
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.VerifySignatures = "sometimes"
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Transport = "carrier-pigeon"
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Auth = AuthConfig{}
	require.ErrorIs(t, bad.Validate(), ErrNoAuthProvided)
}

func TestLoadConfig_ParsesYAMLAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
url: wss://broker.example/ws
verifySignatures: always
auth:
  privateKey: "0x01"
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "wss://broker.example/ws", cfg.URL)
	require.Equal(t, "always", cfg.VerifySignatures)
	require.Equal(t, "websocket", cfg.Transport)
	require.NotNil(t, cfg.Logger)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestTestConfig_PassesValidate(t *testing.T) {
	cfg := TestConfig()
	require.NoError(t, cfg.Validate())
}
