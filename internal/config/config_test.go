package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Equal(t, "https://x402.org/facilitator", cfg.FacilitatorURL)
	assert.Equal(t, "base-sepolia", cfg.Network)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":8080"
facilitator_url: "https://facilitator.file/"
network: base
public_base_url: "https://gate.file/"
`), 0o600))

	t.Setenv("XGATE_FACILITATOR_URL", "https://facilitator.env")
	t.Setenv("XGATE_DATABASE_URL", "postgres://env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr, "file value applies")
	assert.Equal(t, "https://facilitator.env", cfg.FacilitatorURL, "env wins over file")
	assert.Equal(t, "postgres://env", cfg.DatabaseURL)
	assert.Equal(t, "base", cfg.Network)
	assert.Equal(t, "https://gate.file", cfg.PublicBaseURL, "trailing slash trimmed")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.FacilitatorURL = ""
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Network = ""
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.ListenAddr = ""
	assert.Error(t, cfg.Validate())
}
