package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuschat/nexus/internal/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":6697", cfg.ListenAddress)
	assert.Equal(t, 30*time.Second, cfg.TLSHandshakeTimeout)
	assert.Equal(t, []string{"#nexus"}, cfg.AutoJoinChannels)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "listen_address: \":7000\"\ncert_file: cert.pem\nkey_file: key.pem\ndatabase_path: nexus.db\nfile_area_root: ./files\ntls_handshake_timeout: 45s\nprotocol_handshake_timeout: 45s\nshutdown_timeout: 5s\nmax_connections_per_ip: 4\nmax_transfers_per_ip: 1\nlog_level: debug\nlog_format: json\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.ListenAddress)
	assert.Equal(t, 45*time.Second, cfg.TLSHandshakeTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	cfg := config.Default()
	cfg.CertFile = ""
	cfg.KeyFile = ""

	err := config.Validate(&cfg)
	assert.Error(t, err)
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := config.Default()
	cfg.CertFile = "cert.pem"
	cfg.KeyFile = "key.pem"
	cfg.LogLevel = "verbose"

	err := config.Validate(&cfg)
	assert.Error(t, err)
}
