package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
advisors:
  - name: alpha
    base_url: https://alpha.example.com/v1
    model: m1
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Scheduler.FastScan)
	assert.Equal(t, 20*time.Minute, cfg.Scheduler.DeepScan)
	assert.Equal(t, 3, cfg.Consensus.Quorum)
	assert.InDelta(t, 0.64, cfg.Consensus.Supermajority, 1e-9)
	assert.InDelta(t, 30.0, cfg.Consensus.HealthFloor, 1e-9)
	assert.InDelta(t, 20.0, cfg.Risk.DrawdownPause, 1e-9)
	assert.InDelta(t, 10.0, cfg.Risk.DrawdownResume, 1e-9)
	assert.Equal(t, 2, cfg.Position.RebuyCap)
	assert.Equal(t, "memory", cfg.Store.Driver)

	require.Len(t, cfg.Advisors, 1)
	assert.InDelta(t, 1.0, cfg.Advisors[0].Weight, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Advisors[0].Timeout)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("AUTOTRADER_CONSENSUS_QUORUM", "4")
	t.Setenv("AUTOTRADER_SOLANA_RPC_URL", "https://rpc.example.com")

	cfg, err := LoadConfig(writeConfig(t, "log:\n  development: true\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Consensus.Quorum)
	assert.Equal(t, "https://rpc.example.com", cfg.Solana.RPCURL)
	assert.True(t, cfg.Log.Development)
}

func TestLoadConfigExpandsAdvisorKeys(t *testing.T) {
	t.Setenv("ALPHA_KEY", "sk-test")

	cfg, err := LoadConfig(writeConfig(t, `
advisors:
  - name: alpha
    base_url: https://alpha.example.com/v1
    api_key: ${ALPHA_KEY}
`))
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Advisors[0].APIKey)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"inverted hysteresis", "risk:\n  drawdown_pause_pct: 10\n  drawdown_resume_pct: 20\n", "drawdown_resume_pct"},
		{"weak supermajority", "consensus:\n  supermajority: 0.4\n", "supermajority"},
		{"postgres without url", "store:\n  driver: postgres\n", "postgres_url"},
		{"unknown driver", "store:\n  driver: sqlite\n", "unknown store.driver"},
		{"duplicate advisor", "advisors:\n  - {name: a, base_url: 'https://a.io'}\n  - {name: a, base_url: 'https://b.io'}\n", "duplicate"},
		{"bad advisor url", "advisors:\n  - {name: a, base_url: 'ftp://a.io'}\n", "base_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
