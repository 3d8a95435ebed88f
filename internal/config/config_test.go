package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const minimalConfig = `{
  "multicallAddress": "0x5ba1e12693dc8f9c48aad8770482f4739beed696",
  "upstreams": [
    {"name": "node-a", "rpcUrl": "http://localhost:8545", "wsUrl": "ws://localhost:8546"},
    {"name": "node-b", "rpcUrl": "http://localhost:9545", "role": "fallback", "weight": 3}
  ]
}`

func TestLoad_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, DefaultHost, cfg.Host)
	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, DefaultLogLevel, cfg.LogLevel)
	require.Equal(t, DefaultChainID, cfg.ChainID)
	require.Equal(t, DefaultMulticallMode, cfg.MulticallMode)
	require.Equal(t, DefaultHeightSafetyMargin, cfg.GetHeightSafetyMargin())
	require.Equal(t, HeightSourceTracker, cfg.HeightSource)
	require.Equal(t, 5*time.Second, cfg.GetRequestTimeoutDuration())
	require.Equal(t, 4*time.Second, cfg.GetHeadPollIntervalDuration())
	require.Equal(t, 250*time.Millisecond, cfg.GetRetryBackoffDuration())
	require.Equal(t, DefaultRetryMaxAttempts, cfg.RetryMaxAttempts)
	require.False(t, cfg.IsMetricsEnabled())
	require.False(t, cfg.IsPairsEnabled())

	require.Equal(t, RoleMain, cfg.Upstreams[0].Role)
	require.Equal(t, DefaultUpstreamWeight, cfg.Upstreams[0].Weight)
	require.Equal(t, RoleFallback, cfg.Upstreams[1].Role)
	require.Equal(t, 3, cfg.Upstreams[1].Weight)
}

func TestParse_ExplicitZeroMargin(t *testing.T) {
	cfg, err := Parse([]byte(`{
	  "multicallAddress": "0x5ba1e12693dc8f9c48aad8770482f4739beed696",
	  "heightSafetyMargin": 0,
	  "metrics": {"enabled": true},
	  "pairs": {
	    "factory": "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f",
	    "initCodeHash": "0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f"
	  },
	  "upstreams": [{"name": "a", "rpcUrl": "http://a"}]
	}`))
	require.NoError(t, err)
	require.Zero(t, cfg.GetHeightSafetyMargin())
	require.True(t, cfg.IsMetricsEnabled())
	require.Equal(t, DefaultMetricsPort, cfg.Metrics.Port)
	require.True(t, cfg.IsPairsEnabled())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"no upstreams", `{"multicallAddress": "0x5ba1e12693dc8f9c48aad8770482f4739beed696"}`},
		{"missing rpcUrl", `{"multicallAddress": "0x5ba1e12693dc8f9c48aad8770482f4739beed696", "upstreams": [{"name": "a", "wsUrl": "ws://a"}]}`},
		{"duplicate upstream", `{"multicallAddress": "0x5ba1e12693dc8f9c48aad8770482f4739beed696", "upstreams": [{"name": "a", "rpcUrl": "http://a"}, {"name": "a", "rpcUrl": "http://b"}]}`},
		{"bad role", `{"multicallAddress": "0x5ba1e12693dc8f9c48aad8770482f4739beed696", "upstreams": [{"name": "a", "rpcUrl": "http://a", "role": "backup"}]}`},
		{"bad multicall address", `{"multicallAddress": "0x1234", "upstreams": [{"name": "a", "rpcUrl": "http://a"}]}`},
		{"bad mode", `{"multicallAddress": "0x5ba1e12693dc8f9c48aad8770482f4739beed696", "multicallMode": "tryAggregate", "upstreams": [{"name": "a", "rpcUrl": "http://a"}]}`},
		{"bad height source", `{"multicallAddress": "0x5ba1e12693dc8f9c48aad8770482f4739beed696", "heightSource": "oracle", "upstreams": [{"name": "a", "rpcUrl": "http://a"}]}`},
		{"bad log level", `{"multicallAddress": "0x5ba1e12693dc8f9c48aad8770482f4739beed696", "logLevel": "trace", "upstreams": [{"name": "a", "rpcUrl": "http://a"}]}`},
		{"bad init code hash", `{"multicallAddress": "0x5ba1e12693dc8f9c48aad8770482f4739beed696", "pairs": {"factory": "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f", "initCodeHash": "0x1234"}, "upstreams": [{"name": "a", "rpcUrl": "http://a"}]}`},
		{"metrics port clash", `{"multicallAddress": "0x5ba1e12693dc8f9c48aad8770482f4739beed696", "port": 7300, "metrics": {"enabled": true}, "upstreams": [{"name": "a", "rpcUrl": "http://a"}]}`},
		{"malformed json", `{"upstreams": [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.json))
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
