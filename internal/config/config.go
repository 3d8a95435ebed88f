package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a JSON configuration
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = DefaultChainID
	}
	if cfg.MulticallMode == "" {
		cfg.MulticallMode = DefaultMulticallMode
	}
	if cfg.HeightSource == "" {
		cfg.HeightSource = DefaultHeightSource
	}
	// HeightSafetyMargin stays nil when unset; 0 is a valid explicit margin
	if cfg.HeadPollInterval == 0 {
		cfg.HeadPollInterval = DefaultHeadPollInterval
	}
	if cfg.BlockLagThreshold == 0 {
		cfg.BlockLagThreshold = DefaultBlockLagThreshold
	}
	if cfg.UpstreamMessageTimeout == 0 {
		cfg.UpstreamMessageTimeout = DefaultUpstreamMessageTimeout
	}
	if cfg.UpstreamReconnectInterval == 0 {
		cfg.UpstreamReconnectInterval = DefaultUpstreamReconnectInterval
	}
	if cfg.HeadDedupCacheSize == 0 {
		cfg.HeadDedupCacheSize = DefaultHeadDedupCacheSize
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}

	for i := range cfg.Upstreams {
		if cfg.Upstreams[i].Weight == 0 {
			cfg.Upstreams[i].Weight = DefaultUpstreamWeight
		}
		if cfg.Upstreams[i].Role == "" {
			cfg.Upstreams[i].Role = DefaultUpstreamRole
		}
	}

	if cfg.Metrics != nil {
		if cfg.Metrics.Host == "" {
			cfg.Metrics.Host = DefaultMetricsHost
		}
		if cfg.Metrics.Port == 0 {
			cfg.Metrics.Port = DefaultMetricsPort
		}
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if len(cfg.Upstreams) == 0 {
		return errors.New("at least one upstream is required")
	}

	upstreamNames := make(map[string]bool)
	for i, upstream := range cfg.Upstreams {
		if upstream.Name == "" {
			return fmt.Errorf("upstream[%d]: name is required", i)
		}

		if upstreamNames[upstream.Name] {
			return fmt.Errorf("duplicate upstream name '%s'", upstream.Name)
		}
		upstreamNames[upstream.Name] = true

		if upstream.RPCURL == "" {
			return fmt.Errorf("upstream '%s': rpcUrl is required", upstream.Name)
		}

		if upstream.Weight <= 0 {
			return fmt.Errorf("upstream '%s': weight must be positive", upstream.Name)
		}

		if upstream.Role != RoleMain && upstream.Role != RoleFallback {
			return fmt.Errorf("upstream '%s': role must be 'main' or 'fallback'", upstream.Name)
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if !common.IsHexAddress(cfg.MulticallAddress) {
		return fmt.Errorf("multicallAddress must be a hex address")
	}

	if cfg.MulticallMode != "aggregate" && cfg.MulticallMode != "tryBlockAndAggregate" {
		return fmt.Errorf("multicallMode must be 'aggregate' or 'tryBlockAndAggregate'")
	}

	switch cfg.HeightSource {
	case HeightSourceTracker, HeightSourcePolling, HeightSourceContract:
	default:
		return fmt.Errorf("heightSource must be 'tracker', 'polling' or 'contract'")
	}

	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("requestTimeout must be non-negative")
	}

	if cfg.HeadPollInterval < 0 {
		return fmt.Errorf("headPollInterval must be non-negative")
	}

	if cfg.HeadDedupCacheSize < 0 {
		return fmt.Errorf("headDedupCacheSize must be non-negative")
	}

	if cfg.RetryMaxAttempts < 0 {
		return fmt.Errorf("retryMaxAttempts must be non-negative")
	}

	if cfg.RetryBackoff < 0 {
		return fmt.Errorf("retryBackoff must be non-negative")
	}

	if cfg.Pairs != nil {
		if !common.IsHexAddress(cfg.Pairs.Factory) {
			return fmt.Errorf("pairs.factory must be a hex address")
		}
		if len(common.FromHex(cfg.Pairs.InitCodeHash)) != common.HashLength {
			return fmt.Errorf("pairs.initCodeHash must be a 32-byte hex string")
		}
	}

	for i, token := range cfg.Tokens {
		if !common.IsHexAddress(token.Address) {
			return fmt.Errorf("tokens[%d]: address must be a hex address", i)
		}
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be between 1 and 65535")
		}
		if cfg.Metrics.Port == cfg.Port && cfg.Metrics.Host == cfg.Host {
			return fmt.Errorf("metrics.port must differ from port")
		}
	}

	return nil
}
