package config

import "time"

// Role defines the upstream role type
type Role string

const (
	RoleMain     Role = "main"
	RoleFallback Role = "fallback"
)

// Config represents the main configuration structure
type Config struct {
	Host                      string           `json:"host"`
	Port                      int              `json:"port"`
	LogLevel                  string           `json:"logLevel"`
	MaxBodySize               int64            `json:"maxBodySize"`
	RequestTimeout            int              `json:"requestTimeout"`            // ms
	ChainID                   uint64           `json:"chainId"`
	MulticallAddress          string           `json:"multicallAddress"`
	MulticallMode             string           `json:"multicallMode"`
	HeightSafetyMargin        *uint64          `json:"heightSafetyMargin,omitempty"`
	HeightSource              HeightSource     `json:"heightSource"`
	HeadPollInterval          int              `json:"headPollInterval"`          // ms
	BlockLagThreshold         uint64           `json:"blockLagThreshold"`         // blocks
	UpstreamMessageTimeout    int              `json:"upstreamMessageTimeout"`    // ms - timeout for receiving messages from upstream WebSocket
	UpstreamReconnectInterval int              `json:"upstreamReconnectInterval"` // ms - interval between reconnection attempts
	HeadDedupCacheSize        int              `json:"headDedupCacheSize"`
	RetryMaxAttempts          int              `json:"retryMaxAttempts"`
	RetryBackoff              int              `json:"retryBackoff"`              // ms
	CircuitBreaker            *BreakerConfig   `json:"circuitBreaker,omitempty"`
	Upstreams                 []UpstreamConfig `json:"upstreams"`
	Pairs                     *PairsConfig     `json:"pairs,omitempty"`
	Tokens                    []TokenConfig    `json:"tokens,omitempty"`
	Metrics                   *MetricsConfig   `json:"metrics,omitempty"`
}

// HeightSource selects how the chain head is observed
type HeightSource string

const (
	// HeightSourceTracker follows newHeads and polls every upstream
	HeightSourceTracker HeightSource = "tracker"
	// HeightSourcePolling asks the pool for eth_blockNumber on every resolution
	HeightSourcePolling HeightSource = "polling"
	// HeightSourceContract reads getBlockNumber from the multicall contract on every resolution
	HeightSourceContract HeightSource = "contract"
)

// UpstreamConfig represents a single upstream configuration
type UpstreamConfig struct {
	Name   string `json:"name"`
	RPCURL string `json:"rpcUrl"`
	WSURL  string `json:"wsUrl"`
	Weight int    `json:"weight"`
	Role   Role   `json:"role"`
}

// BreakerConfig configures the per-upstream circuit breaker
type BreakerConfig struct {
	Enabled             bool `json:"enabled"`
	FailureThreshold    int  `json:"failureThreshold"`
	RecoveryTimeout     int  `json:"recoveryTimeout"` // ms
	HalfOpenMaxRequests int  `json:"halfOpenMaxRequests"`
}

// PairsConfig describes the pair factory used to derive pair addresses
type PairsConfig struct {
	Factory      string `json:"factory"`
	InitCodeHash string `json:"initCodeHash"`
}

// TokenConfig is a known token the service can resolve by address or symbol
type TokenConfig struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

// MetricsConfig enables the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// Default values
const (
	DefaultHost                      = "localhost"
	DefaultPort                      = 8645
	DefaultLogLevel                  = "info"
	DefaultMaxBodySize               = int64(0) // 0 means no limit
	DefaultRequestTimeout            = 5000     // ms
	DefaultChainID                   = uint64(1)
	DefaultMulticallMode             = "tryBlockAndAggregate"
	DefaultHeightSafetyMargin        = uint64(10)
	DefaultHeightSource              = HeightSourceTracker
	DefaultHeadPollInterval          = 4000  // ms
	DefaultBlockLagThreshold         = uint64(5)
	DefaultUpstreamMessageTimeout    = 60000 // ms
	DefaultUpstreamReconnectInterval = 5000  // ms
	DefaultHeadDedupCacheSize        = 1024
	DefaultRetryMaxAttempts          = 3
	DefaultRetryBackoff              = 250 // ms
	DefaultUpstreamWeight            = 1
	DefaultUpstreamRole              = RoleMain
	DefaultMetricsHost               = "localhost"
	DefaultMetricsPort               = 7300
)

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetHeadPollIntervalDuration returns head poll interval as time.Duration
func (c *Config) GetHeadPollIntervalDuration() time.Duration {
	return time.Duration(c.HeadPollInterval) * time.Millisecond
}

// GetUpstreamMessageTimeoutDuration returns upstream message timeout as time.Duration
func (c *Config) GetUpstreamMessageTimeoutDuration() time.Duration {
	return time.Duration(c.UpstreamMessageTimeout) * time.Millisecond
}

// GetUpstreamReconnectIntervalDuration returns upstream reconnect interval as time.Duration
func (c *Config) GetUpstreamReconnectIntervalDuration() time.Duration {
	return time.Duration(c.UpstreamReconnectInterval) * time.Millisecond
}

// GetRetryBackoffDuration returns the pause between retry attempts
func (c *Config) GetRetryBackoffDuration() time.Duration {
	return time.Duration(c.RetryBackoff) * time.Millisecond
}

// GetHeightSafetyMargin returns the configured margin or the default
func (c *Config) GetHeightSafetyMargin() uint64 {
	if c.HeightSafetyMargin == nil {
		return DefaultHeightSafetyMargin
	}
	return *c.HeightSafetyMargin
}

// IsMetricsEnabled returns true if metrics are configured and enabled
func (c *Config) IsMetricsEnabled() bool {
	return c.Metrics != nil && c.Metrics.Enabled
}

// IsPairsEnabled returns true if a pair factory is configured
func (c *Config) IsPairsEnabled() bool {
	return c.Pairs != nil && c.Pairs.Factory != ""
}

// GetRecoveryTimeoutDuration returns the breaker recovery timeout as time.Duration
func (b *BreakerConfig) GetRecoveryTimeoutDuration() time.Duration {
	return time.Duration(b.RecoveryTimeout) * time.Millisecond
}
