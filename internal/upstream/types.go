package upstream

import (
	"errors"
	"sync/atomic"
	"time"

	"multicallgofer/internal/config"
)

var (
	// ErrNoUpstreamsAvailable is returned when every upstream is unhealthy or tripped
	ErrNoUpstreamsAvailable = errors.New("no upstreams available")
	// ErrAllUpstreamsFailed is returned when every candidate upstream failed
	ErrAllUpstreamsFailed = errors.New("all upstreams failed")
	// ErrNotConnected is returned by WebSocket operations before Connect
	ErrNotConnected = errors.New("websocket not connected")
)

// Role represents the upstream role
type Role string

const (
	RoleMain     Role = "main"
	RoleFallback Role = "fallback"
)

// RoleFromConfig converts config.Role to upstream.Role
func RoleFromConfig(r config.Role) Role {
	switch r {
	case config.RoleFallback:
		return RoleFallback
	default:
		return RoleMain
	}
}

// Selector picks the next upstream, skipping names in exclude
type Selector interface {
	Next(exclude map[string]bool) *Upstream
}

// Status represents the health status of an upstream
type Status struct {
	healthy      atomic.Bool
	currentBlock atomic.Uint64
	lastBlockAt  atomic.Int64
}

// NewStatus creates a new Status
func NewStatus() *Status {
	s := &Status{}
	s.healthy.Store(true)
	return s
}

// IsHealthy returns the health status
func (s *Status) IsHealthy() bool {
	return s.healthy.Load()
}

// SetHealthy sets the health status
func (s *Status) SetHealthy(healthy bool) {
	s.healthy.Store(healthy)
}

// GetCurrentBlock returns the current block number
func (s *Status) GetCurrentBlock() uint64 {
	return s.currentBlock.Load()
}

// GetLastBlockTime returns when the block last advanced
func (s *Status) GetLastBlockTime() time.Time {
	nanos := s.lastBlockAt.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// UpdateBlock updates the block if the new value is higher
// Returns true if the block was updated
func (s *Status) UpdateBlock(block uint64) bool {
	for {
		current := s.currentBlock.Load()
		if block <= current {
			return false
		}
		if s.currentBlock.CompareAndSwap(current, block) {
			s.lastBlockAt.Store(time.Now().UnixNano())
			return true
		}
	}
}
