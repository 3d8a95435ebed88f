// Package balancer spreads upstream requests by configured weight.
package balancer

import (
	"sync"

	"multicallgofer/internal/upstream"
)

// UpstreamProvider lists the upstreams currently eligible for selection
type UpstreamProvider interface {
	GetHealthyMain() []*upstream.Upstream
	GetHealthyFallback() []*upstream.Upstream
}

// WeightedRoundRobin implements upstream.Selector with interleaved weighted round-robin
type WeightedRoundRobin struct {
	provider      UpstreamProvider
	mu            sync.Mutex
	currentIndex  int
	currentWeight int
}

var _ upstream.Selector = (*WeightedRoundRobin)(nil)

// NewWeightedRoundRobin creates a new WeightedRoundRobin balancer
func NewWeightedRoundRobin(provider UpstreamProvider) *WeightedRoundRobin {
	return &WeightedRoundRobin{
		provider:     provider,
		currentIndex: -1,
	}
}

// Next returns the next upstream, preferring main over fallback and skipping excluded names
func (wrr *WeightedRoundRobin) Next(exclude map[string]bool) *upstream.Upstream {
	wrr.mu.Lock()
	defer wrr.mu.Unlock()

	upstreams := wrr.available(exclude)
	if len(upstreams) == 0 {
		return nil
	}
	if len(upstreams) == 1 {
		return upstreams[0]
	}

	step := gcdWeights(upstreams)
	maxWeight := maxWeight(upstreams)

	for {
		wrr.currentIndex = (wrr.currentIndex + 1) % len(upstreams)
		if wrr.currentIndex == 0 {
			wrr.currentWeight -= step
			if wrr.currentWeight <= 0 {
				wrr.currentWeight = maxWeight
			}
		}

		u := upstreams[wrr.currentIndex]
		if u.Weight() >= wrr.currentWeight {
			return u
		}
	}
}

// Reset resets the balancer state
func (wrr *WeightedRoundRobin) Reset() {
	wrr.mu.Lock()
	defer wrr.mu.Unlock()

	wrr.currentIndex = -1
	wrr.currentWeight = 0
}

func (wrr *WeightedRoundRobin) available(exclude map[string]bool) []*upstream.Upstream {
	main := filterExcluded(wrr.provider.GetHealthyMain(), exclude)
	if len(main) > 0 {
		return main
	}
	return filterExcluded(wrr.provider.GetHealthyFallback(), exclude)
}

func filterExcluded(upstreams []*upstream.Upstream, exclude map[string]bool) []*upstream.Upstream {
	if len(exclude) == 0 {
		return upstreams
	}

	result := make([]*upstream.Upstream, 0, len(upstreams))
	for _, u := range upstreams {
		if !exclude[u.Name()] {
			result = append(result, u)
		}
	}
	return result
}

func gcdWeights(upstreams []*upstream.Upstream) int {
	result := upstreams[0].Weight()
	for _, u := range upstreams[1:] {
		result = gcd(result, u.Weight())
	}
	return result
}

func maxWeight(upstreams []*upstream.Upstream) int {
	highest := 0
	for _, u := range upstreams {
		if u.Weight() > highest {
			highest = u.Weight()
		}
	}
	return highest
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
