package rpc

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	solrpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/wnt/stakepool/internal/metrics"
)

// Pool manages a pool of RPC endpoints with load balancing and rate limiting
type Pool struct {
	endpoints []*Endpoint
	current   int
	mutex     sync.Mutex
	logger    zerolog.Logger
}

// Endpoint represents a single RPC endpoint with its own rate limiter
type Endpoint struct {
	URL           string
	client        *solrpc.Client
	limiter       *rate.Limiter
	healthy       bool
	cooldownUntil time.Time
	mutex         sync.RWMutex
}

// NewPool creates a new RPC pool with the given endpoints, each limited to ratePerSecond
func NewPool(urls []string, ratePerSecond float64, logger zerolog.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 2.0
	}

	endpoints := make([]*Endpoint, len(urls))
	for i, url := range urls {
		endpoints[i] = &Endpoint{
			URL:     url,
			client:  solrpc.New(url),
			limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 5),
			healthy: true,
		}

		// Set initial health status in metrics
		metrics.SetRPCEndpointHealth(url, true)
	}

	return &Pool{
		endpoints: endpoints,
		current:   rand.Intn(len(endpoints)),
		logger:    logger.With().Str("component", "rpc_pool").Logger(),
	}, nil
}

// GetClient returns the next available RPC client using round-robin
func (p *Pool) GetClient(ctx context.Context) (*solrpc.Client, string, error) {
	p.mutex.Lock()

	attempts := 0
	startIndex := p.current

	for attempts < len(p.endpoints) {
		endpoint := p.endpoints[p.current]
		p.current = (p.current + 1) % len(p.endpoints)
		attempts++

		endpoint.mutex.RLock()
		inCooldown := time.Now().Before(endpoint.cooldownUntil)
		healthy := endpoint.healthy
		endpoint.mutex.RUnlock()

		if inCooldown || !healthy {
			p.logger.Debug().
				Str("endpoint", endpoint.URL).
				Bool("healthy", healthy).
				Bool("in_cooldown", inCooldown).
				Msg("Skipping endpoint")
			continue
		}

		if endpoint.limiter.Allow() {
			p.mutex.Unlock()
			return endpoint.client, endpoint.URL, nil
		}

		p.logger.Debug().
			Str("endpoint", endpoint.URL).
			Msg("Endpoint rate limited, trying next")
	}

	// All endpoints are rate limited or unhealthy, wait for the first one
	endpoint := p.endpoints[startIndex]
	p.mutex.Unlock()

	p.logger.Debug().
		Str("endpoint", endpoint.URL).
		Msg("All endpoints rate limited, waiting for availability")

	if err := endpoint.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return endpoint.client, endpoint.URL, nil
}

func (p *Pool) find(url string) *Endpoint {
	for _, endpoint := range p.endpoints {
		if endpoint.URL == url {
			return endpoint
		}
	}
	return nil
}

// MarkUnhealthy marks an endpoint as unhealthy
func (p *Pool) MarkUnhealthy(url string) {
	endpoint := p.find(url)
	if endpoint == nil {
		return
	}

	endpoint.mutex.Lock()
	wasHealthy := endpoint.healthy
	endpoint.healthy = false
	endpoint.mutex.Unlock()

	metrics.SetRPCEndpointHealth(url, false)
	if wasHealthy {
		p.logger.Warn().Str("endpoint", url).Msg("Marked endpoint as unhealthy")
	}
}

// MarkHealthy marks an endpoint as healthy
func (p *Pool) MarkHealthy(url string) {
	endpoint := p.find(url)
	if endpoint == nil {
		return
	}

	endpoint.mutex.Lock()
	wasHealthy := endpoint.healthy
	endpoint.healthy = true
	endpoint.cooldownUntil = time.Time{}
	endpoint.mutex.Unlock()

	metrics.SetRPCEndpointHealth(url, true)
	if !wasHealthy {
		p.logger.Info().Str("endpoint", url).Msg("Marked endpoint as healthy")
	}
}

// SetCooldown puts an endpoint in cooldown for the specified duration
func (p *Pool) SetCooldown(url string, duration time.Duration) {
	endpoint := p.find(url)
	if endpoint == nil {
		return
	}

	endpoint.mutex.Lock()
	endpoint.cooldownUntil = time.Now().Add(duration)
	endpoint.mutex.Unlock()

	p.logger.Warn().
		Str("endpoint", url).
		Dur("duration", duration).
		Msg("Set endpoint cooldown")
}

// GetHealthyEndpointCount returns the number of healthy endpoints
func (p *Pool) GetHealthyEndpointCount() int {
	count := 0
	for _, endpoint := range p.endpoints {
		endpoint.mutex.RLock()
		if endpoint.healthy && time.Now().After(endpoint.cooldownUntil) {
			count++
		}
		endpoint.mutex.RUnlock()
	}
	return count
}

// GetStats returns pool statistics
func (p *Pool) GetStats() map[string]interface{} {
	endpoints := make([]map[string]interface{}, len(p.endpoints))
	for i, endpoint := range p.endpoints {
		endpoint.mutex.RLock()
		endpoints[i] = map[string]interface{}{
			"url":            endpoint.URL,
			"healthy":        endpoint.healthy,
			"in_cooldown":    time.Now().Before(endpoint.cooldownUntil),
			"cooldown_until": endpoint.cooldownUntil,
		}
		endpoint.mutex.RUnlock()
	}

	return map[string]interface{}{
		"total_endpoints":   len(p.endpoints),
		"healthy_endpoints": p.GetHealthyEndpointCount(),
		"endpoints":         endpoints,
	}
}
