/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package credentials

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/telekom/alarm-escalator/pkg/metrics"
)

// Cache stores bundles by secret name.
type Cache interface {
	Get(name string) (Bundle, bool)
	Put(name string, b Bundle)
	Invalidate(name string)
}

// maxCachedSecrets bounds the cache; a process reads very few secrets.
const maxCachedSecrets = 64

// TTLCache is a Cache whose entries expire after a fixed TTL. A zero TTL
// disables caching.
type TTLCache struct {
	entries *expirable.LRU[string, Bundle]
}

// NewTTLCache creates a TTLCache.
func NewTTLCache(ttl time.Duration) *TTLCache {
	if ttl <= 0 {
		return &TTLCache{}
	}
	return &TTLCache{entries: expirable.NewLRU[string, Bundle](maxCachedSecrets, nil, ttl)}
}

func (c *TTLCache) Get(name string) (Bundle, bool) {
	if c.entries == nil {
		return Bundle{}, false
	}
	return c.entries.Get(name)
}

func (c *TTLCache) Put(name string, b Bundle) {
	if c.entries == nil {
		return
	}
	c.entries.Add(name, b)
}

func (c *TTLCache) Invalidate(name string) {
	if c.entries == nil {
		return
	}
	c.entries.Remove(name)
}

// CachingProvider serves bundles from a Cache and falls back to the wrapped
// provider on a miss. Errors are never cached.
type CachingProvider struct {
	provider Provider
	cache    Cache
}

// NewCachingProvider wraps provider with cache.
func NewCachingProvider(provider Provider, cache Cache) *CachingProvider {
	return &CachingProvider{provider: provider, cache: cache}
}

// Fetch returns the cached bundle or fetches and caches a fresh one.
func (p *CachingProvider) Fetch(ctx context.Context, name string) (Bundle, error) {
	if b, ok := p.cache.Get(name); ok {
		metrics.CredentialCache.WithLabelValues("hit").Inc()
		return b, nil
	}
	metrics.CredentialCache.WithLabelValues("miss").Inc()

	b, err := p.provider.Fetch(ctx, name)
	if err != nil {
		return Bundle{}, err
	}
	p.cache.Put(name, b)
	return b, nil
}

// Invalidate drops the cached bundle so the next Fetch reaches the provider.
func (p *CachingProvider) Invalidate(name string) {
	p.cache.Invalidate(name)
}
