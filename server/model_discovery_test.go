package server

import (
	"testing"
	"time"

	"llmlatencybench/internal/config"
	"llmlatencybench/internal/provider"
)

func credentialState(resp ProvidersResponse, name string) bool {
	for _, p := range resp.Providers {
		if p.Name == name {
			return p.HasCredentials
		}
	}
	return false
}

func TestCatalogCache(t *testing.T) {
	cfg := &config.Config{GroqKey: "gsk-test"}
	clock := &fakeClock{t: time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)}

	cache := NewCatalogCache(cfg, time.Minute)
	cache.now = clock.now

	first := cache.Discover()
	if first.Count != len(provider.Names()) {
		t.Fatalf("Expected %d providers, got %d", len(provider.Names()), first.Count)
	}
	if !credentialState(first, provider.Groq) {
		t.Fatal("Expected Groq to have credentials")
	}

	// served from cache while fresh
	cfg.GroqKey = ""
	clock.t = clock.t.Add(30 * time.Second)
	second := cache.Discover()
	if !credentialState(second, provider.Groq) {
		t.Error("Expected cached credential state")
	}
	if !second.Timestamp.Equal(first.Timestamp) {
		t.Errorf("Expected cached timestamp %v, got %v", first.Timestamp, second.Timestamp)
	}

	// refreshed once expired
	clock.t = clock.t.Add(2 * time.Minute)
	third := cache.Discover()
	if credentialState(third, provider.Groq) {
		t.Error("Expected refreshed credential state after TTL")
	}

	cfg.GroqKey = "gsk-again"
	cache.Invalidate()
	if !credentialState(cache.Discover(), provider.Groq) {
		t.Error("Expected invalidated cache to be rebuilt")
	}
}

func TestCatalogCacheDefaultTTL(t *testing.T) {
	cache := NewCatalogCache(&config.Config{}, 0)
	if cache.ttl != defaultCatalogTTL {
		t.Errorf("Expected default TTL %v, got %v", defaultCatalogTTL, cache.ttl)
	}
}
