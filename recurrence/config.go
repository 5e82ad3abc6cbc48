package recurrence

import (
	"time"
)

// EngineConfig holds configuration options for the recurrence engine
type EngineConfig struct {
	// CacheSize is the number of parsed rules kept; zero disables the cache.
	CacheSize int
	// CacheTTL bounds how long a parsed rule is reused; zero keeps it until evicted.
	CacheTTL time.Duration
}

// DefaultEngineConfig caches the rules of a typical task list.
var DefaultEngineConfig = EngineConfig{
	CacheSize: 1000,
	CacheTTL:  15 * time.Minute,
}

// DisabledCacheConfig parses every rule on use.
var DisabledCacheConfig = EngineConfig{}

// NewEngineWithConfig creates a new recurrence engine with custom configuration
func NewEngineWithConfig(config EngineConfig) *Engine {
	e := &Engine{config: config}
	if config.CacheSize > 0 {
		e.cache = newRuleCache(config.CacheSize, config.CacheTTL)
	}
	return e
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// CacheStats returns statistics of the rule cache. It is empty when caching is disabled.
func (e *Engine) CacheStats() CacheStats {
	if e.cache == nil {
		return CacheStats{}
	}
	return e.cache.snapshot()
}
