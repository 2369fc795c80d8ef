package trackstar

import "time"

// Config holds outbound client configuration
type Config struct {
	// BaseURL is the aggregator API root, e.g. https://production.trackstarhq.com
	BaseURL string
	// APIKey authenticates connection-establishment calls and accompanies
	// every request
	APIKey string
	// RequestTimeout bounds a single HTTP round trip
	RequestTimeout time.Duration
	// RateLimitPerSecond is the per-credential request budget for a rolling
	// one-second window
	RateLimitPerSecond int
	// MaxPages is the hard pagination safety cap
	MaxPages int
}

// DefaultConfig returns the client defaults
func DefaultConfig() Config {
	return Config{
		RequestTimeout:     30 * time.Second,
		RateLimitPerSecond: 10,
		MaxPages:           100,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.RateLimitPerSecond <= 0 {
		c.RateLimitPerSecond = def.RateLimitPerSecond
	}
	if c.MaxPages <= 0 {
		c.MaxPages = def.MaxPages
	}
	return c
}
