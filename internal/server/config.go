package server

import "time"

type Config struct {
	// MongoURI is optional; when empty the server falls back to the
	// file-backed blob store under DataDir.
	MongoURI        string
	MongoDB         string
	SyncCollection  string
	DataDir         string
	AuthSecret      string
	AccessCodes     []string
	TokenTTL        time.Duration
	AllowedOrigin   string
	Production      bool
	UpstreamTimeout time.Duration

	// Per-operation window limits, requests per minute per client IP.
	TokenRateLimit int
	SyncRateLimit  int
	ProxyRateLimit int
}

func (c *Config) setDefaults() {
	if c.MongoDB == "" {
		c.MongoDB = "tokenvault"
	}
	if c.SyncCollection == "" {
		c.SyncCollection = "vaults"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 14 * 24 * time.Hour
	}
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = 30 * time.Second
	}
	if c.TokenRateLimit <= 0 {
		c.TokenRateLimit = 10
	}
	if c.SyncRateLimit <= 0 {
		c.SyncRateLimit = 20
	}
	if c.ProxyRateLimit <= 0 {
		c.ProxyRateLimit = 30
	}
}
