// Package sse provides the server-sent-events plumbing shared by streaming
// handlers: headers, a serialized frame writer and keep-alive pings.
package sse

import "time"

// Config holds configuration for SSE connections.
type Config struct {
	// KeepAliveInterval is how often to send keep-alive comments so proxies
	// do not reap an idle connection mid-generation.
	KeepAliveInterval time.Duration
}

// DefaultConfig returns the default SSE configuration. 10 seconds stays under
// typical proxy idle timeouts.
func DefaultConfig() *Config {
	return &Config{
		KeepAliveInterval: 10 * time.Second,
	}
}
