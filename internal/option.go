package internal

import "github.com/starford/dagaz/internal/pipeline"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	gen    pipeline.Generator
	mcp    bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithGenerator overrides the generative backend. Used by tests to
// substitute a scripted generator for the remote endpoint.
func WithGenerator(gen pipeline.Generator) Option {
	return func(a *application) {
		a.gen = gen
	}
}

// WithMCPServer switches the application to MCP stdio mode instead of
// the HTTP server.
func WithMCPServer() Option {
	return func(a *application) {
		a.mcp = true
	}
}
