package valine

import "log/slog"

type resolvedOptions struct {
	port    int
	version string
	logger  *slog.Logger
}

// Option customises App construction.
type Option func(*resolvedOptions)

// WithPort overrides the listening port from configuration.
func WithPort(port int) Option {
	return func(o *resolvedOptions) {
		o.port = port
	}
}

// WithVersion sets the version string reported by the health endpoint
// and attached to telemetry. Defaults to "dev".
func WithVersion(version string) Option {
	return func(o *resolvedOptions) {
		o.version = version
	}
}

// WithLogger supplies a logger instead of the default JSON logger built
// from the configured log level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) {
		o.logger = logger
	}
}
