package transfer

import "go.uber.org/zap"

// DefaultMaxMtuRestarts is the number of insufficient-MTU restarts allowed per
// upload before it fails.
const DefaultMaxMtuRestarts = 3

// Config holds the uploader configuration.
type Config struct {
	// Logger is used for transfer logging; defaults to a no-op logger
	Logger *zap.Logger

	// MaxMtuRestarts bounds the restarts caused by insufficient-MTU replies
	MaxMtuRestarts int
}

func defaultConfig() Config {
	return Config{
		Logger:         zap.NewNop(),
		MaxMtuRestarts: DefaultMaxMtuRestarts,
	}
}

// Option is a functional option for configuring the Uploader.
type Option func(*Config)

// WithLogger sets the logger for transfer events.
//
// Example:
//
//	up := transfer.New(client, transfer.FileTarget(), transfer.WithLogger(logger))
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithMaxMtuRestarts sets how many times an upload may restart from offset 0
// after the transport reports an insufficient MTU. Negative values are ignored.
//
// Example:
//
//	up := transfer.New(client, target, transfer.WithMaxMtuRestarts(5))
func WithMaxMtuRestarts(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.MaxMtuRestarts = n
		}
	}
}
