package udp

import (
	"time"

	"go.uber.org/zap"

	"github.com/moffa90/go-mcumgr/protocol"
)

// DefaultTimeout bounds each request when no other timeout is set.
const DefaultTimeout = 5 * time.Second

// Config holds the transport configuration.
type Config struct {
	// Timeout bounds the write and the wait for the response
	Timeout time.Duration

	// Mtu is the largest packet sent; larger packets fail with an
	// insufficient-MTU error
	Mtu int

	Logger *zap.Logger
}

func defaultConfig() Config {
	return Config{
		Timeout: DefaultTimeout,
		Mtu:     protocol.MaxMtu,
		Logger:  zap.NewNop(),
	}
}

// Option is a functional option for configuring the Transport.
type Option func(*Config)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithMtu sets the largest packet the transport sends.
func WithMtu(mtu int) Option {
	return func(c *Config) {
		if mtu >= protocol.MinMtu && mtu <= maxDatagram {
			c.Mtu = mtu
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}
