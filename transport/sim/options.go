package sim

import (
	"time"

	"go.uber.org/zap"

	"github.com/moffa90/go-mcumgr/protocol"
)

// Fault intercepts a request before the device handles it. A non-nil error
// fails the send; a non-zero rc answers the request with that return code.
type Fault func(req Request) (rc uint64, err error)

// Config holds the simulated device configuration.
type Config struct {
	// Scheme is the framing the device expects
	Scheme protocol.Scheme

	// Mtu is the largest packet the device accepts; 0 means no limit
	Mtu int

	// AckLimit caps the bytes accepted from each upload chunk; 0 means no cap
	AckLimit int

	// Latency delays every reply
	Latency time.Duration

	// Fault is called for every request when set
	Fault Fault

	Logger *zap.Logger
}

func defaultConfig() Config {
	return Config{
		Scheme: protocol.SchemeBLE,
		Logger: zap.NewNop(),
	}
}

// Option is a functional option for configuring a Device.
type Option func(*Config)

// WithScheme sets the framing scheme.
func WithScheme(scheme protocol.Scheme) Option {
	return func(c *Config) {
		c.Scheme = scheme
	}
}

// WithMtu sets the largest packet the device accepts. Larger packets fail
// with an insufficient-MTU transport error carrying mtu.
func WithMtu(mtu int) Option {
	return func(c *Config) {
		if mtu >= 0 {
			c.Mtu = mtu
		}
	}
}

// WithAckLimit caps how many bytes of each upload chunk the device accepts.
func WithAckLimit(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.AckLimit = n
		}
	}
}

// WithLatency delays every reply by d.
func WithLatency(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.Latency = d
		}
	}
}

// WithFault installs a fault injection hook.
func WithFault(f Fault) Option {
	return func(c *Config) {
		c.Fault = f
	}
}

// WithLogger sets the logger for request tracing.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}
