package mcumgr

import (
	"time"

	"go.uber.org/zap"

	"github.com/moffa90/go-mcumgr/transfer"
)

// Config holds the manager configuration.
type Config struct {
	// Logger is used for request logging; defaults to a no-op logger
	Logger *zap.Logger

	// Mtu is the initial MTU; 0 selects the scheme default
	Mtu int

	// MaxMtuRestarts bounds upload restarts after insufficient-MTU failures
	MaxMtuRestarts int

	// ResetDelay is how long a firmware upgrade waits after a reset before
	// talking to the device again
	ResetDelay time.Duration
}

func defaultConfig() Config {
	return Config{
		Logger:         zap.NewNop(),
		MaxMtuRestarts: transfer.DefaultMaxMtuRestarts,
	}
}

// Option is a functional option for configuring a Manager.
type Option func(*Config)

// WithLogger sets the logger for requests and uploads.
//
// Example:
//
//	mgr := mcumgr.NewDefaultManager(t, mcumgr.WithLogger(logger))
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithMtu sets the initial MTU. Values outside [protocol.MinMtu,
// protocol.MaxMtu] are ignored.
//
// Example:
//
//	mgr := mcumgr.NewImageManager(t, mcumgr.WithMtu(247))
func WithMtu(mtu int) Option {
	return func(c *Config) {
		if validMtu(mtu) {
			c.Mtu = mtu
		}
	}
}

// WithMaxMtuRestarts sets how many times an upload may restart after the
// transport reports an insufficient MTU. Negative values are ignored.
func WithMaxMtuRestarts(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.MaxMtuRestarts = n
		}
	}
}

// WithResetDelay sets how long a firmware upgrade waits for the device to
// reboot and swap images after a reset. Negative values are ignored.
//
// Example:
//
//	dfu := mcumgr.NewFirmwareUpgradeManager(t, mcumgr.WithResetDelay(10*time.Second))
func WithResetDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.ResetDelay = d
		}
	}
}

// uploaderOptions passes the manager configuration on to an uploader.
func (c Config) uploaderOptions() []transfer.Option {
	return []transfer.Option{
		transfer.WithLogger(c.Logger),
		transfer.WithMaxMtuRestarts(c.MaxMtuRestarts),
	}
}
