package main

import (
	"errors"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/moffa90/go-mcumgr/logging"
	"github.com/moffa90/go-mcumgr/mcumgr"
	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transport"
	"github.com/moffa90/go-mcumgr/transport/sim"
	"github.com/moffa90/go-mcumgr/transport/udp"
)

// session is the state shared by every command of one invocation.
type session struct {
	config    Config
	logger    *zap.Logger
	transport transport.Transport
	timeout   time.Duration
	closer    io.Closer
}

const sessionKey = "session"

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML or TOML config file", EnvVars: []string{"MCUMGR_CONFIG"}},
		&cli.StringFlag{Name: "transport", Usage: "sim or udp"},
		&cli.StringFlag{Name: "address", Aliases: []string{"a"}, Usage: "device address for udp (host[:port])"},
		&cli.StringFlag{Name: "scheme", Usage: "framing of the simulated device: ble, coap-ble, coap-udp or udp"},
		&cli.IntFlag{Name: "mtu", Usage: "initial MTU"},
		&cli.StringFlag{Name: "timeout", Usage: "per-command timeout"},
		&cli.IntFlag{Name: "max-mtu-restarts", Usage: "upload restarts allowed after insufficient-MTU errors"},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		&cli.StringFlag{Name: "log-format", Usage: "console or json"},
		&cli.BoolFlag{Name: "no-color", Usage: "disable colored output"},
	}
}

// setup loads the configuration, applies flag overrides and opens the
// transport.
func setup(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	applyFlags(c, &cfg)
	if err := cfg.validate(); err != nil {
		return cli.Exit(err.Error(), 2)
	}

	if c.Bool("no-color") {
		color.NoColor = true
	}

	logger, err := logging.New(c.App.ErrWriter, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	timeout, _ := cfg.timeout()

	s := &session{config: cfg, logger: logger, timeout: timeout}
	switch cfg.Transport {
	case transportUDP:
		t, err := udp.Dial(cfg.Address, udp.WithTimeout(timeout), udp.WithLogger(logger))
		if err != nil {
			return err
		}
		s.transport, s.closer = t, t
	default:
		scheme, _ := protocol.ParseScheme(cfg.Scheme)
		s.transport = sim.New(sim.WithScheme(scheme), sim.WithLogger(logger))
	}

	c.App.Metadata = map[string]interface{}{sessionKey: s}
	return nil
}

func teardown(c *cli.Context) error {
	s, ok := c.App.Metadata[sessionKey].(*session)
	if !ok {
		return nil
	}
	_ = s.logger.Sync()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func applyFlags(c *cli.Context, cfg *Config) {
	if c.IsSet("transport") {
		cfg.Transport = c.String("transport")
	}
	if c.IsSet("address") {
		cfg.Address = c.String("address")
	}
	if c.IsSet("scheme") {
		cfg.Scheme = c.String("scheme")
	}
	if c.IsSet("mtu") {
		cfg.Mtu = c.Int("mtu")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.String("timeout")
	}
	if c.IsSet("max-mtu-restarts") {
		n := c.Int("max-mtu-restarts")
		cfg.MaxMtuRestarts = &n
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
}

func current(c *cli.Context) (*session, error) {
	s, ok := c.App.Metadata[sessionKey].(*session)
	if !ok {
		return nil, errors.New("no session")
	}
	return s, nil
}

func (s *session) options() []mcumgr.Option {
	opts := []mcumgr.Option{
		mcumgr.WithLogger(s.logger),
		mcumgr.WithMaxMtuRestarts(s.config.maxMtuRestarts()),
	}
	if s.config.Mtu != 0 {
		opts = append(opts, mcumgr.WithMtu(s.config.Mtu))
	}
	return opts
}
