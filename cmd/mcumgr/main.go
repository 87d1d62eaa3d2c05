// Command mcumgr manages MCU devices over the MCU management protocol.
//
// Usage:
//
//	mcumgr [global options] <command> [subcommand] [arguments]
//
// The device is reached through --transport udp (with --address) or the
// built-in simulated device (--transport sim). Global options may also be
// read from a YAML or TOML file given with --config.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	app := newApp()
	app.ExitErrHandler = exitErrHandler
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "mcumgr",
		Usage:   "MCU management client",
		Version: version,
		Flags:   globalFlags(),
		Before:  setup,
		After:   teardown,
		Commands: []*cli.Command{
			echoCommand(),
			resetCommand(),
			datetimeCommand(),
			imageCommand(),
			fsCommand(),
			statCommand(),
			configCommand(),
			logCommand(),
			versionCommand(),
		},
	}
}

// exitErrHandler prints err and exits, keeping the code of a cli.ExitCoder.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
