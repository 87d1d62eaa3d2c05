package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/moffa90/go-mcumgr/image"
	"github.com/moffa90/go-mcumgr/mcumgr"
)

// defaultResetDelay is how long an upgrade over udp waits for the device to
// come back after a reset.
const defaultResetDelay = 10 * time.Second

// withSession runs fn with the invocation's session and a context bounded by
// the configured timeout.
func withSession(fn func(ctx context.Context, c *cli.Context, s *session) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := current(c)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(c.Context, s.timeout)
		defer cancel()
		return fn(ctx, c, s)
	}
}

func requireArgs(c *cli.Context, n int, usage string) error {
	if c.NArg() < n {
		return cli.Exit(fmt.Sprintf("usage: %s %s", c.Command.HelpName, usage), 2)
	}
	return nil
}

func echoCommand() *cli.Command {
	return &cli.Command{
		Name:      "echo",
		Usage:     "Send a string and print the device's echo",
		ArgsUsage: "<text>",
		Action: withSession(func(ctx context.Context, c *cli.Context, s *session) error {
			if err := requireArgs(c, 1, "<text>"); err != nil {
				return err
			}
			got, err := mcumgr.NewDefaultManager(s.transport, s.options()...).Echo(ctx, strings.Join(c.Args().Slice(), " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, got)
			return nil
		}),
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Reboot the device",
		Action: withSession(func(ctx context.Context, c *cli.Context, s *session) error {
			if err := mcumgr.NewDefaultManager(s.transport, s.options()...).Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, okColor("reset requested"))
			return nil
		}),
	}
}

func datetimeCommand() *cli.Command {
	return &cli.Command{
		Name:  "datetime",
		Usage: "Read or set the device clock",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "set", Usage: "RFC 3339 time to write"},
			&cli.BoolFlag{Name: "now", Usage: "write the host clock"},
		},
		Action: withSession(func(ctx context.Context, c *cli.Context, s *session) error {
			m := mcumgr.NewDefaultManager(s.transport, s.options()...)
			switch {
			case c.Bool("now"):
				return m.WriteDatetime(ctx, time.Now())
			case c.IsSet("set"):
				t, err := time.Parse(time.RFC3339, c.String("set"))
				if err != nil {
					return cli.Exit(fmt.Sprintf("invalid time: %v", err), 2)
				}
				return m.WriteDatetime(ctx, t)
			}
			t, err := m.ReadDatetime(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, t.Format(time.RFC3339))
			return nil
		}),
	}
}

func imageCommand() *cli.Command {
	return &cli.Command{
		Name:  "image",
		Usage: "Manage firmware images",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Show the image slots",
				Action: withSession(func(ctx context.Context, c *cli.Context, s *session) error {
					state, err := mcumgr.NewImageManager(s.transport, s.options()...).List(ctx)
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "SLOT\tVERSION\tFLAGS\tHASH")
					for _, img := range state.Images {
						fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", img.Slot, img.Version, slotFlags(img.Bootable, img.Pending, img.Confirmed, img.Active, img.Permanent), hex.EncodeToString(img.Hash))
					}
					return tw.Flush()
				}),
			},
			{
				Name:      "upload",
				Usage:     "Upload an image to the secondary slot",
				ArgsUsage: "<file>",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1, "<file>"); err != nil {
						return err
					}
					s, err := current(c)
					if err != nil {
						return err
					}
					img, err := image.Load(c.Args().First())
					if err != nil {
						return err
					}
					if img.Header != nil {
						fmt.Fprintf(c.App.Writer, "image version %s, %d bytes\n", img.Header.Version, img.Size())
					}
					m := mcumgr.NewImageManager(s.transport, s.options()...)
					p := newProgress(c.App.Writer, "upload")
					if !m.Upload(img.Data, p.observer()) {
						return cli.Exit("upload already in progress", 1)
					}
					return p.wait()
				},
			},
			{
				Name:      "upgrade",
				Usage:     "Upload an image, reset into it and confirm it",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "mode", Value: mcumgr.ModeTestAndConfirm.String(), Usage: "test-and-confirm, test-only or confirm-only"},
					&cli.DurationFlag{Name: "reset-delay", Usage: "wait for the device to reboot (default 10s over udp, 0 for sim)"},
				},
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1, "<file>"); err != nil {
						return err
					}
					s, err := current(c)
					if err != nil {
						return err
					}
					mode, err := mcumgr.ParseUpgradeMode(c.String("mode"))
					if err != nil {
						return cli.Exit(err.Error(), 2)
					}
					img, err := image.Load(c.Args().First())
					if err != nil {
						return err
					}
					if img.Header != nil {
						fmt.Fprintf(c.App.Writer, "image version %s, %d bytes\n", img.Header.Version, img.Size())
					}

					delay := time.Duration(0)
					if s.config.Transport == transportUDP {
						delay = defaultResetDelay
					}
					if c.IsSet("reset-delay") {
						delay = c.Duration("reset-delay")
					}
					dfu := mcumgr.NewFirmwareUpgradeManager(s.transport, append(s.options(), mcumgr.WithResetDelay(delay))...)

					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
					defer stop()
					p := newProgress(c.App.Writer, "upgrade")
					if err := dfu.Start(ctx, img.Data, mode, p.upgradeObserver()); err != nil {
						return err
					}
					return p.wait()
				},
			},
			{
				Name:      "test",
				Usage:     "Boot an image once on the next reset",
				ArgsUsage: "<hash>",
				Action: withSession(func(ctx context.Context, c *cli.Context, s *session) error {
					if err := requireArgs(c, 1, "<hash>"); err != nil {
						return err
					}
					hash, err := hex.DecodeString(c.Args().First())
					if err != nil {
						return cli.Exit(fmt.Sprintf("invalid hash: %v", err), 2)
					}
					_, err = mcumgr.NewImageManager(s.transport, s.options()...).Test(ctx, hash)
					return err
				}),
			},
			{
				Name:      "confirm",
				Usage:     "Make an image permanent; without a hash the running image",
				ArgsUsage: "[hash]",
				Action: withSession(func(ctx context.Context, c *cli.Context, s *session) error {
					var hash []byte
					if c.NArg() > 0 {
						var err error
						if hash, err = hex.DecodeString(c.Args().First()); err != nil {
							return cli.Exit(fmt.Sprintf("invalid hash: %v", err), 2)
						}
					}
					_, err := mcumgr.NewImageManager(s.transport, s.options()...).Confirm(ctx, hash)
					return err
				}),
			},
			{
				Name:  "erase",
				Usage: "Erase the secondary slot",
				Action: withSession(func(ctx context.Context, c *cli.Context, s *session) error {
					return mcumgr.NewImageManager(s.transport, s.options()...).Erase(ctx)
				}),
			},
		},
	}
}

func slotFlags(flags ...bool) string {
	names := []string{"bootable", "pending", "confirmed", "active", "permanent"}
	var out []string
	for i, set := range flags {
		if set {
			out = append(out, names[i])
		}
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ",")
}

func fsCommand() *cli.Command {
	return &cli.Command{
		Name:  "fs",
		Usage: "Transfer files",
		Subcommands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "Upload a local file",
				ArgsUsage: "<local> <remote>",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 2, "<local> <remote>"); err != nil {
						return err
					}
					s, err := current(c)
					if err != nil {
						return err
					}
					data, err := os.ReadFile(c.Args().Get(0))
					if err != nil {
						return err
					}
					m := mcumgr.NewFileSystemManager(s.transport, s.options()...)
					p := newProgress(c.App.Writer, "upload")
					if !m.Upload(c.Args().Get(1), data, p.observer()) {
						return cli.Exit("upload already in progress", 1)
					}
					return p.wait()
				},
			},
			{
				Name:      "download",
				Usage:     "Download a remote file",
				ArgsUsage: "<remote> <local>",
				Action: withSession(func(ctx context.Context, c *cli.Context, s *session) error {
					if err := requireArgs(c, 2, "<remote> <local>"); err != nil {
						return err
					}
					data, err := mcumgr.NewFileSystemManager(s.transport, s.options()...).Download(ctx, c.Args().Get(0), nil)
					if err != nil {
						return err
					}
					if err := os.WriteFile(c.Args().Get(1), data, 0o644); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "%s %d bytes\n", okColor("downloaded"), len(data))
					return nil
				}),
			},
		},
	}
}

func statCommand() *cli.Command {
	return &cli.Command{
		Name:  "stat",
		Usage: "Read statistics",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List statistics groups",
				Action: withSession(func(ctx context.Context, c *cli.Context, s *session) error {
					names, err := mcumgr.NewStatsManager(s.transport, s.options()...).List(ctx)
					if err != nil {
						return err
					}
					for _, n := range names {
						fmt.Fprintln(c.App.Writer, n)
					}
					return nil
				}),
			},
			{
				Name:      "read",
				Usage:     "Read one statistics group",
				ArgsUsage: "<group>",
				Action: withSession(func(ctx context.Context, c *cli.Context, s *session) error {
					if err := requireArgs(c, 1, "<group>"); err != nil {
						return err
					}
					stats, err := mcumgr.NewStatsManager(s.transport, s.options()...).Read(ctx, c.Args().First())
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
					for _, name := range sortedNames(stats.Fields) {
						fmt.Fprintf(tw, "%s\t%d\n", name, stats.Fields[name])
					}
					return tw.Flush()
				}),
			},
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Read and write device settings",
		Subcommands: []*cli.Command{
			{
				Name:      "read",
				ArgsUsage: "<name>",
				Action: withSession(func(ctx context.Context, c *cli.Context, s *session) error {
					if err := requireArgs(c, 1, "<name>"); err != nil {
						return err
					}
					val, err := mcumgr.NewConfigManager(s.transport, s.options()...).Read(ctx, c.Args().First())
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, val)
					return nil
				}),
			},
			{
				Name:      "write",
				ArgsUsage: "<name> <value>",
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "save", Usage: "persist settings"}},
				Action: withSession(func(ctx context.Context, c *cli.Context, s *session) error {
					if err := requireArgs(c, 2, "<name> <value>"); err != nil {
						return err
					}
					return mcumgr.NewConfigManager(s.transport, s.options()...).Write(ctx, c.Args().Get(0), c.Args().Get(1), c.Bool("save"))
				}),
			},
		},
	}
}

func logCommand() *cli.Command {
	return &cli.Command{
		Name:  "log",
		Usage: "Read device logs",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List logs",
				Action: withSession(func(ctx context.Context, c *cli.Context, s *session) error {
					names, err := mcumgr.NewLogManager(s.transport, s.options()...).List(ctx)
					if err != nil {
						return err
					}
					for _, n := range names {
						fmt.Fprintln(c.App.Writer, n)
					}
					return nil
				}),
			},
			{
				Name:      "show",
				Usage:     "Print log entries",
				ArgsUsage: "[log]",
				Flags:     []cli.Flag{&cli.Uint64Flag{Name: "index", Usage: "first entry to read"}},
				Action: withSession(func(ctx context.Context, c *cli.Context, s *session) error {
					shown, err := mcumgr.NewLogManager(s.transport, s.options()...).Show(ctx, c.Args().First(), c.Uint64("index"))
					if err != nil {
						return err
					}
					for _, l := range shown.Logs {
						for _, e := range l.Entries {
							msg, ok := e.Message()
							if !ok {
								msg = hex.EncodeToString(e.Msg)
							}
							fmt.Fprintf(c.App.Writer, "%s %d %s\n", dimColor(l.Name), e.Index, msg)
						}
					}
					return nil
				}),
			},
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "mcumgr %s\n", version)
			return nil
		},
	}
}

func sortedNames(m map[string]uint64) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
