package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardnew/softemmc/emmc"
	"github.com/ardnew/softemmc/pkg"
	"github.com/ardnew/softemmc/pkg/prof"
)

// app holds the state shared by all subcommands.
type app struct {
	configPath string
	cfg        Config

	// Flag overrides
	backend   string
	mode      string
	logLevel  string
	logFormat string
	timeout   time.Duration
	partition string
	quiet     bool
	profile   prof.Config

	open func(ctx context.Context, cfg Config) (*session, error)
}

func newApp() *app {
	return &app{open: openSession}
}

// newRootCommand builds the command tree.
func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "emmcctl",
		Short:        "eMMC card utility for SDHI controllers",
		Long:         "Mount an eMMC card behind a Renesas SDHI controller and inspect, erase, read or write it",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.configure(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&a.backend, "backend", "", "controller backend (sim, mmio)")
	flags.StringVar(&a.mode, "mode", "", "transfer mode (pio, dma)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format (text, json)")
	flags.DurationVar(&a.timeout, "timeout", 0, "interrupt wait timeout")
	flags.StringVarP(&a.partition, "partition", "p", "", "partition to select before the operation")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "disable the progress bar")
	flags.StringVar(&a.profile.CPU, "cpuprofile", "", "write a CPU profile")
	flags.StringVar(&a.profile.Heap, "memprofile", "", "write a heap profile")
	flags.StringVar(&a.profile.Mutex, "mutexprofile", "", "write a mutex contention profile")
	flags.StringVar(&a.profile.Block, "blockprofile", "", "write a blocking profile")
	if !prof.Enabled {
		for _, name := range []string{"cpuprofile", "memprofile", "mutexprofile", "blockprofile"} {
			_ = flags.MarkHidden(name)
		}
	}

	root.AddCommand(
		a.infoCommand(),
		a.extCSDCommand(),
		a.partitionCommand(),
		a.eraseCommand(),
		a.readCommand(),
		a.writeCommand(),
	)
	return root
}

// configure loads the configuration file, applies flag overrides and sets
// up logging.
func (a *app) configure(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = a.backend
	}
	if flags.Changed("mode") {
		cfg.Transfer.Mode = a.mode
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("timeout") {
		cfg.Timeout = a.timeout
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	level, ok := pkg.ParseLogLevel(cfg.Log.Level)
	if !ok {
		return fmt.Errorf("unknown log level %q", cfg.Log.Level)
	}
	format, ok := pkg.ParseLogFormat(cfg.Log.Format)
	if !ok {
		return fmt.Errorf("unknown log format %q", cfg.Log.Format)
	}
	pkg.SetLogLevel(level)
	pkg.SetLogOutput(cmd.ErrOrStderr(), format)

	a.cfg = cfg
	pkg.LogDebug(pkg.ComponentCLI, "configured",
		"backend", cfg.Backend, "mode", cfg.Transfer.Mode, "config", a.configPath)
	return nil
}

// withSession mounts the card, selects the requested partition and runs fn.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	stop, err := prof.Start(a.profile)
	if err != nil {
		return err
	}
	defer func() {
		if perr := stop(); err == nil {
			err = perr
		}
	}()

	s, err := a.open(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()

	if err := s.selectPartition(ctx, a.partition); err != nil {
		return err
	}
	return fn(ctx, s)
}

// =============================================================================
// Subcommands
// =============================================================================

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print card identification and link settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(_ context.Context, s *session) error {
				return printInfo(cmd.OutOrStdout(), s.drv)
			})
		},
	}
}

func (a *app) extCSDCommand() *cobra.Command {
	var (
		index int
		set   string
	)
	cmd := &cobra.Command{
		Use:   "extcsd",
		Short: "Dump EXT_CSD, print one byte or write one byte",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				out := cmd.OutOrStdout()
				if set != "" {
					arg, err := parseSwitch(set)
					if err != nil {
						return err
					}
					if err := s.drv.SetExtCSD(ctx, arg); err != nil {
						return err
					}
				}
				ext := s.drv.ExtCSD()
				if index >= 0 {
					if index >= emmc.ExtCSDSize {
						return fmt.Errorf("%w: index %d", pkg.ErrInvalidParameter, index)
					}
					fmt.Fprintf(out, "EXT_CSD[%d] = %#02x\n", index, ext[index])
					return nil
				}
				_, err := io.WriteString(out, hex.Dump(ext[:]))
				return err
			})
		},
	}
	cmd.Flags().IntVar(&index, "index", -1, "print only this byte")
	cmd.Flags().StringVar(&set, "set", "", "write a byte first, as index=value")
	return cmd
}

func (a *app) partitionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "partition [user|boot1|boot2|rpmb|gp1-gp4]",
		Short: "Select a partition and print its size",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				if len(args) == 1 {
					if err := s.selectPartition(ctx, args[0]); err != nil {
						return err
					}
				}
				geo, err := s.drv.Geometry()
				if err != nil {
					return err
				}
				p := s.drv.ActivePartition()
				fmt.Fprintf(cmd.OutOrStdout(), "partition %s: %d sectors\n", p, geo.Sectors(p))
				return nil
			})
		},
	}
}

func (a *app) eraseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "erase START END",
		Short: "Erase sectors START through END of the active partition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseSector(args[0])
			if err != nil {
				return err
			}
			end, err := parseSector(args[1])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				if end >= start {
					if err := s.checkRange(start, end-start+1); err != nil {
						return err
					}
				}
				if err := s.drv.EraseSector(ctx, start, end); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "erased sectors %d-%d\n", start, end)
				return nil
			})
		},
	}
}

func (a *app) readCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "read SECTOR COUNT",
		Short: "Read COUNT sectors starting at SECTOR",
		Long:  "Read sectors to a file, or hex dump them to standard output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sector, err := parseSector(args[0])
			if err != nil {
				return err
			}
			count, err := parseSector(args[1])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				var w io.Writer
				if out == "" {
					dump := hex.Dumper(cmd.OutOrStdout())
					defer dump.Close()
					w = dump
				} else {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}

				bar := newProgress(int64(count)*emmc.BlockSize, "read", a.quiet)
				defer bar.Close()
				return s.readRange(ctx, sector, count, w, bar)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	return cmd
}

func (a *app) writeCommand() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "write SECTOR --in FILE",
		Short: "Write FILE starting at SECTOR, padding the last sector with zeros",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if in == "" {
				return fmt.Errorf("--in is required")
			}
			sector, err := parseSector(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				padded := padSectors(data)
				bar := newProgress(int64(len(padded)), "write", a.quiet)
				defer bar.Close()
				if err := s.writeRange(ctx, sector, padded, bar); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes at sector %d\n", len(data), sector)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "input file")
	return cmd
}

// =============================================================================
// Formatting and parsing
// =============================================================================

// printInfo writes the card registers and link state.
func printInfo(w io.Writer, d *emmc.Driver) error {
	cid := d.CID()
	geo, err := d.Geometry()
	if err != nil {
		return err
	}
	freq, _ := d.Clock()

	fmt.Fprintf(w, "manufacturer:  %#02x\n", cid[0])
	fmt.Fprintf(w, "product:       %s\n", strings.TrimRight(string(cid[3:9]), "\x00 "))
	fmt.Fprintf(w, "revision:      %d.%d\n", cid[9]>>4, cid[9]&0x0F)
	fmt.Fprintf(w, "serial:        %#08x\n", binary.BigEndian.Uint32(cid[10:14]))
	fmt.Fprintf(w, "spec version:  %d\n", d.SpecVersion())
	fmt.Fprintf(w, "ext_csd rev:   %d\n", d.ExtCSDRevision())
	fmt.Fprintf(w, "user area:     %d sectors\n", geo.UserSectors)
	fmt.Fprintf(w, "boot areas:    %d sectors each\n", geo.Boot1Sectors)
	fmt.Fprintf(w, "bus width:     %d\n", d.BusWidth())
	fmt.Fprintf(w, "timing:        %s\n", d.HSTiming())
	fmt.Fprintf(w, "clock divisor: %d\n", freq)
	fmt.Fprintf(w, "partition:     %s\n", d.ActivePartition())
	return nil
}

// parseSector parses a decimal or 0x-prefixed sector number.
func parseSector(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: sector %q", pkg.ErrInvalidParameter, s)
	}
	return uint32(v), nil
}

// parseSwitch converts index=value into a CMD6 write-byte argument.
func parseSwitch(s string) (uint32, error) {
	idx, val, ok := strings.Cut(s, "=")
	if !ok {
		return 0, fmt.Errorf("%w: want index=value, got %q", pkg.ErrInvalidParameter, s)
	}
	index, err := strconv.ParseUint(idx, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: index %q", pkg.ErrInvalidParameter, idx)
	}
	value, err := strconv.ParseUint(val, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: value %q", pkg.ErrInvalidParameter, val)
	}
	return 0x03<<24 | uint32(index)<<16 | uint32(value)<<8, nil
}
