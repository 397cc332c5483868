// Package cli implements the thin keti-tsn command-line wrapper (spec §6):
// connect to either transport, run one of fetch/patch/get/put, print the
// result, and map core errors onto process exit codes. Grounded on this
// codebase's telemetry-data CLI: a cobra root command with persistent
// flags, one subcommand per operation, and tint for console logging.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/client"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/transport"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/transport/serial"
	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/transport/udp"
)

// ExitCode is the process exit status Run returns.
type ExitCode int

const (
	exitCodeSuccess ExitCode = 0
	exitCodeError   ExitCode = 1
)

const connectTimeout = 5 * time.Second

type rootFlags struct {
	transportKind string
	device        string
	host          string
	port          int
	verbose       bool
}

// Run builds and executes the keti-tsn root command, returning the process
// exit code (spec §6: "Exit code 0 on success, non-zero on any error
// surfaced from the core").
func Run(args []string) ExitCode {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "keti-tsn",
		Short:         "Configure a VelocityDRIVE-SP TSN switch over MUP1/CoAP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.transportKind, "transport", "serial", "transport to use: serial or wifi")
	rootCmd.PersistentFlags().StringVar(&flags.device, "device", "", "serial device path (transport=serial)")
	rootCmd.PersistentFlags().StringVar(&flags.host, "host", "", "bridging proxy host (transport=wifi)")
	rootCmd.PersistentFlags().IntVar(&flags.port, "port", udp.DefaultPort, "bridging proxy port (transport=wifi)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newFetchCmd(flags),
		newPatchCmd(flags),
		newGetCmd(flags),
		newPutCmd(flags),
	)

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCodeError
	}
	return exitCodeSuccess
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// connect opens the transport named by flags.transportKind and waits for it
// to become ready (spec §4.3/§4.4/§4.5).
func connect(flags *rootFlags) (transport.Transport, error) {
	log := newLogger(flags.verbose)

	var t transport.Transport
	switch strings.ToLower(flags.transportKind) {
	case "serial":
		if flags.device == "" {
			return nil, fmt.Errorf("--device is required for transport=serial")
		}
		s, err := serial.Connect(serial.Config{Device: flags.device, Log: log})
		if err != nil {
			return nil, err
		}
		t = s
	case "wifi", "udp":
		if flags.host == "" {
			return nil, fmt.Errorf("--host is required for transport=wifi")
		}
		u, err := udp.Connect(udp.Config{Host: flags.host, Port: flags.port, Log: log})
		if err != nil {
			return nil, err
		}
		t = u
	default:
		return nil, fmt.Errorf("unknown transport %q (want serial or wifi)", flags.transportKind)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := t.WaitForReady(ctx); err != nil {
		_ = t.Disconnect()
		return nil, fmt.Errorf("waiting for device ready: %w", err)
	}
	return t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newFetchCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <path> [path...]",
		Short: "Fetch one or more YANG paths and print the decoded result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := connect(flags)
			if err != nil {
				return err
			}
			defer t.Disconnect()

			c := client.New(t)
			result, err := c.Fetch(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func newPatchCmd(flags *rootFlags) *cobra.Command {
	var pairs []string
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Apply one or more path=value patches via iPATCH",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(pairs) == 0 {
				return fmt.Errorf("at least one --set path=value is required")
			}
			patches := make([]client.Patch, 0, len(pairs))
			for _, p := range pairs {
				path, value, ok := strings.Cut(p, "=")
				if !ok {
					return fmt.Errorf("invalid --set %q, want path=value", p)
				}
				patches = append(patches, client.Patch{Path: path, Value: value})
			}

			t, err := connect(flags)
			if err != nil {
				return err
			}
			defer t.Disconnect()

			c := client.New(t)
			reports := c.Patch(cmd.Context(), patches)
			failed := false
			for _, r := range reports {
				if r.Err != nil {
					failed = true
					fmt.Fprintf(os.Stderr, "patch %s failed: %v\n", r.Path, r.Err)
				}
			}
			if failed {
				return fmt.Errorf("one or more patches failed")
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "set", nil, "path=value pair to patch (repeatable)")
	return cmd
}

func newGetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Retrieve the full datastore and print its decoded form",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := connect(flags)
			if err != nil {
				return err
			}
			defer t.Disconnect()

			c := client.New(t)
			res, err := c.Get(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "retrieved %d bytes\n", res.Count)
			return printJSON(res.Decoded)
		},
	}
}

func newPutCmd(flags *rootFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Replace the full datastore from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}
			var payload any
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("parsing %s as JSON: %w", file, err)
			}

			t, err := connect(flags)
			if err != nil {
				return err
			}
			defer t.Disconnect()

			c := client.New(t)
			return c.Put(cmd.Context(), payload)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to a JSON file holding the full replacement payload")
	return cmd
}
