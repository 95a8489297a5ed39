package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/peerlink/internal/bridge"
	"github.com/danmuck/peerlink/internal/config"
	"github.com/danmuck/peerlink/internal/logging"
	"github.com/spf13/cobra"
)

const defaultSendTimeout = 30 * time.Second

type options struct {
	configPath string
	envFile    string
	peer       string
	timeout    time.Duration
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "hostctl",
		Short: "Drive a peerlink peer from the host side",
		Long: `hostctl opens the host bridge to a peer and issues correlated calls,
fire-and-forget events and lifecycle requests.

The peer address comes from --peer, then PEERLINK_PEER_ADDR, then
peer_address in the config file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnv(opts.envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			logging.ConfigureRuntime()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "host config TOML path")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before config")
	root.PersistentFlags().StringVar(&opts.peer, "peer", "", "peer address (overrides env and config)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "call/emit timeout (0 uses call_timeout for calls, 30s for emits)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "log connection lifecycle")

	root.AddCommand(
		newCallCmd(opts),
		newEmitCmd(opts),
		newLifecycleCmd(opts, bridge.EventQuit, "Ask the peer to quit", (*bridge.Bridge).Quit),
		newLifecycleCmd(opts, bridge.EventRestart, "Ask the peer to restart", (*bridge.Bridge).Restart),
		newConfigCmd(),
	)
	return root
}

func newCallCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "call <trigger> <completion> [json-args...]",
		Short: "Emit trigger and print the completion payload",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, cfg, err := openBridge(opts)
			if err != nil {
				return err
			}
			defer b.Close()

			// --timeout already replaced call_timeout in cfg
			ctx := cmd.Context()
			if cfg.CallTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
				defer cancel()
			}
			raw, err := bridge.CallContext[json.RawMessage](ctx, b, args[0], args[1], parseArgs(args[2:])...)
			if err != nil {
				return fmt.Errorf("call %s -> %s: %w", args[0], args[1], err)
			}
			if len(raw) == 0 {
				raw = json.RawMessage("null")
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	}
}

func newEmitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "emit <name> [json-args...]",
		Short: "Send one event and wait for the peer's ack",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, err := openBridge(opts)
			if err != nil {
				return err
			}
			defer b.Close()

			ctx, cancel := sendContext(cmd.Context(), opts)
			defer cancel()
			if err := b.EmitSync(ctx, args[0], parseArgs(args[1:])...); err != nil {
				return fmt.Errorf("emit %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", args[0])
			return nil
		},
	}
}

func newLifecycleCmd(opts *options, use, short string, send func(*bridge.Bridge, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, _, err := openBridge(opts)
			if err != nil {
				return err
			}
			defer b.Close()

			ctx, cancel := sendContext(cmd.Context(), opts)
			defer cancel()
			if err := send(b, ctx); err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", use)
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var kind, output string
	var force bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate host/peer config files",
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := output
			if target == "" {
				target = kind + ".toml"
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", kind, target)
			return nil
		},
	}
	initCmd.Flags().StringVar(&output, "output", "", "output path (default <kind>.toml)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Load and validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Validate(args[0], kind); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s\n", kind, args[0])
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&kind, "kind", config.KindHost, "config kind: host|peer")
	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func sendContext(parent context.Context, opts *options) (context.Context, context.CancelFunc) {
	timeout := opts.timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return context.WithTimeout(parent, timeout)
}

// parseArgs decodes each argument as JSON, falling back to a plain string.
func parseArgs(raw []string) []any {
	out := make([]any, 0, len(raw))
	for _, arg := range raw {
		trimmed := strings.TrimSpace(arg)
		if json.Valid([]byte(trimmed)) {
			out = append(out, json.RawMessage(trimmed))
			continue
		}
		out = append(out, arg)
	}
	return out
}
