package main

import (
    "fmt"

    "github.com/spf13/cobra"

    "quicbridge/pkg/ids"
)

// Options holds CLI options shared by both subcommands.
type Options struct {
    ConfigPath string
    Role       ids.Role

    // client overrides; zero values keep the configured ones
    Connect  string
    Messages int
    Codec    string
}

func execute(args []string) int {
    code := 0
    root := newRootCmd(func(opts Options) int { return run(opts) }, &code)
    root.SetArgs(args)
    if err := root.Execute(); err != nil && code == 0 {
        code = 2
    }
    return code
}

// newRootCmd builds the command tree. runFn receives the parsed options and
// its result is stored in code.
func newRootCmd(runFn func(Options) int, code *int) *cobra.Command {
    var opts Options
    root := &cobra.Command{
        Use:           "quicbridge",
        Short:         "Non-blocking tick-driven bridge over QUIC streams",
        SilenceUsage:  true,
        SilenceErrors: false,
    }
    root.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")

    runAs := func(role ids.Role) func(*cobra.Command, []string) error {
        return func(*cobra.Command, []string) error {
            opts.Role = role
            *code = runFn(opts)
            if *code != 0 {
                return fmt.Errorf("%s exited with status %d", role, *code)
            }
            return nil
        }
    }

    server := &cobra.Command{
        Use:   "server",
        Short: "Accept connections and echo every message back",
        Args:  cobra.NoArgs,
        RunE:  runAs(ids.RoleServer),
    }

    client := &cobra.Command{
        Use:   "client",
        Short: "Connect, open a stream and send pings",
        Args:  cobra.NoArgs,
        RunE:  runAs(ids.RoleClient),
    }
    client.Flags().StringVar(&opts.Connect, "connect", "", "Server address, overrides client.connect")
    client.Flags().IntVar(&opts.Messages, "messages", 0, "Pings to send before exiting, overrides client.messages")
    client.Flags().StringVar(&opts.Codec, "codec", "", "Payload codec (cbor, json, proto), overrides client.codec")

    root.AddCommand(server, client)
    return root
}
