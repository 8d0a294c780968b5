// Command vt-server runs the remote-terminal multiplexing service: the
// HTTP control surface, the WebSocket v3 multiplexer, and the PTY
// lifecycle manager backing both.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is the value reported by GET /api/health and `vt-server
// version`. Overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "vt-server",
		Short: "Remote terminal multiplexing service",
		Long:  "vt-server spawns and supervises PTY-backed shell sessions and exposes them over a framed WebSocket protocol and a REST control surface.",
	}

	// serve is also the root command's own action, so `vt-server --config
	// f.yaml` runs the server without naming the subcommand.
	serve := serveCmd()
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(
		serve,
		keygenCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the vt-server version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
