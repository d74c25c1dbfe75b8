// Command jarvis is the entry point for the Jarvis voice assistant server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "jarvis",
	Short:        "Jarvis - realtime voice assistant",
	Version:      getVersion(),
	SilenceUsage: true,
	Long: `Jarvis listens for a wake phrase, then opens a realtime speech session
with a remote model and executes the tools the model calls on this host.

Without a subcommand, jarvis behaves like "jarvis run".`,
	RunE: runServer,
}

func init() {
	addRunFlags(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
