package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the tool declarations offered to the speech model as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(tools.Definitions())
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the provider names accepted in the providers section",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		cfg := &config.Config{}
		config.ApplyDefaults(cfg)
		reg := config.NewRegistry()
		registerBuiltinProviders(reg, cfg)

		w := cmd.OutOrStdout()
		for _, kind := range []string{config.KindS2S, config.KindSTT, config.KindEmbeddings} {
			fmt.Fprintf(w, "%-11s %s\n", kind+":", strings.Join(reg.Names(kind), ", "))
		}
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd, providersCmd)
}
