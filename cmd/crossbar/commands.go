package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crossbarhq/crossbar/internal/config"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir> [dir ...]",
	Short: "Ingest corpus directories into the vector store",
	Long: `Ingest corpus directories into the vector store.

Walks each directory, chunks text and PDF files, embeds each chunk, and
writes it to the store. Re-running over an unchanged corpus is a no-op.

Examples:
  crossbar ingest ./docs
  crossbar ingest ~/notes ~/runbooks`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingestCorpus(args)
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(ansiBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nValid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
