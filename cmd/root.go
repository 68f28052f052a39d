// Package cmd holds the cobra command tree for the mangalib binary.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root command and attaches every subcommand.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "mangalib",
		Short: "Mangalib parser",
		Long: `mangalib scrapes chapter image lists from mangalib and delivers them to
caller-supplied callback URLs. Jobs arrive over HTTP (serve) or from a
RabbitMQ queue (consume); the catalogue commands export the manga listing.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(
		newServeCmd(&cfgFile),
		newConsumeCmd(&cfgFile),
		newCatalogueCmd(&cfgFile),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
