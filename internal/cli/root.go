// Package cli implements the notebookd command tree.
package cli

import (
	"fmt"
	"slices"

	"github.com/danmuck/notebookd/internal/config"
	"github.com/danmuck/notebookd/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "notebookd",
		Short: "Notebook cell store backed by a Jupyter kernel",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			configureLogging(opts)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to notebookd TOML config")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	return cmd
}

func configureLogging(opts *RootOptions) {
	logging.ConfigureRuntime()
	if opts.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// loadConfig returns defaults plus environment overrides when no path is given.
func (o *RootOptions) loadConfig() (config.Config, error) {
	return config.Load(o.ConfigPath)
}
