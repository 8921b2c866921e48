package cli

import (
	"strings"

	"github.com/danmuck/notebookd/internal/app"
	"github.com/spf13/cobra"
)

type ServeOptions struct {
	*RootOptions
	Addr      string
	NoConnect bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the notebook HTTP API",
		Long: `Serve the notebook HTTP API and connect to the configured Jupyter kernel.

Example:
  notebookd serve --config ./notebookd.toml
  notebookd serve --addr :9100 --no-connect`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if addr := strings.TrimSpace(opts.Addr); addr != "" {
				cfg.Addr = addr
			}
			if opts.NoConnect {
				cfg.ConnectOnBoot = false
			}
			svc, err := app.NewService(cfg)
			if err != nil {
				return err
			}
			return svc.Run()
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.NoConnect, "no-connect", false, "skip the kernel connection on boot")
	return cmd
}
