package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/notebookd/internal/executor"
	"github.com/danmuck/notebookd/internal/kernel"
	"github.com/danmuck/notebookd/internal/notebook"
	"github.com/spf13/cobra"
)

type RunOptions struct {
	*RootOptions
	Dry     bool
	Timeout time.Duration

	// Connector overrides the kernel connector (for testing).
	Connector kernel.Connector
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <file|->",
		Short: "Execute code once and print its output records",
		Long: `Connect to the configured kernel, execute the code from a file (or stdin
with "-") as a single cell, and print the reconciled output records.

Example:
  notebookd run ./snippet.py
  echo 'print(1)' | notebookd run - --format json
  notebookd run --dry ./snippet.py`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readCode(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runOnce(ctx, opts, code, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.Dry, "dry", false, "use an in-process echo kernel instead of Jupyter")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "abort the execution after this long (0 waits forever)")
	return cmd
}

func readCode(path string, stdin io.Reader) (string, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read code: %w", err)
	}
	code := string(raw)
	if strings.TrimSpace(code) == "" {
		return "", kernel.ErrEmptyCode
	}
	return code, nil
}

func (o *RunOptions) connector() (kernel.Connector, error) {
	if o.Connector != nil {
		return o.Connector, nil
	}
	if o.Dry {
		return kernel.ConnectorFunc(func(ctx context.Context) (kernel.Kernel, error) {
			return kernel.NewFake("dry-run", kernel.EchoScript), nil
		}), nil
	}
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return kernel.NewClient(cfg.Jupyter.KernelConfig()), nil
}

func runOnce(ctx context.Context, opts *RunOptions, code string, out io.Writer) error {
	connector, err := opts.connector()
	if err != nil {
		return err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	store := notebook.NewStore()
	exec := executor.New(store, connector)
	defer exec.Close()
	if err := exec.Connect(ctx); err != nil {
		return err
	}
	k, _ := exec.Kernel()

	cell := store.AddCell(code)
	summary, err := exec.Execute(ctx, cell.ID)
	if err != nil {
		return err
	}
	done, err := store.Cell(cell.ID)
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		return writeJSON(out, runReport{Kernel: k.ID(), Records: done.Output, Summary: summary})
	}
	for _, rec := range done.Output {
		if err := writeRecordText(out, rec); err != nil {
			return err
		}
	}
	return writeSummaryText(out, k.ID(), summary)
}
