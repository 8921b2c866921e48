package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/notebookd/internal/config"
	"github.com/danmuck/notebookd/internal/kernel"
	"github.com/danmuck/notebookd/internal/reconcile"
	"github.com/danmuck/notebookd/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "notebookd", cmd.Use)

	names := make([]string, 0)
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "run", "config"}, names)

	for _, flag := range []string{"config", "verbose", "format"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRootCommand_RejectsUnknownFormat(t *testing.T) {
	testlog.Start(t)
	_, err := execute(t, "", "config", "print", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRunCommand_DryText(t *testing.T) {
	testlog.Start(t)
	out, err := execute(t, "print(1)\n", "run", "--dry", "-")
	require.NoError(t, err)
	assert.Equal(t, "print(1)\n-- kernel=dry-run run=1 emitted=1 dropped=0 skipped=0\n", out)
}

func TestRunCommand_DryJSONFromFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "cell.py")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o600))

	out, err := execute(t, "", "run", "--dry", "--format", "json", path)
	require.NoError(t, err)

	var report runReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "dry-run", report.Kernel)
	require.Len(t, report.Records, 1)
	assert.Equal(t, reconcile.KindStdout, report.Records[0].Kind)
	assert.Equal(t, "x = 1\n", report.Records[0].Text)
	assert.Equal(t, 1, report.Records[0].RunIndex)
	assert.Equal(t, 0, report.Records[0].OutputIndex)
	assert.True(t, report.Summary.RunKnown)
}

func TestRunCommand_RejectsEmptyCode(t *testing.T) {
	testlog.Start(t)
	_, err := execute(t, "   \n", "run", "--dry", "-")
	require.ErrorIs(t, err, kernel.ErrEmptyCode)
}

func TestRunOnce_ReportsDroppedOutput(t *testing.T) {
	testlog.Start(t)
	script := func(count int, code string) []kernel.Message {
		return []kernel.Message{
			kernel.StatusMessage("busy"),
			kernel.StreamMessage("stdout", "orphan\n"),
			kernel.StatusMessage("idle"),
		}
	}
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Connector: kernel.ConnectorFunc(func(ctx context.Context) (kernel.Kernel, error) {
			return kernel.NewFake("scripted", script), nil
		}),
	}
	out := &bytes.Buffer{}
	require.NoError(t, runOnce(context.Background(), opts, "1", out))
	assert.Equal(t, "-- kernel=scripted run=? emitted=0 dropped=1 skipped=0\n", out.String())
}

func TestWriteRecordText_Display(t *testing.T) {
	out := &bytes.Buffer{}
	rec := reconcile.Record{
		Kind:     reconcile.KindDisplay,
		Image:    "iVBORw==",
		HasImage: true,
		Text:     "<Figure>",
		HasText:  true,
	}
	require.NoError(t, writeRecordText(out, rec))
	assert.Equal(t, "[image/png 4 bytes] <Figure>\n", out.String())
}

func TestConfigCommands(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "notebookd.toml")

	out, err := execute(t, "", "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = execute(t, "", "config", "init", path)
	require.Error(t, err)

	_, err = execute(t, "", "config", "init", "--force", path)
	require.NoError(t, err)

	out, err = execute(t, "", "--config", path, "config", "print", "--format", "json")
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, config.Default().Addr, cfg.Addr)
	assert.Equal(t, config.Default().Jupyter.URL, cfg.Jupyter.URL)
}
