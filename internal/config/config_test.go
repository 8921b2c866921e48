package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/notebookd/internal/testutil/testlog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadTemplateMatchesDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, Template()))
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("template drifted from defaults:\n got=%+v\nwant=%+v", cfg, Default())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
addr = "127.0.0.1:9100"
connect_on_boot = false
api_token = "s3cret"

[jupyter]
url = "https://jupyter.internal:8888/lab"
kernel_id = "k-42"
connect_timeout = "750ms"

[jupyter.backoff]
jitter = false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "notebookd" {
		t.Fatalf("unexpected name: %q", cfg.Name)
	}
	if cfg.Addr != "127.0.0.1:9100" || cfg.ConnectOnBoot || cfg.APIToken != "s3cret" {
		t.Fatalf("unexpected service config: %+v", cfg)
	}
	if cfg.Jupyter.KernelID != "k-42" || cfg.Jupyter.KernelName != "python3" {
		t.Fatalf("unexpected kernel config: %+v", cfg.Jupyter)
	}
	if time.Duration(cfg.Jupyter.ConnectTimeout) != 750*time.Millisecond {
		t.Fatalf("unexpected timeout: %v", time.Duration(cfg.Jupyter.ConnectTimeout))
	}
	if cfg.Jupyter.Backoff.Jitter || cfg.Jupyter.Backoff.Multiplier != 2.0 {
		t.Fatalf("unexpected backoff: %+v", cfg.Jupyter.Backoff)
	}

	kc := cfg.Jupyter.KernelConfig()
	if kc.URL != "https://jupyter.internal:8888/lab" || kc.KernelID != "k-42" {
		t.Fatalf("unexpected kernel client config: %+v", kc)
	}
	if kc.ConnectTimeout != 750*time.Millisecond || kc.Backoff.Jitter {
		t.Fatalf("unexpected kernel client timings: %+v", kc)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	testlog.Start(t)
	t.Setenv("NOTEBOOKD_ADDR", ":7000")
	t.Setenv("NOTEBOOKD_CORS_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("NOTEBOOKD_JUPYTER_TOKEN", "secret")
	t.Setenv("NOTEBOOKD_JUPYTER_BACKOFF_MAX", "2s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7000" || cfg.Jupyter.Token != "secret" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if len(cfg.CorsOrigins) != 2 || cfg.CorsOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected cors origins: %v", cfg.CorsOrigins)
	}
	if time.Duration(cfg.Jupyter.Backoff.Max) != 2*time.Second {
		t.Fatalf("unexpected backoff max: %v", time.Duration(cfg.Jupyter.Backoff.Max))
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad duration":   "[jupyter]\nconnect_timeout = \"soon\"\n",
		"unknown key":    "colour = \"blue\"\n",
		"bad scheme":     "[jupyter]\nurl = \"ftp://x\"\n",
		"no attempts":    "[jupyter]\nmax_connect_attempts = 0\n",
		"empty addr":     "addr = \"\"\n",
		"no kernel":      "[jupyter]\nkernel_name = \"\"\n",
		"low multiplier": "[jupyter.backoff]\nmultiplier = 0.5\n",
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil || !strings.Contains(err.Error(), "config load failed") {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	cfg.Jupyter.KernelID = "k-7"
	cfg.Jupyter.ConnectTimeout = Duration(90 * time.Second)

	out, err := Encode(cfg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(out), "connect_timeout = '1m30s'") && !strings.Contains(string(out), `connect_timeout = "1m30s"`) {
		t.Fatalf("duration not rendered as string:\n%s", out)
	}
	loaded, err := Load(writeConfig(t, string(out)))
	if err != nil {
		t.Fatalf("load encoded: %v", err)
	}
	if !reflect.DeepEqual(loaded, cfg) {
		t.Fatalf("round trip mismatch:\n got=%+v\nwant=%+v", loaded, cfg)
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "notebookd.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("forced write: %v", err)
	}
}
