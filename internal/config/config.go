package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	gotoml "github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration written as a Go duration string ("5s") in TOML
// and environment variables.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the notebookd service configuration.
type Config struct {
	Name          string        `toml:"name" env:"NOTEBOOKD_NAME"`
	Addr          string        `toml:"addr" env:"NOTEBOOKD_ADDR"`
	CorsOrigins   []string      `toml:"cors_origins" env:"NOTEBOOKD_CORS_ORIGINS" envSeparator:","`
	ConnectOnBoot bool          `toml:"connect_on_boot" env:"NOTEBOOKD_CONNECT_ON_BOOT"`
	// APIToken guards the cell and kernel routes when set.
	APIToken string        `toml:"api_token" env:"NOTEBOOKD_API_TOKEN"`
	Jupyter  JupyterConfig `toml:"jupyter"`
}

// JupyterConfig describes the Jupyter server hosting the kernel.
type JupyterConfig struct {
	URL                string   `toml:"url" env:"NOTEBOOKD_JUPYTER_URL"`
	Token              string   `toml:"token" env:"NOTEBOOKD_JUPYTER_TOKEN"`
	KernelName         string   `toml:"kernel_name" env:"NOTEBOOKD_JUPYTER_KERNEL_NAME"`
	KernelID           string   `toml:"kernel_id" env:"NOTEBOOKD_JUPYTER_KERNEL_ID"`
	CAFile             string   `toml:"ca_file" env:"NOTEBOOKD_JUPYTER_CA_FILE"`
	ConnectTimeout     Duration `toml:"connect_timeout" env:"NOTEBOOKD_JUPYTER_CONNECT_TIMEOUT"`
	MaxConnectAttempts int      `toml:"max_connect_attempts" env:"NOTEBOOKD_JUPYTER_MAX_CONNECT_ATTEMPTS"`
	Backoff            Backoff  `toml:"backoff"`
}

type Backoff struct {
	Initial    Duration `toml:"initial" env:"NOTEBOOKD_JUPYTER_BACKOFF_INITIAL"`
	Multiplier float64  `toml:"multiplier" env:"NOTEBOOKD_JUPYTER_BACKOFF_MULTIPLIER"`
	Max        Duration `toml:"max" env:"NOTEBOOKD_JUPYTER_BACKOFF_MAX"`
	Jitter     bool     `toml:"jitter" env:"NOTEBOOKD_JUPYTER_BACKOFF_JITTER"`
}

func Default() Config {
	return Config{
		Name:          "notebookd",
		Addr:          ":9000",
		CorsOrigins:   []string{"http://localhost:3000"},
		ConnectOnBoot: true,
		Jupyter: JupyterConfig{
			URL:                "http://127.0.0.1:8888",
			KernelName:         "python3",
			ConnectTimeout:     Duration(5 * time.Second),
			MaxConnectAttempts: 3,
			Backoff: Backoff{
				Initial:    Duration(250 * time.Millisecond),
				Multiplier: 2.0,
				Max:        Duration(5 * time.Second),
				Jitter:     true,
			},
		},
	}
}

// Load reads path over the defaults, then applies NOTEBOOKD_* environment
// overrides and validates the result. An empty path uses defaults and environment
// only.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := loadToml(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config env parse failed: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	meta, err := toml.DecodeFile(path, out)
	if err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// Encode renders cfg as TOML.
func Encode(cfg Config) ([]byte, error) {
	out, err := gotoml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config encode failed: %w", err)
	}
	return out, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("config missing name")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("config missing addr")
	}
	if err := ValidateJupyter(cfg.Jupyter); err != nil {
		return fmt.Errorf("jupyter invalid: %w", err)
	}
	return nil
}

func ValidateJupyter(cfg JupyterConfig) error {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q missing host", raw)
	}
	if strings.TrimSpace(cfg.KernelName) == "" && strings.TrimSpace(cfg.KernelID) == "" {
		return fmt.Errorf("kernel_name or kernel_id is required")
	}
	if cfg.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout must not be negative")
	}
	if cfg.MaxConnectAttempts < 1 {
		return fmt.Errorf("max_connect_attempts must be at least 1")
	}
	if cfg.Backoff.Multiplier != 0 && cfg.Backoff.Multiplier < 1 {
		return fmt.Errorf("backoff.multiplier must be >= 1")
	}
	return nil
}
