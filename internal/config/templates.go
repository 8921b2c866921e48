package config

import (
	"fmt"
	"os"
)

func Template() string {
	return serviceTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(serviceTemplate), 0o600)
}

const serviceTemplate = `name = "notebookd"
addr = ":9000"
cors_origins = ["http://localhost:3000"]
connect_on_boot = true
# api_token guards /cells and /kernel when set.
api_token = ""

[jupyter]
url = "http://127.0.0.1:8888"
token = ""
kernel_name = "python3"
# kernel_id attaches to a running kernel instead of starting one.
kernel_id = ""
# ca_file trusts a private CA for https/wss Jupyter servers.
ca_file = ""
connect_timeout = "5s"
max_connect_attempts = 3

[jupyter.backoff]
initial = "250ms"
multiplier = 2.0
max = "5s"
jitter = true
`
