package e2e

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// SERVER_ADDR is the host:port of a running ghost-chat server
	ServerAddr string `envconfig:"SERVER_ADDR" default:"localhost:8000"`
	// E2E_ENABLED lets `go test ./...` skip the suite when no server is up
	Enabled bool `envconfig:"E2E_ENABLED" default:"false"`
	// E2E_DEBUG_JSON dumps every frame sent and received
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool          `envconfig:"E2E_COLOURS" default:"true"`
	Timeout time.Duration `envconfig:"E2E_TIMEOUT" default:"10s"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
