package main

import (
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// bootConfig holds the static, process-lifetime settings main reads once at
// startup: connection strings and the snapshot directory. Everything that
// can change while the process is running lives in runtimeconfig instead.
type bootConfig struct {
	Addr         string `env:"FLUX_HTTP_ADDR,default=:8080"`
	NamespaceDSN string `env:"FLUX_NAMESPACE_DB"`
	NATSURL      string `env:"FLUX_NATS_URL"`
	NATSStream   string `env:"FLUX_NATS_STREAM,default=FLUX_EVENTS"`
	AdminToken   string `env:"FLUX_ADMIN_TOKEN"`
	SnapshotDir  string `env:"FLUX_SNAPSHOT_DIR,default=/var/lib/flux/snapshots"`
	AuthEnabled  bool   `env:"FLUX_AUTH_ENABLED,default=false"`
}

// loadBootConfig reads .env (if present) then decodes the FLUX_* settings.
// envdecode errors when no tagged field is set in the environment; that is
// not a failure here, local runs are expected to use only the defaults.
func loadBootConfig() (*bootConfig, error) {
	_ = godotenv.Load()

	cfg := &bootConfig{}
	if err := envdecode.Decode(cfg); err != nil && !strings.Contains(err.Error(), "none of the target fields were set") {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}
