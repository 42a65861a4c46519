// Package config loads the service configuration from two sources: ambient
// settings (connections, tuning knobs) from environment variables, and the
// per-network contract addresses and endpoints from a TOML file. Both are
// validated at load time and the resulting values are immutable; nothing in
// the pipeline reads configuration globally after construction.
package config

import (
	"fmt"
	"time"

	"github.com/Illiquidly/marketwatch/internal/pkg/validator"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the ambient service settings read from the environment.
type Config struct {
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisUsername string `envconfig:"REDIS_USERNAME"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB"`

	PostgresDSN string `envconfig:"POSTGRES_DSN" validate:"required"`

	NetworksFile   string `envconfig:"NETWORKS_FILE" default:"networks.toml"`
	TriggerChannel string `envconfig:"TRIGGER_CHANNEL" default:"marketwatch:triggers"`

	GatewayRequestsPerSecond float64 `envconfig:"GATEWAY_REQUESTS_PER_SECOND" default:"9"`
	GatewayMaxInFlight       int64   `envconfig:"GATEWAY_MAX_IN_FLIGHT" default:"4"`

	PageLimit    uint64        `envconfig:"PAGE_LIMIT" default:"50"`
	SettleDelay  time.Duration `envconfig:"SETTLE_DELAY" default:"2s"`
	RunDeadline  time.Duration `envconfig:"RUN_DEADLINE" default:"5m"`
	TickInterval time.Duration `envconfig:"TICK_INTERVAL" default:"15s"`

	TelemetryEnabled bool `envconfig:"TELEMETRY_ENABLED" default:"false"`
}

// Network describes one chain the service indexes: its endpoints and the
// per-domain contract addresses deployed there.
type Network struct {
	LCD          string            `toml:"lcd" validate:"required"`
	RPCWebsocket string            `toml:"rpc_websocket"`
	Contracts    map[string]string `toml:"contracts" validate:"required"`
}

// Networks is the parsed networks TOML file, keyed by network name.
type Networks struct {
	Networks map[string]Network `toml:"networks" validate:"required,dive"`
}

// Load reads and validates the ambient configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := validator.Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadNetworks reads and validates the networks TOML file at the given path.
func LoadNetworks(path string) (Networks, error) {
	var networks Networks
	if _, err := toml.DecodeFile(path, &networks); err != nil {
		return Networks{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := validator.Validate(networks); err != nil {
		return Networks{}, err
	}

	for name, network := range networks.Networks {
		if len(network.Contracts) == 0 {
			return Networks{}, fmt.Errorf("config: network %q declares no contracts", name)
		}
	}
	return networks, nil
}

// Names returns the configured network names.
func (n Networks) Names() []string {
	names := make([]string, 0, len(n.Networks))
	for name := range n.Networks {
		names = append(names, name)
	}
	return names
}

// LCDEndpoints returns the network-to-LCD-base-URL table.
func (n Networks) LCDEndpoints() map[string]string {
	endpoints := make(map[string]string, len(n.Networks))
	for name, network := range n.Networks {
		endpoints[name] = network.LCD
	}
	return endpoints
}

// DomainContracts returns the network-to-contract table for one domain,
// covering only the networks where the domain is deployed.
func (n Networks) DomainContracts(domain string) map[string]string {
	contracts := make(map[string]string)
	for name, network := range n.Networks {
		if addr, ok := network.Contracts[domain]; ok {
			contracts[name] = addr
		}
	}
	return contracts
}
