package connector

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jsonrpcsuite/jrs/pkg/metrics"
	toml "github.com/pelletier/go-toml/v2"
)

// DefaultAlias is the self-identifier reported by _ping when none is
// configured.
const DefaultAlias = "anonymous"

// ClientConfig describes one outbound peer. When OriginRemoteAlias is
// set, the peer's self-reported alias must equal it.
type ClientConfig struct {
	Connect           string `toml:"connect"`
	OriginRemoteAlias string `toml:"origin_remote_alias"`
}

// Config is the connector's static configuration. Zero values are
// filled with the documented defaults by FromEnv / LoadManifest.
type Config struct {
	Host   string `toml:"host"`   // JRS_CONNECTOR_HOST
	Port   int    `toml:"port"`   // JRS_CONNECTOR_PORT
	Socket string `toml:"socket"` // JRS_CONNECTOR_SOCKET; wins over host:port
	Alias  string `toml:"alias"`  // JRS_CONNECTOR_ALIAS_NAME

	Path          string `toml:"path"`            // JRS_SERVER_CONNECTOR_PATH
	BodySizeLimit string `toml:"body_size_limit"` // JRS_SERVER_BODY_SIZE_LIMIT, e.g. "20mb"
	StaticDir     string `toml:"static_dir"`      // JRS_SERVER_STATIC_DIR

	ExternalCallsMetrics bool `toml:"external_calls_metrics"` // JRS_EXTERNAL_CALLS_METRICS

	// TimeUnit selects the unit latency histograms are observed in.
	TimeUnit metrics.TimeUnit `toml:"-"`

	Clients map[string]ClientConfig `toml:"-"`
}

func defaults() Config {
	return Config{
		Host:          "0.0.0.0",
		Port:          3000,
		Alias:         DefaultAlias,
		Path:          "/",
		BodySizeLimit: "20mb",
	}
}

// FromEnv builds a config from the JRS_* environment with the documented
// defaults.
func FromEnv() Config {
	cfg := defaults()
	applyEnv(&cfg)
	return cfg
}

// applyEnv overlays set environment variables; env always wins.
func applyEnv(cfg *Config) {
	if v := os.Getenv("JRS_CONNECTOR_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("JRS_CONNECTOR_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("JRS_CONNECTOR_SOCKET"); v != "" {
		cfg.Socket = v
	}
	if v := os.Getenv("JRS_CONNECTOR_ALIAS_NAME"); v != "" {
		cfg.Alias = v
	}
	if v := os.Getenv("JRS_SERVER_CONNECTOR_PATH"); v != "" {
		cfg.Path = v
	}
	if v := os.Getenv("JRS_SERVER_BODY_SIZE_LIMIT"); v != "" {
		cfg.BodySizeLimit = v
	}
	if v := os.Getenv("JRS_SERVER_STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v, err := strconv.ParseBool(os.Getenv("JRS_EXTERNAL_CALLS_METRICS")); err == nil {
		cfg.ExternalCallsMetrics = v
	}
}

type manifest struct {
	Connector Config                  `toml:"connector"`
	Client    map[string]ClientConfig `toml:"client"`
}

// LoadManifest reads a TOML manifest declaring connector settings and
// outbound clients, then overlays the environment (env wins).
func LoadManifest(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	man := manifest{Connector: defaults()}
	if err := toml.Unmarshal(b, &man); err != nil {
		return Config{}, fmt.Errorf("manifest %s: %w", path, err)
	}
	cfg := man.Connector
	cfg.Clients = man.Client
	for alias, cc := range cfg.Clients {
		if strings.TrimSpace(cc.Connect) == "" {
			return Config{}, fmt.Errorf("manifest %s: client %q: connect is required", path, alias)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// bodySizeBytes parses limits like "20mb", "512kb" or plain byte counts.
func bodySizeBytes(limit string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(limit))
	if s == "" {
		return 0, fmt.Errorf("empty body size limit")
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "gb"):
		mult, s = 1<<30, strings.TrimSuffix(s, "gb")
	case strings.HasSuffix(s, "mb"):
		mult, s = 1<<20, strings.TrimSuffix(s, "mb")
	case strings.HasSuffix(s, "kb"):
		mult, s = 1<<10, strings.TrimSuffix(s, "kb")
	case strings.HasSuffix(s, "b"):
		s = strings.TrimSuffix(s, "b")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid body size limit %q", limit)
	}
	return n * mult, nil
}
