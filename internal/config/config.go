// Package config loads the service-level YAML configuration shared by the
// polis-dlpd and polis-ottd binaries. It does not parse the pattern/DLP
// directive file — see internal/patternconfig for that line-oriented format.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type StateStoreConfig struct {
	Host         string    `yaml:"host"`
	Port         int       `yaml:"port"`
	TLS          TLSConfig `yaml:"tls"`
	ACLUser      string    `yaml:"acl_user"`
	PasswordFile string    `yaml:"password_file"`
}

func (c StateStoreConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ApprovalConfig struct {
	TimeGateSecs int `yaml:"time_gate_secs"`
	OTTTTLSecs   int `yaml:"ott_ttl_secs"`
}

// PollerConfig bounds express counts of requests, not durations: the
// security-level poller is amortized over a request counter (spec §4.6),
// never over wall-clock time.
type PollerConfig struct {
	PollMin int64 `yaml:"poll_min"`
	PollMax int64 `yaml:"poll_max"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // none|stdout|otlp
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type AuditSpoolConfig struct {
	Path            string        `yaml:"path"`
	RelayInterval   time.Duration `yaml:"relay_interval"`
	RelayBatchLimit int           `yaml:"relay_batch_limit"`
}

type Config struct {
	Listen        string           `yaml:"listen"`
	ServiceName   string           `yaml:"service_name"`
	StateStore    StateStoreConfig `yaml:"state_store"`
	Approval      ApprovalConfig   `yaml:"approval"`
	Poller        PollerConfig     `yaml:"poller"`
	PatternConfig string           `yaml:"pattern_config"`
	Telemetry     TelemetryConfig  `yaml:"telemetry"`
	Logging       LoggingConfig    `yaml:"logging"`
	AuditSpool    AuditSpoolConfig `yaml:"audit_spool"`
}

func defaults() *Config {
	return &Config{
		Listen: ":1344",
		StateStore: StateStoreConfig{
			Host:    "valkey",
			Port:    6379,
			ACLUser: "polis",
		},
		Approval: ApprovalConfig{
			TimeGateSecs: 15,
			OTTTTLSecs:   300,
		},
		Poller: PollerConfig{
			PollMin: 10,
			PollMax: 320,
		},
		PatternConfig: "/etc/c-icap/polis-patterns.conf",
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Exporter:    "none",
			ServiceName: "polis",
		},
		Logging: LoggingConfig{Level: "info"},
		AuditSpool: AuditSpoolConfig{
			Path:            "/var/lib/polis/audit-spool.db",
			RelayInterval:   30 * time.Second,
			RelayBatchLimit: 50,
		},
	}
}

// Load reads path and layers environment overrides on top. A missing file is
// not an error: the built-in defaults are used, matching the teacher's
// fall-back-to-defaults convention.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POLIS_STATE_HOST"); v != "" {
		cfg.StateStore.Host = v
	}
	if v := os.Getenv("POLIS_STATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.StateStore.Port = port
		}
	}
	if v := os.Getenv("POLIS_APPROVAL_TIME_GATE_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Approval.TimeGateSecs = secs
		}
	}
	if v := os.Getenv("POLIS_STATE_PASSWORD_FILE"); v != "" {
		cfg.StateStore.PasswordFile = v
	}
	if v := os.Getenv("POLIS_STATE_ACL_USER"); v != "" {
		cfg.StateStore.ACLUser = v
	}
	if v := os.Getenv("POLIS_PATTERN_CONFIG"); v != "" {
		cfg.PatternConfig = v
	}
	if v := os.Getenv("POLIS_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("POLIS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func validate(cfg *Config) error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if cfg.StateStore.Host == "" {
		return fmt.Errorf("state_store.host must not be empty")
	}
	if cfg.StateStore.Port <= 0 {
		return fmt.Errorf("state_store.port must be positive")
	}
	if cfg.Approval.TimeGateSecs <= 0 {
		return fmt.Errorf("approval.time_gate_secs must be positive")
	}
	if cfg.Approval.OTTTTLSecs <= 0 {
		return fmt.Errorf("approval.ott_ttl_secs must be positive")
	}
	if cfg.Poller.PollMin <= 0 || cfg.Poller.PollMax < cfg.Poller.PollMin {
		return fmt.Errorf("poller.poll_min/poll_max misconfigured")
	}
	if cfg.PatternConfig == "" {
		return fmt.Errorf("pattern_config must not be empty")
	}
	return nil
}
