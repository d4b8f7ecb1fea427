// Package config provides YAML configuration parsing for the exporter.
//
// Global settings act as defaults; each host entry may override any of
// them. A host entry is either a bare FQDN string or a mapping:
//
//	port: 8000
//	interval: 10s
//	timeout: 10s
//	username: admin
//	password: ${BMC_PASSWORD}
//	verify_ssl: false
//
//	hosts:
//	  - bmc1.example.com
//	  - fqdn: bmc2.example.com
//	    username: monitor
//	    password: ${BMC2_PASSWORD:-changeme}
//	    chassis: ["1", "2"]
//	    group: rack42
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// minPollInterval is the minimum allowed polling interval. This prevents
// accidental DoS of management controllers with overly aggressive polling.
const minPollInterval = 1 * time.Second

// Config is the root configuration structure.
//
// It maps directly to the YAML configuration file. Use [Load] or [Parse]
// to create one.
type Config struct {
	// Port is the HTTP port for the metrics endpoint. Defaults to 8000.
	Port int `yaml:"port"`

	// Interval is the time between poll cycles. Defaults to 10s.
	Interval Duration `yaml:"interval"`

	// Timeout bounds one host's entire poll, retries included.
	// Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// Username and Password are the default credentials for hosts that
	// do not carry their own. Values support ${VAR} and ${VAR:-default}
	// environment substitution.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// VerifySSL controls TLS certificate verification. Defaults to true;
	// overridable per host.
	VerifySSL *bool `yaml:"verify_ssl"`

	// Chassis is the default chassis ID filter. Defaults to ["1"].
	Chassis []string `yaml:"chassis"`

	// Group is the default group label. Defaults to "none".
	Group string `yaml:"group"`

	// MaxRetries is the total number of fetch attempts per poll.
	// Defaults to 3.
	MaxRetries int `yaml:"max_retries"`

	// Backoff is the base inter-attempt delay; attempt n waits
	// n × backoff. Defaults to 2s.
	Backoff Duration `yaml:"backoff"`

	// FailureThreshold is the number of consecutive failed polls that
	// opens a host's breaker. Defaults to 3.
	FailureThreshold int `yaml:"failure_threshold"`

	// ProbeCycles is the probe cadence while a breaker is open: one
	// probe poll every Nth cycle. Defaults to 12, which with the default
	// 10s interval probes a dead host every two minutes.
	ProbeCycles int `yaml:"probe_cycles"`

	// ShowDeprecated enables log warnings for hosts still exposing the
	// pre-2020 Power resource.
	ShowDeprecated bool `yaml:"show_deprecated"`

	// Hosts lists the controllers to poll.
	Hosts []HostEntry `yaml:"hosts"`
}

// HostEntry is one controller in the hosts list. In YAML it is either a
// bare FQDN string or a mapping overriding global defaults.
type HostEntry struct {
	FQDN      string   `yaml:"fqdn"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	VerifySSL *bool    `yaml:"verify_ssl"`
	Chassis   []string `yaml:"chassis"`
	Group     string   `yaml:"group"`
}

// UnmarshalYAML implements yaml.Unmarshaler for HostEntry, accepting
// either a scalar FQDN or a mapping.
func (h *HostEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&h.FQDN)
	}

	if node.Kind == yaml.MappingNode {
		// temporary struct to avoid infinite recursion
		var raw struct {
			FQDN      string   `yaml:"fqdn"`
			Username  string   `yaml:"username"`
			Password  string   `yaml:"password"`
			VerifySSL *bool    `yaml:"verify_ssl"`
			Chassis   []string `yaml:"chassis"`
			Group     string   `yaml:"group"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		h.FQDN = raw.FQDN
		h.Username = raw.Username
		h.Password = raw.Password
		h.VerifySSL = raw.VerifySSL
		h.Chassis = raw.Chassis
		h.Group = raw.Group
		return nil
	}

	return fmt.Errorf("host entry must be a string or object, got %v", node.Kind)
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with
// environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in credential fields, defaults are
// applied, and the result is validated.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.Interval == 0 {
		cfg.Interval = Duration(10 * time.Second)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = Duration(10 * time.Second)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = Duration(2 * time.Second)
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.ProbeCycles == 0 {
		cfg.ProbeCycles = 12
	}
	if len(cfg.Chassis) == 0 {
		cfg.Chassis = []string{"1"}
	}
	if cfg.Group == "" {
		cfg.Group = "none"
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Interval.Duration() < minPollInterval {
		return fmt.Errorf("interval must be at least %s, got %s", minPollInterval, c.Interval.Duration())
	}
	if c.Timeout.Duration() < time.Second {
		return fmt.Errorf("timeout must be at least 1s, got %s", c.Timeout.Duration())
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.Backoff.Duration() < 0 {
		return fmt.Errorf("backoff must not be negative, got %s", c.Backoff.Duration())
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.ProbeCycles < 1 {
		return fmt.Errorf("probe_cycles must be at least 1, got %d", c.ProbeCycles)
	}

	var err error
	if c.Username, err = expandEnvVars(c.Username); err != nil {
		return fmt.Errorf("username: %w", err)
	}
	if c.Password, err = expandEnvVars(c.Password); err != nil {
		return fmt.Errorf("password: %w", err)
	}

	if len(c.Hosts) == 0 {
		return errors.New("at least one host must be defined")
	}

	for i := range c.Hosts {
		h := &c.Hosts[i]

		if h.FQDN == "" {
			return fmt.Errorf("hosts[%d]: fqdn is required", i)
		}
		if h.Username, err = expandEnvVars(h.Username); err != nil {
			return fmt.Errorf("hosts[%d] (%s): username: %w", i, h.FQDN, err)
		}
		if h.Password, err = expandEnvVars(h.Password); err != nil {
			return fmt.Errorf("hosts[%d] (%s): password: %w", i, h.FQDN, err)
		}
		if h.Username == "" && c.Username == "" {
			return fmt.Errorf("hosts[%d] (%s): no username configured, set one globally or per host", i, h.FQDN)
		}
		if h.Password == "" && c.Password == "" {
			return fmt.Errorf("hosts[%d] (%s): no password configured, set one globally or per host", i, h.FQDN)
		}
	}

	return nil
}
