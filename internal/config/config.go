// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the filter.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Listen  ListenConfig  `yaml:"listen"`
	Metrics MetricsConfig `yaml:"metrics"`
	Audit   AuditConfig   `yaml:"audit"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ListenConfig holds the socket transport configuration. An empty Address
// means the filter talks to the host over stdin and stdout.
type ListenConfig struct {
	Network  string `yaml:"network"`
	Address  string `yaml:"address"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// AuditConfig selects where commit verdicts are recorded.
type AuditConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// NotifyConfig selects the backend used for rejection alerts.
type NotifyConfig struct {
	Provider   string      `yaml:"provider"`
	Recipients []string    `yaml:"recipients"`
	SES        SESConfig   `yaml:"ses"`
	Graph      GraphConfig `yaml:"graph"`
	Slack      SlackConfig `yaml:"slack"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// SlackConfig holds Slack configuration.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// Validate reports settings that can not work together.
func (c *Config) Validate() error {
	switch c.Listen.Network {
	case "tcp", "unix":
	default:
		return fmt.Errorf("unsupported listen network %q", c.Listen.Network)
	}
	if (c.Listen.CertFile == "") != (c.Listen.KeyFile == "") {
		return fmt.Errorf("listen.cert_file and listen.key_file must be set together")
	}

	switch c.Audit.Driver {
	case "":
	case "file", "sqlite":
		if c.Audit.Path == "" {
			return fmt.Errorf("audit driver %q requires audit.path", c.Audit.Driver)
		}
	case "mysql":
		if c.Audit.DSN == "" {
			return fmt.Errorf("audit driver %q requires audit.dsn", c.Audit.Driver)
		}
	default:
		return fmt.Errorf("unsupported audit driver %q", c.Audit.Driver)
	}

	switch c.Notify.Provider {
	case "":
		return nil
	case "ses":
		if c.Notify.SES.Region == "" || c.Notify.SES.Sender == "" {
			return fmt.Errorf("ses notifier requires region and sender")
		}
	case "graph":
		if !c.GraphConfigured() {
			return fmt.Errorf("graph notifier requires tenant_id, client_id, client_secret and sender")
		}
	case "slack":
		if c.Notify.Slack.Token == "" || c.Notify.Slack.Channel == "" {
			return fmt.Errorf("slack notifier requires token and channel")
		}
		return nil
	default:
		return fmt.Errorf("unsupported notify provider %q", c.Notify.Provider)
	}

	if len(c.Notify.Recipients) == 0 {
		return fmt.Errorf("notify provider %q requires recipients", c.Notify.Provider)
	}
	return nil
}

// StdioMode returns true if no listen address is configured.
func (c *Config) StdioMode() bool {
	return c.Listen.Address == ""
}

// TLSEnabled returns true if both certificate and key files are set.
func (c *Config) TLSEnabled() bool {
	return c.Listen.CertFile != "" && c.Listen.KeyFile != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	g := c.Notify.Graph
	return g.TenantID != "" &&
		g.ClientID != "" &&
		g.ClientSecret != "" &&
		g.Sender != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Logging.Level = "info"
	c.Logging.Format = "text"
	c.Listen.Network = "tcp"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}

	if v := os.Getenv("LISTEN_NETWORK"); v != "" {
		c.Listen.Network = strings.ToLower(v)
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Listen.Address = v
	}
	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.Listen.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.Listen.KeyFile = v
	}

	if v := os.Getenv("METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}

	if v := os.Getenv("AUDIT_DRIVER"); v != "" {
		c.Audit.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("AUDIT_PATH"); v != "" {
		c.Audit.Path = v
	}
	if v := os.Getenv("AUDIT_DSN"); v != "" {
		c.Audit.DSN = v
	}

	if v := os.Getenv("NOTIFY_PROVIDER"); v != "" {
		c.Notify.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("NOTIFY_RECIPIENTS"); v != "" {
		c.Notify.Recipients = splitList(v)
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.Notify.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.Notify.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.Notify.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.Notify.SES.Sender = v
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Notify.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Notify.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Notify.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.Notify.Graph.Sender = v
	}

	if v := os.Getenv("SLACK_TOKEN"); v != "" {
		c.Notify.Slack.Token = v
	}
	if v := os.Getenv("SLACK_CHANNEL"); v != "" {
		c.Notify.Slack.Channel = v
	}
}

// splitList splits a comma separated list, dropping empty items.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
