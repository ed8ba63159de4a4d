package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"
)

// Credential sources.
const (
	SourceSecretsManager = "secretsmanager"
	SourceEnv            = "env"
	SourceKeyring        = "keyring"
)

// Retry bounds the attempts of one remote stage.
type Retry struct {
	MaxAttempts       int           `yaml:"maxAttempts"`
	InitialBackoff    time.Duration `yaml:"initialBackoff"`
	MaxBackoff        time.Duration `yaml:"maxBackoff"`
	BackoffMultiplier float64       `yaml:"backoffMultiplier"`
}

type Credentials struct {
	// Source selects the credential provider: secretsmanager (default), env or keyring
	Source string `yaml:"source"`
	// SecretName names the secret holding the tracker connection details
	SecretName string `yaml:"secretName"`
	Region     string `yaml:"region"`
	// Timeout bounds a single fetch
	Timeout time.Duration `yaml:"timeout"`
	// CacheTTL keeps fetched bundles for this long; 0 disables the cache
	CacheTTL *time.Duration `yaml:"cacheTTL"`
	Retry    Retry          `yaml:"retry"`
}

type Tracker struct {
	Timeout            time.Duration `yaml:"timeout"`
	IssueType          string        `yaml:"issueType"`
	UserAgent          string        `yaml:"userAgent"`
	CAFile             string        `yaml:"caFile"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"`
	Retry              Retry         `yaml:"retry"`
}

type Templates struct {
	Summary     string `yaml:"summary"`
	Description string `yaml:"description"`
}

type Redis struct {
	Address     string        `yaml:"address"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	KeyPrefix   string        `yaml:"keyPrefix"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

type Dedup struct {
	// Window is the time bucket used when an alarm carries no evaluation window
	Window         time.Duration `yaml:"window"`
	TTL            time.Duration `yaml:"ttl"`
	// ReservationTTL bounds an in-flight reservation; 0 derives it from the tracker retry budget
	ReservationTTL time.Duration `yaml:"reservationTTL"`
	MaxEntries     int           `yaml:"maxEntries"`
	Redis          Redis         `yaml:"redis"`
}

type RateLimit struct {
	// PerMinute is the number of issues one alarm may create per minute; <= 0 disables the limit
	PerMinute float64 `yaml:"perMinute"`
	Burst     int     `yaml:"burst"`
}

type Alarm struct {
	// MonitoredLogGroups are the log groups the escalating alarms watch
	MonitoredLogGroups []string `yaml:"monitoredLogGroups"`
}

type Logging struct {
	Level string `yaml:"level"`
	// OutcomeLogGroup receives the outcome records. Defaults to the Lambda log group.
	OutcomeLogGroup string `yaml:"outcomeLogGroup"`
}

type KafkaTLS struct {
	Enabled            bool   `yaml:"enabled"`
	CACert             string `yaml:"caCert"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

type KafkaSASL struct {
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type Kafka struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	RequiredAcks int           `yaml:"requiredAcks"`
	TLS          *KafkaTLS     `yaml:"tls"`
	SASL         *KafkaSASL    `yaml:"sasl"`
}

type Mail struct {
	Enabled            bool     `yaml:"enabled"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	Username           string   `yaml:"username"`
	Password           string   `yaml:"password"`
	InsecureSkipVerify bool     `yaml:"insecureSkipVerify"`
	SenderAddress      string   `yaml:"senderAddress"`
	SenderName         string   `yaml:"senderName"`
	Receivers          []string `yaml:"receivers"`
	RetryCount         int      `yaml:"retryCount"`
}

type CircuitBreaker struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	OpenTimeout      time.Duration `yaml:"openTimeout"`
}

type Sinks struct {
	Kafka          Kafka          `yaml:"kafka"`
	Mail           Mail           `yaml:"mail"`
	CircuitBreaker CircuitBreaker `yaml:"circuitBreaker"`
}

type Server struct {
	ListenAddress  string   `yaml:"listenAddress"`
	TrustedProxies []string `yaml:"trustedProxies"` // IPs/CIDRS to trust for X-Forwarded-For headers
	// AllowedTopicARNs lists the SNS topics whose subscriptions are confirmed
	AllowedTopicARNs []string `yaml:"allowedTopicARNs"`
}

type Telemetry struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate"`
}

type Config struct {
	Credentials Credentials `yaml:"credentials"`
	Tracker     Tracker     `yaml:"tracker"`
	Templates   Templates   `yaml:"templates"`
	Dedup       Dedup       `yaml:"dedup"`
	RateLimit   RateLimit   `yaml:"rateLimit"`
	Alarm       Alarm       `yaml:"alarm"`
	Logging     Logging     `yaml:"logging"`
	Sinks       Sinks       `yaml:"sinks"`
	Server      Server      `yaml:"server"`
	Telemetry   Telemetry   `yaml:"telemetry"`
}

// Load loads the escalator configuration from a file path and applies the
// defaults. If configPath is empty, defaults to "./config.yaml". A missing
// file yields an error wrapping os.ErrNotExist.
func Load(configPath ...string) (Config, error) {
	path := "./config.yaml"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open escalator config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}
	config.Defaults()
	return config, nil
}

// LoadOptional behaves like Load but returns the defaults when the file does
// not exist.
func LoadOptional(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Config{}
		cfg.Defaults()
		return cfg, nil
	}
	return cfg, err
}

// Defaults fills every unset field with its default.
func (c *Config) Defaults() {
	if c.Credentials.Source == "" {
		c.Credentials.Source = SourceSecretsManager
	}
	if c.Credentials.Timeout <= 0 {
		c.Credentials.Timeout = 3 * time.Second
	}
	if c.Credentials.CacheTTL == nil {
		ttl := 5 * time.Minute
		c.Credentials.CacheTTL = &ttl
	}
	c.Credentials.Retry.defaults()

	if c.Tracker.Timeout <= 0 {
		c.Tracker.Timeout = 5 * time.Second
	}
	if c.Tracker.IssueType == "" {
		c.Tracker.IssueType = "Task"
	}
	c.Tracker.Retry.defaults()

	if c.Dedup.Window <= 0 {
		c.Dedup.Window = 5 * time.Minute
	}
	if c.Dedup.TTL <= 0 {
		c.Dedup.TTL = 24 * time.Hour
	}
	if c.Dedup.MaxEntries <= 0 {
		c.Dedup.MaxEntries = 10000
	}
	if c.Dedup.Redis.DialTimeout <= 0 {
		c.Dedup.Redis.DialTimeout = 2 * time.Second
	}
	if c.RateLimit.PerMinute > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 1
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Sinks.CircuitBreaker.FailureThreshold <= 0 {
		c.Sinks.CircuitBreaker.FailureThreshold = 5
	}
	if c.Sinks.CircuitBreaker.OpenTimeout <= 0 {
		c.Sinks.CircuitBreaker.OpenTimeout = 30 * time.Second
	}
	if c.Sinks.Mail.Port == 0 {
		c.Sinks.Mail.Port = 587
	}
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = "otlp"
	}
	if c.Telemetry.SamplingRate == 0 {
		c.Telemetry.SamplingRate = 1.0
	}
}

func (r *Retry) defaults() {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = 200 * time.Millisecond
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = 2 * time.Second
	}
	if r.BackoffMultiplier < 1 {
		r.BackoffMultiplier = 2.0
	}
}

// ApplyEnv overrides the configuration from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := firstNonEmpty(getenv("ESCALATOR_SECRET_NAME"), getenv("JIRA_SECRET_NAME")); v != "" {
		c.Credentials.SecretName = v
	}
	if v := getenv("ESCALATOR_CREDENTIALS_SOURCE"); v != "" {
		c.Credentials.Source = strings.ToLower(v)
	}
	if v := firstNonEmpty(getenv("AWS_REGION"), getenv("AWS_DEFAULT_REGION")); v != "" && c.Credentials.Region == "" {
		c.Credentials.Region = v
	}
	if v := getenv("AWS_LAMBDA_LOG_GROUP_NAME"); v != "" && c.Logging.OutcomeLogGroup == "" {
		c.Logging.OutcomeLogGroup = v
	}
	if v := getenv("ESCALATOR_MONITORED_LOG_GROUPS"); v != "" {
		c.Alarm.MonitoredLogGroups = splitList(v)
	}
	if v := getenv("ESCALATOR_REDIS_ADDRESS"); v != "" {
		c.Dedup.Redis.Address = v
	}
	if v := getenv("ESCALATOR_RATE_LIMIT_PER_MINUTE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimit.PerMinute = f
			if f > 0 && c.RateLimit.Burst <= 0 {
				c.RateLimit.Burst = 1
			}
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var err error

	switch c.Credentials.Source {
	case SourceSecretsManager, SourceKeyring:
		if c.Credentials.SecretName == "" {
			err = multierr.Append(err, fmt.Errorf("credentials.secretName is required for source %q", c.Credentials.Source))
		}
	case SourceEnv:
	default:
		err = multierr.Append(err, fmt.Errorf("credentials.source %q is not one of secretsmanager, env, keyring", c.Credentials.Source))
	}

	if own := c.Logging.OutcomeLogGroup; own != "" {
		for _, group := range c.Alarm.MonitoredLogGroups {
			if group == own {
				err = multierr.Append(err, fmt.Errorf("logging.outcomeLogGroup %q is monitored by the escalating alarms; outcome records would re-trigger them", own))
			}
		}
	}

	if c.RateLimit.PerMinute < 0 {
		err = multierr.Append(err, errors.New("rateLimit.perMinute must not be negative"))
	}
	if k := c.Sinks.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			err = multierr.Append(err, errors.New("sinks.kafka.brokers is required when the kafka sink is enabled"))
		}
		if k.Topic == "" {
			err = multierr.Append(err, errors.New("sinks.kafka.topic is required when the kafka sink is enabled"))
		}
	}
	if m := c.Sinks.Mail; m.Enabled {
		if m.Host == "" {
			err = multierr.Append(err, errors.New("sinks.mail.host is required when the mail sink is enabled"))
		}
		if len(m.Receivers) == 0 {
			err = multierr.Append(err, errors.New("sinks.mail.receivers is required when the mail sink is enabled"))
		}
	}
	if c.Telemetry.Enabled {
		switch c.Telemetry.Exporter {
		case "otlp", "stdout", "none":
		default:
			err = multierr.Append(err, fmt.Errorf("telemetry.exporter %q is not one of otlp, stdout, none", c.Telemetry.Exporter))
		}
	}
	return err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
