package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for clusterwatch.
type Config struct {
	// Upstream tracker API
	UpstreamURL      string
	UpstreamUsername string
	UpstreamPassword string
	UpstreamTimeout  time.Duration
	UpstreamInsecure bool

	// Polling
	QueueInterval    time.Duration // Default refresh rate of the queue view
	TrackingInterval time.Duration // Default refresh rate of the tracking view
	TrackingRefresh  bool          // Ask the upstream to recheck jobs on every tracking poll
	AutoPoll         bool          // Start both loops at boot

	// Web UI
	WebPort string

	// Logging
	LogLevel string // DEBUG, INFO, WARN, ERROR
	MaxLogs  int    // Entries kept in the UI activity log
}

// fileConfig is the YAML layout of the optional config file. Durations are
// whole seconds, like their environment counterparts.
type fileConfig struct {
	Upstream struct {
		URL            *string `yaml:"url"`
		Username       *string `yaml:"username"`
		Password       *string `yaml:"password"`
		TimeoutSeconds *int    `yaml:"timeout_seconds"`
		Insecure       *bool   `yaml:"insecure"`
	} `yaml:"upstream"`
	Poll struct {
		QueueSeconds    *int  `yaml:"queue_seconds"`
		TrackingSeconds *int  `yaml:"tracking_seconds"`
		TrackingRefresh *bool `yaml:"tracking_refresh"`
		Auto            *bool `yaml:"auto"`
	} `yaml:"poll"`
	Web struct {
		Port *string `yaml:"port"`
	} `yaml:"web"`
	Log struct {
		Level *string `yaml:"level"`
		Max   *int    `yaml:"max"`
	} `yaml:"log"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		UpstreamTimeout:  30 * time.Second,
		QueueInterval:    10 * time.Second,
		TrackingInterval: 30 * time.Second,
		TrackingRefresh:  true,
		WebPort:          "8080",
		LogLevel:         "INFO",
		MaxLogs:          500,
	}
}

// flagValues binds the command line flags.
type flagValues struct {
	configPath       string
	upstreamURL      string
	upstreamUsername string
	upstreamInsecure bool
	queueSeconds     int
	trackingSeconds  int
	autoPoll         bool
	webPort          string
	logLevel         string
}

func registerFlags(fs *pflag.FlagSet, v *flagValues) {
	fs.StringVar(&v.configPath, "config", "", "path to a YAML config file (env: CLUSTERWATCH_CONFIG)")
	fs.StringVar(&v.upstreamURL, "upstream-url", "", "base URL of the tracker API (env: UPSTREAM_URL)")
	fs.StringVar(&v.upstreamUsername, "upstream-username", "", "basic auth user for the tracker API (env: UPSTREAM_USERNAME)")
	fs.BoolVar(&v.upstreamInsecure, "upstream-insecure", false, "skip TLS verification of the tracker API")
	fs.IntVar(&v.queueSeconds, "queue-interval", 0, "queue view refresh rate in seconds")
	fs.IntVar(&v.trackingSeconds, "tracking-interval", 0, "tracking view refresh rate in seconds")
	fs.BoolVar(&v.autoPoll, "auto-poll", false, "start polling both views at boot")
	fs.StringVar(&v.webPort, "web-port", "", "port of the web UI (env: WEB_PORT)")
	fs.StringVar(&v.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR (env: LOG_LEVEL)")
}

// Load builds the configuration from, in increasing precedence, the
// defaults, the optional YAML file, environment variables and the command
// line flags in args. The result is validated.
func Load(args []string) (*Config, error) {
	var flags flagValues
	fs := pflag.NewFlagSet("clusterwatch", pflag.ContinueOnError)
	registerFlags(fs, &flags)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg := Defaults()

	path := flags.configPath
	if path == "" {
		path = os.Getenv("CLUSTERWATCH_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyFlags(fs, &flags)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	setString(&c.UpstreamURL, f.Upstream.URL)
	setString(&c.UpstreamUsername, f.Upstream.Username)
	setString(&c.UpstreamPassword, f.Upstream.Password)
	setSeconds(&c.UpstreamTimeout, f.Upstream.TimeoutSeconds)
	setBool(&c.UpstreamInsecure, f.Upstream.Insecure)
	setSeconds(&c.QueueInterval, f.Poll.QueueSeconds)
	setSeconds(&c.TrackingInterval, f.Poll.TrackingSeconds)
	setBool(&c.TrackingRefresh, f.Poll.TrackingRefresh)
	setBool(&c.AutoPoll, f.Poll.Auto)
	setString(&c.WebPort, f.Web.Port)
	setString(&c.LogLevel, f.Log.Level)
	if f.Log.Max != nil {
		c.MaxLogs = *f.Log.Max
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setSeconds(dst *time.Duration, v *int) {
	if v != nil {
		*dst = time.Duration(*v) * time.Second
	}
}

func (c *Config) applyEnv() error {
	c.UpstreamURL = getEnv("UPSTREAM_URL", c.UpstreamURL)
	c.UpstreamUsername = getEnv("UPSTREAM_USERNAME", c.UpstreamUsername)
	c.UpstreamPassword = getEnv("UPSTREAM_PASSWORD", c.UpstreamPassword)
	c.WebPort = getEnv("WEB_PORT", c.WebPort)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	var errs []error
	seconds := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s must be a number of seconds: %w", key, err))
				return
			}
			*dst = time.Duration(n) * time.Second
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s must be a boolean: %w", key, err))
				return
			}
			*dst = b
		}
	}

	seconds("UPSTREAM_TIMEOUT", &c.UpstreamTimeout)
	seconds("QUEUE_INTERVAL", &c.QueueInterval)
	seconds("TRACKING_INTERVAL", &c.TrackingInterval)
	boolean("UPSTREAM_INSECURE", &c.UpstreamInsecure)
	boolean("TRACKING_REFRESH", &c.TrackingRefresh)
	boolean("AUTO_POLL", &c.AutoPoll)
	if v := os.Getenv("MAX_LOGS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_LOGS must be a number: %w", err))
		} else {
			c.MaxLogs = n
		}
	}
	return errors.Join(errs...)
}

func (c *Config) applyFlags(fs *pflag.FlagSet, v *flagValues) {
	if fs.Changed("upstream-url") {
		c.UpstreamURL = v.upstreamURL
	}
	if fs.Changed("upstream-username") {
		c.UpstreamUsername = v.upstreamUsername
	}
	if fs.Changed("upstream-insecure") {
		c.UpstreamInsecure = v.upstreamInsecure
	}
	if fs.Changed("queue-interval") {
		c.QueueInterval = time.Duration(v.queueSeconds) * time.Second
	}
	if fs.Changed("tracking-interval") {
		c.TrackingInterval = time.Duration(v.trackingSeconds) * time.Second
	}
	if fs.Changed("auto-poll") {
		c.AutoPoll = v.autoPoll
	}
	if fs.Changed("web-port") {
		c.WebPort = v.webPort
	}
	if fs.Changed("log-level") {
		c.LogLevel = v.logLevel
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.UpstreamURL == "" {
		return fmt.Errorf("UPSTREAM_URL is required")
	}
	u, err := url.Parse(c.UpstreamURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("UPSTREAM_URL must be an http(s) URL, got %q", c.UpstreamURL)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if c.QueueInterval <= 0 {
		return fmt.Errorf("QUEUE_INTERVAL must be positive")
	}
	if c.TrackingInterval <= 0 {
		return fmt.Errorf("TRACKING_INTERVAL must be positive")
	}
	if c.MaxLogs <= 0 {
		return fmt.Errorf("MAX_LOGS must be positive")
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("LOG_LEVEL must be DEBUG, INFO, WARN or ERROR, got %q", c.LogLevel)
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
