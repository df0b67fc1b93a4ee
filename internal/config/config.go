// Package config resolves the process-wide run configuration from flags,
// environment variables, an optional config file and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"orderload/internal/logger"
	"orderload/internal/threshold"
)

// Environment variables read by the resolver.
const (
	EnvGatewayURL = "GATEWAY_URL"
	EnvDuration   = "K6_DURATION"
	EnvVUs        = "K6_VUS"
)

// Viper keys. Flags and the config file use the same names.
const (
	KeyGatewayURL   = "gateway_url"
	KeyDuration     = "k6_duration"
	KeyVUs          = "k6_vus"
	KeyTimeout      = "timeout"
	KeyGracefulStop = "graceful_stop"
	KeyOut          = "out"
	KeyMetricsAddr  = "metrics_addr"
	KeyHistory      = "history"
	KeyLogLevel     = "log_level"
	KeyLogFormat    = "log_format"
	KeyThresholds   = "thresholds"
)

// Defaults.
const (
	DefaultGatewayURL      = "http://localhost:8080"
	DefaultDurationSeconds = 60
	DefaultVirtualUsers    = 5
	DefaultRequestTimeout  = 60 * time.Second
	DefaultGracefulStop    = 30 * time.Second
)

// ErrInvalidConfig is wrapped by every resolution error.
var ErrInvalidConfig = errors.New("invalid run configuration")

// Config is the immutable run configuration. It is resolved once at start
// up and passed by value from there on.
type Config struct {
	TargetBaseURL    string
	DurationSeconds  int
	VirtualUserCount int

	RequestTimeout time.Duration
	GracefulStop   time.Duration
	Thresholds     []threshold.Threshold

	OutPrefix   string
	MetricsAddr string
	HistoryPath string
	Log         logger.Config
}

// Duration returns the run duration.
func (c Config) Duration() time.Duration {
	return time.Duration(c.DurationSeconds) * time.Second
}

// DurationString renders the duration the way run options spell it ("60s").
func (c Config) DurationString() string {
	return strconv.Itoa(c.DurationSeconds) + "s"
}

// OrdersURL is the target of every request. The base URL is used as is,
// a trailing slash on it is not stripped.
func (c Config) OrdersURL() string {
	return c.TargetBaseURL + "/orders"
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		TargetBaseURL:    DefaultGatewayURL,
		DurationSeconds:  DefaultDurationSeconds,
		VirtualUserCount: DefaultVirtualUsers,
		RequestTimeout:   DefaultRequestTimeout,
		GracefulStop:     DefaultGracefulStop,
		Thresholds:       threshold.Default(),
		Log:              logger.DefaultConfig(),
	}
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyGatewayURL, DefaultGatewayURL)
	v.SetDefault(KeyDuration, strconv.Itoa(DefaultDurationSeconds))
	v.SetDefault(KeyVUs, strconv.Itoa(DefaultVirtualUsers))
	v.SetDefault(KeyTimeout, DefaultRequestTimeout.String())
	v.SetDefault(KeyGracefulStop, DefaultGracefulStop.String())
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")

	// Empty variables count as unset.
	v.AllowEmptyEnv(false)
	_ = v.BindEnv(KeyGatewayURL, EnvGatewayURL)
	_ = v.BindEnv(KeyDuration, EnvDuration)
	_ = v.BindEnv(KeyVUs, EnvVUs)
	_ = v.BindEnv(KeyTimeout, "ORDERLOAD_TIMEOUT")
	_ = v.BindEnv(KeyGracefulStop, "ORDERLOAD_GRACEFUL_STOP")
	_ = v.BindEnv(KeyOut, "ORDERLOAD_OUT")
	_ = v.BindEnv(KeyMetricsAddr, "ORDERLOAD_METRICS_ADDR")
	_ = v.BindEnv(KeyHistory, "ORDERLOAD_HISTORY")
	_ = v.BindEnv(KeyLogLevel, "ORDERLOAD_LOG_LEVEL")
	_ = v.BindEnv(KeyLogFormat, "ORDERLOAD_LOG_FORMAT")
}

// FromEnv resolves the configuration from the process environment only.
func FromEnv() (Config, error) {
	return Load(viper.New())
}

// Load resolves the configuration from v. Unparseable or non-positive
// numbers and malformed base URLs fail the whole resolution.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	cfg := Default()
	var err error

	cfg.TargetBaseURL = v.GetString(KeyGatewayURL)
	if err = validateBaseURL(cfg.TargetBaseURL); err != nil {
		return Config{}, err
	}
	if cfg.DurationSeconds, err = positiveInt(v, KeyDuration, EnvDuration); err != nil {
		return Config{}, err
	}
	if cfg.VirtualUserCount, err = positiveInt(v, KeyVUs, EnvVUs); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = positiveDuration(v, KeyTimeout); err != nil {
		return Config{}, err
	}
	if cfg.GracefulStop, err = positiveDuration(v, KeyGracefulStop); err != nil {
		return Config{}, err
	}

	if raw := v.GetStringMapStringSlice(KeyThresholds); len(raw) > 0 {
		cfg.Thresholds, err = threshold.ParseSet(raw)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	cfg.OutPrefix = v.GetString(KeyOut)
	cfg.MetricsAddr = v.GetString(KeyMetricsAddr)
	cfg.HistoryPath = v.GetString(KeyHistory)
	cfg.Log = logger.Config{
		Level:  v.GetString(KeyLogLevel),
		Format: v.GetString(KeyLogFormat),
	}

	return cfg, nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s %q: %w", ErrInvalidConfig, EnvGatewayURL, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %s %q: scheme must be http or https", ErrInvalidConfig, EnvGatewayURL, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %s %q: missing host", ErrInvalidConfig, EnvGatewayURL, raw)
	}
	return nil
}

func positiveInt(v *viper.Viper, key, name string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a base-10 integer", ErrInvalidConfig, name, raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, name, n)
	}
	return n, nil
}

func positiveDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %w", ErrInvalidConfig, key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, key, d)
	}
	return d, nil
}
