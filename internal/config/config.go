// Package config contains gocomet CLI Config and the code to load it.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/centrifugal/gocomet/internal/configtypes"
	"github.com/centrifugal/gocomet/internal/logging"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hashicorp/go-envparse"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix of environment variables overriding config keys. Key
// client.retry.delay is set by GOCOMET_CLIENT_RETRY_DELAY.
const EnvPrefix = "GOCOMET"

type Config struct {
	// HTTP is a configuration for internal HTTP server exposing metrics and health.
	HTTP configtypes.HTTPServer `mapstructure:"http_server" json:"http_server" toml:"http_server" yaml:"http_server"`
	// Log is a configuration for logging.
	Log configtypes.Log `mapstructure:"log" json:"log" toml:"log" yaml:"log"`
	// Client is a configuration of connection to gocomet server.
	Client configtypes.Client `mapstructure:"client" json:"client" toml:"client" yaml:"client"`
	// Publisher configures feed commands.
	Publisher configtypes.Publisher `mapstructure:"publisher" json:"publisher" toml:"publisher" yaml:"publisher"`
	// Sinks configures where received updates are forwarded.
	Sinks configtypes.Sinks `mapstructure:"sinks" json:"sinks" toml:"sinks" yaml:"sinks"`

	Prometheus    configtypes.Prometheus    `mapstructure:"prometheus" json:"prometheus" toml:"prometheus" yaml:"prometheus"`
	Health        configtypes.Health        `mapstructure:"health" json:"health" toml:"health" yaml:"health"`
	OpenTelemetry configtypes.OpenTelemetry `mapstructure:"opentelemetry" json:"opentelemetry" toml:"opentelemetry" yaml:"opentelemetry"`
	Graphite      configtypes.Graphite      `mapstructure:"graphite" json:"graphite" toml:"graphite" yaml:"graphite"`
	Shutdown      configtypes.Shutdown      `mapstructure:"shutdown" json:"shutdown" toml:"shutdown" yaml:"shutdown"`

	// PidFile is a path to write a file with process PID.
	PidFile string `mapstructure:"pid_file" json:"pid_file" toml:"pid_file" yaml:"pid_file"`
}

type Meta struct {
	FileNotFound bool
	UnknownKeys  []string
	UnknownEnvs  []string
	KnownEnvVars []string
}

func duration(d time.Duration) configtypes.Duration {
	return configtypes.Duration(d)
}

// Defaults returns Config with default values.
func Defaults() Config {
	return Config{
		HTTP: configtypes.HTTPServer{Port: 8000},
		Log:  configtypes.Log{Level: "info"},
		Client: configtypes.Client{
			Host:              "localhost:8080",
			Channels:          []string{},
			Retry:             configtypes.Retry{Delay: duration(500 * time.Millisecond)},
			KeepAliveInterval: duration(15 * time.Second),
			SendRetryDelay:    duration(500 * time.Millisecond),
			WriteTimeout:      duration(time.Second),
			PollTimeout:       duration(time.Minute),
			PollInterval:      duration(time.Millisecond),
			PollErrorDelay:    duration(time.Second),
		},
		Publisher: configtypes.Publisher{
			Timeout: duration(10 * time.Second),
			Retry:   configtypes.Retry{Delay: duration(500 * time.Millisecond)},
		},
		Sinks: configtypes.Sinks{
			QueueSize:      4096,
			PublishTimeout: duration(5 * time.Second),
			NATS:           configtypes.NATSSink{URL: "nats://127.0.0.1:4222"},
			Redis: configtypes.RedisSink{
				Address:      []string{"127.0.0.1:6379"},
				StreamPrefix: "gocomet:",
			},
			Kafka: configtypes.KafkaSink{Brokers: []string{}, Topic: "gocomet"},
		},
		Prometheus: configtypes.Prometheus{HandlerPrefix: "/metrics", Namespace: "gocomet"},
		Health:     configtypes.Health{HandlerPrefix: "/health"},
		Graphite: configtypes.Graphite{
			Host:     "localhost",
			Port:     2003,
			Prefix:   "gocomet",
			Interval: duration(10 * time.Second),
		},
		Shutdown: configtypes.Shutdown{Timeout: duration(30 * time.Second)},
	}
}

func DefineFlags(rootCmd *cobra.Command) {
	rootCmd.Flags().StringP("pid_file", "", "", "optional path to create PID file")
	rootCmd.Flags().StringP("http_server.address", "a", "", "interface address to listen on")
	rootCmd.Flags().IntP("http_server.port", "p", 8000, "port to bind HTTP server to")
	rootCmd.Flags().StringP("log.level", "", "info", "set the log level: trace, debug, info, warn, error, fatal or none")
	rootCmd.Flags().StringP("log.file", "", "", "optional log file - if not specified logs go to STDOUT")
	rootCmd.Flags().StringP("client.host", "", "localhost:8080", "gocomet server host[:port]")
	rootCmd.Flags().StringSliceP("client.channels", "", nil, "channels to subscribe to")
	rootCmd.Flags().BoolP("client.use_ssl", "", false, "use wss and https")
	rootCmd.Flags().BoolP("client.force_long_poll", "", false, "use long polling instead of websocket")
	rootCmd.Flags().BoolP("client.debug", "", false, "debug logging of client internals")
	rootCmd.Flags().BoolP("prometheus.enabled", "", false, "enable Prometheus metrics endpoint")
	rootCmd.Flags().BoolP("health.enabled", "", false, "enable health check endpoint")
	rootCmd.Flags().BoolP("sinks.writer.enabled", "", false, "print received updates to STDOUT")
}

var bindPFlags = []string{
	"pid_file", "http_server.address", "http_server.port", "log.level", "log.file",
	"client.host", "client.channels", "client.use_ssl", "client.force_long_poll", "client.debug",
	"prometheus.enabled", "health.enabled", "sinks.writer.enabled",
}

// GetConfig loads Config from defaults, optional config file, environment
// and command flags, in order of increasing priority.
func GetConfig(cmd *cobra.Command, configFile string) (Config, Meta, error) {
	v := viper.NewWithOptions(viper.WithDecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		configtypes.StringToDurationHookFunc(),
	)))

	defaults := map[string]any{}
	collectKeys(reflect.ValueOf(Defaults()), "", defaults)
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		for _, flag := range bindPFlags {
			if f := cmd.Flags().Lookup(flag); f != nil {
				_ = v.BindPFlag(flag, f)
			}
		}
	}

	meta := Meta{}

	if configFile != "" {
		v.SetConfigFile(configFile)
		err := v.ReadInConfig()
		if err != nil {
			var configFileNotFoundError *os.PathError
			if errors.As(err, &configFileNotFoundError) {
				meta.FileNotFound = true
			} else {
				return Config{}, Meta{}, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return Config{}, Meta{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	knownEnvVars := make(map[string]struct{}, len(defaults))
	for key := range defaults {
		knownEnvVars[envName(key)] = struct{}{}
	}
	meta.UnknownKeys = findUnknownKeys(v.AllSettings(), defaults, "")
	meta.UnknownEnvs = checkEnvironmentVars(knownEnvVars, os.Environ())
	for env := range knownEnvVars {
		meta.KnownEnvVars = append(meta.KnownEnvVars, env)
	}
	sort.Strings(meta.UnknownKeys)
	sort.Strings(meta.UnknownEnvs)
	sort.Strings(meta.KnownEnvVars)

	return *conf, meta, nil
}

// collectKeys flattens struct into dotted mapstructure keys.
func collectKeys(val reflect.Value, prefix string, out map[string]any) {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := appendKeyPath(prefix, tag)
		fieldValue := val.Field(i)
		if fieldValue.Kind() == reflect.Struct {
			collectKeys(fieldValue, key, out)
			continue
		}
		out[key] = fieldValue.Interface()
	}
}

func findUnknownKeys(data map[string]any, known map[string]any, parentKey string) []string {
	var unknownKeys []string
	for key, value := range data {
		path := appendKeyPath(parentKey, key)
		if _, ok := known[path]; ok {
			continue
		}
		if nested, ok := value.(map[string]any); ok && hasKeyPrefix(known, path+".") {
			unknownKeys = append(unknownKeys, findUnknownKeys(nested, known, path)...)
			continue
		}
		unknownKeys = append(unknownKeys, path)
	}
	return unknownKeys
}

func hasKeyPrefix(known map[string]any, prefix string) bool {
	for key := range known {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func appendKeyPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func checkEnvironmentVars(knownEnvVars map[string]struct{}, environ []string) []string {
	var unknownEnvs []string
	envPrefix := EnvPrefix + "_"
	for _, envVar := range environ {
		kv, err := envparse.Parse(strings.NewReader(envVar))
		if err != nil {
			continue
		}
		for envKey := range kv {
			if !strings.HasPrefix(envKey, envPrefix) {
				continue
			}
			// Kubernetes adds service discovery variables which are not
			// related to gocomet configuration.
			if isKubernetesEnvVar(envKey) {
				continue
			}
			if _, ok := knownEnvVars[envKey]; !ok {
				unknownEnvs = append(unknownEnvs, envKey)
			}
		}
	}
	return unknownEnvs
}

var k8sEnvRegex = regexp.MustCompile(`^GOCOMET(?:_[A-Z]+)?_(PORT|SERVICE_)`)

func isKubernetesEnvVar(envKey string) bool {
	return k8sEnvRegex.MatchString(envKey)
}

// Validate validates config and returns error if problems found.
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	for _, ch := range c.Client.Channels {
		if ch == "" {
			return errors.New("client.channels: empty channel name")
		}
	}
	if err := c.Client.Retry.Policy().Validate(); err != nil {
		return fmt.Errorf("client.retry: %w", err)
	}
	if err := c.Publisher.Retry.Policy().Validate(); err != nil {
		return fmt.Errorf("publisher.retry: %w", err)
	}
	if c.Client.PollRateLimit < 0 {
		return errors.New("client.poll_rate_limit must not be negative")
	}
	if c.Sinks.QueueSize < 0 {
		return errors.New("sinks.queue_size must not be negative")
	}
	if c.Sinks.Kafka.Enabled {
		if len(c.Sinks.Kafka.Brokers) == 0 {
			return errors.New("sinks.kafka.brokers required")
		}
		if c.Sinks.Kafka.Topic == "" {
			return errors.New("sinks.kafka.topic required")
		}
	}
	if c.Sinks.Redis.Enabled && len(c.Sinks.Redis.Address) == 0 {
		return errors.New("sinks.redis.address required")
	}
	if c.HTTP.Port <= 0 && (c.Prometheus.Enabled || c.Health.Enabled) {
		return errors.New("http_server.port required")
	}
	return nil
}

// DefaultConfig is a helper to be used in tests.
func DefaultConfig() Config {
	conf, _, err := GetConfig(nil, "")
	if err != nil {
		panic("error during getting default config: " + err.Error())
	}
	return conf
}
