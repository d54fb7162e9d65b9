package util

import (
	"crypto/rand"
	"fmt"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const ENV_PREFIX = ""

const ConfigName = "strip_controller"

var Config = viper.New()

var config_listeners []func()

func RegisterNewConfigListener(new_listener func()) {
	for _, listener := range config_listeners {
		if reflect.ValueOf(new_listener).Pointer() == reflect.ValueOf(listener).Pointer() {
			Logger.Warn().Msg("config listener already registered")
			return
		}
	}
	config_listeners = append(config_listeners, new_listener)
}

func OnNewConfig() {
	for _, listener := range config_listeners {
		listener()
	}
}

func GetRandString(n int) string {
	const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	b := make([]byte, n)
	randBytes := make([]byte, n)
	if _, err := rand.Read(randBytes); err != nil {
		for i := range b {
			b[i] = letterBytes[i%len(letterBytes)]
		}
		return string(b)
	}
	for i := range b {
		b[i] = letterBytes[int(randBytes[i])%len(letterBytes)]
	}
	return string(b)
}

func setDefaults() {
	// process
	Config.SetDefault("log_level", "info")
	Config.SetDefault("insecure_tls", false)

	// strip and lighting api
	Config.SetDefault("strip_length", 300)
	Config.SetDefault("api_key", "")
	Config.SetDefault("device_name", "")
	Config.SetDefault("base_url", "https://si568.umsi.run")
	Config.SetDefault("push_timeout", "5s")
	Config.SetDefault("max_retries", 3)
	Config.SetDefault("base_backoff", "100ms")
	Config.SetDefault("max_backoff", "2s")

	// animation timing
	Config.SetDefault("step_interval", "10ms")
	Config.SetDefault("settle_delay", "2s")
	Config.SetDefault("alternate_period", "1s")
	Config.SetDefault("grow_step", 5)
	Config.SetDefault("chase_width", 4)
	Config.SetDefault("presets_file", "presets.yaml")

	// mqtt
	Config.SetDefault("broker_uri", "tcp://mqtt")
	Config.SetDefault("cleansess", false)
	Config.SetDefault("id_base", "strip_controller")
	Config.SetDefault("username", "")
	Config.SetDefault("password", "")
	Config.SetDefault("topic_base", "strip")

	// monitor
	Config.SetDefault("details_port", 8080)
	Config.SetDefault("preview_forwarder.enabled", false)
	Config.SetDefault("preview_forwarder.frequency", 5)
}

func SetupConfig() {
	Config.SetEnvPrefix(ENV_PREFIX)
	setDefaults()

	// config file
	Config.SetConfigName(ConfigName)
	Config.AddConfigPath("/")
	Config.AddConfigPath("./")
	Config.AddConfigPath("./config")
	Config.AddConfigPath("/etc")
	Config.AddConfigPath("/" + ConfigName)
	Config.AddConfigPath("/" + ConfigName + "/config")

	err := Config.ReadInConfig()
	if err != nil {
		Logger.Error().Msgf("unable to read config file: %v", err)
	}

	// environment variables
	Config.AutomaticEnv()

	// watch for changes
	Config.WatchConfig()
	Config.OnConfigChange(func(e fsnotify.Event) {
		Logger.Info().Msgf("Config file changed: %v", e.Name)
		Logger.Debug().Msgf("Config Additional Info: %v", e.String())
		OnNewConfig()
	})
}

// Settings is the typed view of Config used to build the strip, engine and
// device client.
type Settings struct {
	LogLevel    string `mapstructure:"log_level"`
	InsecureTLS bool   `mapstructure:"insecure_tls"`

	StripLength int           `mapstructure:"strip_length"`
	APIKey      string        `mapstructure:"api_key"`
	DeviceName  string        `mapstructure:"device_name"`
	BaseURL     string        `mapstructure:"base_url"`
	PushTimeout time.Duration `mapstructure:"push_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`

	StepInterval    time.Duration `mapstructure:"step_interval"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	AlternatePeriod time.Duration `mapstructure:"alternate_period"`
	GrowStep        int           `mapstructure:"grow_step"`
	ChaseWidth      int           `mapstructure:"chase_width"`
	PresetsFile     string        `mapstructure:"presets_file"`

	TopicBase   string `mapstructure:"topic_base"`
	DetailsPort int    `mapstructure:"details_port"`
}

// LoadSettings reads the current Config. Only values that make the strip
// impossible to drive are rejected; the device client checks credentials.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := Config.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("error unmarshaling settings: %w", err)
	}
	if s.StripLength <= 0 {
		return s, fmt.Errorf("strip_length must be positive, got %d", s.StripLength)
	}
	if s.TopicBase == "" {
		return s, fmt.Errorf("topic_base must not be empty")
	}
	return s, nil
}
