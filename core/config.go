package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lisuiheng/voicebridge/audio"
	"github.com/spf13/viper"
)

// Config 是客户端配置结构（与YAML文件的结构对应）
type Config struct {
	System struct {
		DeviceID string `mapstructure:"device_id"`
		ClientID string `mapstructure:"client_id"`
	} `mapstructure:"system"`

	Network struct {
		Transport string           `mapstructure:"transport"`
		Websocket *WebsocketConfig `mapstructure:"websocket"`
		Reconnect struct {
			Strategy    string        `mapstructure:"strategy"`
			Interval    time.Duration `mapstructure:"interval"`
			MaxInterval time.Duration `mapstructure:"max_interval"`
		} `mapstructure:"reconnect"`
	} `mapstructure:"network"`

	Audio struct {
		SampleRate        int           `mapstructure:"sample_rate"`
		Channels          int           `mapstructure:"channels"`
		FrameSamples      int           `mapstructure:"frame_samples"`
		MaxDecodedSamples int           `mapstructure:"max_decoded_samples"`
		BufferFrames      int           `mapstructure:"buffer_frames"`
		CaptureQueue      int           `mapstructure:"capture_queue"`
		IdleSleep         time.Duration `mapstructure:"idle_sleep"`
		CaptureCPU        int           `mapstructure:"capture_cpu"`
		PlaybackCPU       int           `mapstructure:"playback_cpu"`
	} `mapstructure:"audio"`

	Codec struct {
		Bitrate     int    `mapstructure:"bitrate"`
		Complexity  int    `mapstructure:"complexity"`
		Application string `mapstructure:"application"`
	} `mapstructure:"codec"`

	Session struct {
		Voice        string `mapstructure:"voice"`
		Instructions string `mapstructure:"instructions"`
	} `mapstructure:"session"`

	Button struct {
		// Source is "gpio" or "none".
		Source    string        `mapstructure:"source"`
		GPIO      int           `mapstructure:"gpio"`
		Path      string        `mapstructure:"path"`
		ActiveLow bool          `mapstructure:"active_low"`
		Debounce  time.Duration `mapstructure:"debounce"`
		Poll      time.Duration `mapstructure:"poll"`
	} `mapstructure:"button"`

	Indicator struct {
		// Driver is "sysfs" or "log".
		Driver string `mapstructure:"driver"`
		Red    string `mapstructure:"red"`
		Green  string `mapstructure:"green"`
		Blue   string `mapstructure:"blue"`
	} `mapstructure:"indicator"`

	Provisioning struct {
		Enabled        bool          `mapstructure:"enabled"`
		Interface      string        `mapstructure:"interface"`
		PortalTimeout  time.Duration `mapstructure:"portal_timeout"`
		ResetHold      time.Duration `mapstructure:"reset_hold"`
		CredentialKeys []string      `mapstructure:"credential_keys"`
	} `mapstructure:"provisioning"`

	Storage struct {
		Path      string `mapstructure:"path"`
		Namespace string `mapstructure:"namespace"`
	} `mapstructure:"storage"`

	Metrics struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"metrics"`

	Logging struct {
		Level   string   `mapstructure:"level"`
		Format  string   `mapstructure:"format"`
		Outputs []string `mapstructure:"outputs"`
	} `mapstructure:"logging"`
}

type WebsocketConfig struct {
	URL              string        `mapstructure:"url"`
	AccessToken      string        `mapstructure:"access_token"`
	Subprotocol      string        `mapstructure:"subprotocol"`
	ProtocolVersion  int           `mapstructure:"protocol_version"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	SendQueue        int           `mapstructure:"send_queue"`
}

const (
	EnvPrefix = "VOICEBRIDGE"

	DefaultVoice        = "Anne"
	DefaultInstructions = "You are a helpful voice assistant."
)

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	// Keys without a useful default are registered so environment
	// variables can still set them.
	v.SetDefault("system.device_id", "")
	v.SetDefault("system.client_id", "")
	v.SetDefault("network.websocket.access_token", "")

	v.SetDefault("network.transport", "websocket")
	v.SetDefault("network.websocket.url", "ws://localhost:8000/api/v1/realtime")
	v.SetDefault("network.websocket.subprotocol", "realtime")
	v.SetDefault("network.websocket.protocol_version", 1)
	v.SetDefault("network.websocket.handshake_timeout", 10*time.Second)
	v.SetDefault("network.websocket.send_queue", 64)
	v.SetDefault("network.reconnect.strategy", "fixed")
	v.SetDefault("network.reconnect.interval", 5*time.Second)
	v.SetDefault("network.reconnect.max_interval", 60*time.Second)

	v.SetDefault("audio.sample_rate", 24000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.frame_samples", 960)
	v.SetDefault("audio.max_decoded_samples", 3840)
	v.SetDefault("audio.buffer_frames", audio.DefaultBufferFrames)
	v.SetDefault("audio.capture_queue", 8)
	v.SetDefault("audio.idle_sleep", audio.DefaultIdleSleep)
	v.SetDefault("audio.capture_cpu", 0)
	v.SetDefault("audio.playback_cpu", 1)

	v.SetDefault("codec.bitrate", 24000)
	v.SetDefault("codec.complexity", 5)
	v.SetDefault("codec.application", "voip")

	v.SetDefault("session.voice", DefaultVoice)
	v.SetDefault("session.instructions", DefaultInstructions)

	v.SetDefault("button.source", "none")
	v.SetDefault("button.gpio", -1)
	v.SetDefault("button.path", "")
	v.SetDefault("button.active_low", true)
	v.SetDefault("button.debounce", 50*time.Millisecond)
	v.SetDefault("button.poll", 10*time.Millisecond)

	v.SetDefault("indicator.driver", "log")
	v.SetDefault("indicator.red", "")
	v.SetDefault("indicator.green", "")
	v.SetDefault("indicator.blue", "")

	v.SetDefault("provisioning.enabled", true)
	v.SetDefault("provisioning.interface", "")
	v.SetDefault("provisioning.portal_timeout", 180*time.Second)
	v.SetDefault("provisioning.reset_hold", 3*time.Second)
	v.SetDefault("provisioning.credential_keys", []string{"wifi_ssid", "wifi_password", "last_provisioned"})

	v.SetDefault("storage.path", "./data/voicebridge.yaml")
	v.SetDefault("storage.namespace", "bambola")

	v.SetDefault("metrics.listen", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputs", []string{"stdout"})
}

// LoadConfig reads the configuration from configPath, or from the search
// path when it is empty. A missing file is not an error when searching;
// defaults and VOICEBRIDGE_* variables still apply.
func LoadConfig(v *viper.Viper, configPath string) (Config, error) {
	SetDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/voicebridge")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.System.ClientID == "" {
		cfg.System.ClientID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AudioConfig is the fixed device format.
func (c Config) AudioConfig() audio.Config {
	return audio.Config{
		SampleRate:        c.Audio.SampleRate,
		Channels:          c.Audio.Channels,
		FrameSamples:      c.Audio.FrameSamples,
		MaxDecodedSamples: c.Audio.MaxDecodedSamples,
	}
}

func (c Config) Validate() error {
	var errs []error
	if err := c.AudioConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if c.Audio.BufferFrames <= 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_frames must be positive, got %d", c.Audio.BufferFrames))
	}
	if c.Network.Transport == "websocket" && (c.Network.Websocket == nil || c.Network.Websocket.URL == "") {
		errs = append(errs, errors.New("network.websocket.url is required"))
	}
	if c.Codec.Complexity < 0 || c.Codec.Complexity > 10 {
		errs = append(errs, fmt.Errorf("codec.complexity must be within 0..10, got %d", c.Codec.Complexity))
	}
	switch c.Button.Source {
	case "none", "gpio":
	default:
		errs = append(errs, fmt.Errorf("unknown button.source %q", c.Button.Source))
	}
	switch c.Indicator.Driver {
	case "log", "sysfs":
	default:
		errs = append(errs, fmt.Errorf("unknown indicator.driver %q", c.Indicator.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
