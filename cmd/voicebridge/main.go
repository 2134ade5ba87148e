package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lisuiheng/voicebridge/audio/device"
	"github.com/lisuiheng/voicebridge/audio/opus"
	"github.com/lisuiheng/voicebridge/core"
	"github.com/lisuiheng/voicebridge/indicator"
	"github.com/lisuiheng/voicebridge/input"
	"github.com/lisuiheng/voicebridge/logger"
	"github.com/lisuiheng/voicebridge/observe"
	"github.com/lisuiheng/voicebridge/provision"
	"github.com/lisuiheng/voicebridge/storage"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var version = "dev"

const (
	keyBootCount = "boot_count"
	keyLastBoot  = "last_boot"

	exitResetRequested = 3
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	configPath := pflag.StringP("config", "c", "", "Path to config file (default searches ./config.yaml, ./config/config.yaml, /etc/voicebridge/config.yaml)")
	pflag.Bool("debug", false, "Log at debug level to stdout")
	pflag.Parse()

	v := viper.New()
	if err := v.BindPFlag("debug", pflag.Lookup("debug")); err != nil {
		logger.Error("Failed to bind flags", "error", err)
		os.Exit(1)
	}

	cfg, err := core.LoadConfig(v, *configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := initLogger(cfg, v.GetBool("debug")); err != nil {
		logger.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := run(cfg); err != nil {
		if errors.Is(err, provision.ErrResetRequested) {
			logger.Warn("Factory reset done, exiting for restart")
			os.Exit(exitResetRequested)
		}
		logger.Error("Service runtime error", "error", err)
		os.Exit(1)
	}
	logger.Info("Service shutdown completed")
}

func run(cfg core.Config) error {
	log := logger.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Listen:         cfg.Metrics.Listen,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			log.Warn("Failed to shut down metrics", "error", err)
		}
	}()

	store := openStore(cfg, log)
	recordBoot(store, log)

	light := newIndicator(cfg, log)
	defer func() { _ = light.SetColor(indicator.Off) }()

	button, closeButton := newButton(cfg, log)
	defer closeButton()

	if button != nil {
		err := provision.CheckReset(ctx, provision.ResetConfig{
			Hold: cfg.Provisioning.ResetHold,
			Keys: cfg.Provisioning.CredentialKeys,
		}, button, light, store, log)
		if err != nil {
			return err
		}
	}

	deps := core.Dependencies{
		Button:    button,
		Indicator: light,
		Store:     store,
		Metrics:   metrics,
	}
	closeAudio := openAudio(cfg, &deps, log)
	defer closeAudio()

	client, err := core.NewClient(cfg, deps, log)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if cfg.Provisioning.Enabled {
		probe := provision.NewProbe(provision.Config{
			Interface:     cfg.Provisioning.Interface,
			PortalTimeout: cfg.Provisioning.PortalTimeout,
		}, nil, store, client.Indicator().SetProvisioning, log)
		online, err := probe.Ensure(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("provisioning failed: %w", err)
		}
		if !online {
			log.Warn("Network still unavailable after configuration mode, connecting anyway")
		}
	}

	log.Info("Starting voicebridge", "version", version, "client_id", cfg.System.ClientID)
	return client.Run(ctx)
}

// initLogger 初始化日志系统
func initLogger(cfg core.Config, debug bool) error {
	logCfg := logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: cfg.Logging.Outputs,
	}

	// 调试模式覆盖配置
	if debug {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stdout"}
	}
	if err := logger.Init(logCfg); err != nil {
		return err
	}
	if debug {
		logger.Debug("Debug mode enabled")
	}
	return nil
}

func openStore(cfg core.Config, log *slog.Logger) storage.Store {
	store, err := storage.OpenFileStore(cfg.Storage.Path, cfg.Storage.Namespace)
	if err != nil {
		log.Error("Failed to open storage, diagnostics will not persist", "path", cfg.Storage.Path, "error", err)
		return storage.NewMemoryStore()
	}
	return store
}

func recordBoot(store storage.Store, log *slog.Logger) {
	n, err := storage.Increment(store, keyBootCount)
	if err != nil {
		log.Warn("Failed to update boot count", "error", err)
	}
	if err := store.Put(keyLastBoot, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		log.Warn("Failed to record boot time", "error", err)
	}
	log.Info("Device booted", "boot_count", n)
}

func newIndicator(cfg core.Config, log *slog.Logger) indicator.Indicator {
	if cfg.Indicator.Driver == "sysfs" {
		led, err := indicator.NewSysfsLED(cfg.Indicator.Red, cfg.Indicator.Green, cfg.Indicator.Blue)
		if err == nil {
			return led
		}
		log.Error("Failed to open LED, logging colors instead", "error", err)
	}
	return indicator.NewLogIndicator(log)
}

func newButton(cfg core.Config, log *slog.Logger) (input.Button, func()) {
	if cfg.Button.Source != "gpio" {
		return nil, func() {}
	}
	gpio, err := input.OpenSysfsGPIO(cfg.Button.GPIO, cfg.Button.Path, cfg.Button.ActiveLow)
	if err != nil {
		log.Error("Failed to open button, turn-taking disabled", "gpio", cfg.Button.GPIO, "error", err)
		return nil, func() {}
	}
	return gpio, func() { _ = gpio.Close() }
}

// openAudio fills the audio dependencies. Anything that fails to initialize
// is left nil and the client runs without that path.
func openAudio(cfg core.Config, deps *core.Dependencies, log *slog.Logger) func() {
	var closers []func()

	enc, err := opus.NewEncoder(opus.EncoderConfig{
		SampleRate:   cfg.Audio.SampleRate,
		Channels:     cfg.Audio.Channels,
		FrameSamples: cfg.Audio.FrameSamples,
		Bitrate:      cfg.Codec.Bitrate,
		Complexity:   cfg.Codec.Complexity,
		Application:  cfg.Codec.Application,
	}, log)
	if err != nil {
		log.Error("Failed to create OPUS encoder", "error", err)
	} else {
		deps.Encoder = enc
		closers = append(closers, enc.Close)
	}

	dec, err := opus.NewDecoder(cfg.Audio.SampleRate, cfg.Audio.Channels, log)
	if err != nil {
		log.Error("Failed to create OPUS decoder", "error", err)
	} else {
		deps.Decoder = dec
		closers = append(closers, dec.Close)
	}

	capture, err := device.NewCapture(device.CaptureConfig{
		SampleRate:   cfg.Audio.SampleRate,
		Channels:     cfg.Audio.Channels,
		FrameSamples: cfg.Audio.FrameSamples,
		QueueFrames:  cfg.Audio.CaptureQueue,
	}, log)
	if err != nil {
		log.Error("Failed to open microphone", "error", err)
	} else {
		deps.Capture = capture
		closers = append(closers, func() {
			if err := capture.Close(); err != nil {
				log.Warn("Failed to close microphone", "error", err)
			}
		})
	}

	playback, err := device.NewPlayback(device.PlaybackConfig{
		SampleRate:      cfg.Audio.SampleRate,
		Channels:        cfg.Audio.Channels,
		FramesPerBuffer: cfg.Audio.FrameSamples,
	}, log)
	if err != nil {
		log.Error("Failed to open speaker", "error", err)
	} else {
		deps.Playback = playback
		closers = append(closers, func() {
			if err := playback.Close(); err != nil {
				log.Warn("Failed to close speaker", "error", err)
			}
		})
	}

	return func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}
