// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	internal_audio "github.com/rapidaai/voice-console/api/console-api/internal/audio"
	internal_audio_capture "github.com/rapidaai/voice-console/api/console-api/internal/audio/capture"
	internal_audio_device "github.com/rapidaai/voice-console/api/console-api/internal/audio/device"
	internal_audio_playback "github.com/rapidaai/voice-console/api/console-api/internal/audio/playback"
	channel_websocket "github.com/rapidaai/voice-console/api/console-api/internal/channel/websocket"
	internal_sessionstore "github.com/rapidaai/voice-console/api/console-api/internal/sessionstore"
	"github.com/rapidaai/voice-console/pkg/utils"
)

// Application config structure
type AppConfig struct {
	Name        string   `mapstructure:"service_name" validate:"required"`
	Version     string   `mapstructure:"version" validate:"required"`
	Host        string   `mapstructure:"host" validate:"required"`
	Port        int      `mapstructure:"port" validate:"required,min=1,max=65535"`
	LogLevel    string   `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogPath     string   `mapstructure:"log_path"`
	Environment string   `mapstructure:"env" validate:"required"`
	CorsOrigins []string `mapstructure:"cors_origins" validate:"dive,url"`

	ControlHost    string        `mapstructure:"control_host" validate:"required,url"`
	ControlTimeout time.Duration `mapstructure:"control_timeout" validate:"gt=0"`

	Auth      AuthConfig      `mapstructure:"auth"`
	Session   SessionConfig   `mapstructure:"session"`
	Transport TransportConfig `mapstructure:"transport"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Device    DeviceConfig    `mapstructure:"device"`
	Registry  RegistryConfig  `mapstructure:"registry"`
}

type AuthConfig struct {
	AccessToken  string        `mapstructure:"access_token"`
	RefreshToken string        `mapstructure:"refresh_token"`
	RefreshSkew  time.Duration `mapstructure:"refresh_skew" validate:"gte=0"`
}

// SessionConfig selects what the console does at startup: resume ID when
// set, otherwise launch a new session when Launch is true.
type SessionConfig struct {
	ID              string `mapstructure:"id"`
	Label           string `mapstructure:"label"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url"`
	Launch          bool   `mapstructure:"launch"`
	Muted           bool   `mapstructure:"muted"`
	StartMicrophone bool   `mapstructure:"start_microphone"`
}

type TransportConfig struct {
	HandshakeTimeout        time.Duration `mapstructure:"handshake_timeout" validate:"gt=0"`
	AuthTimeout             time.Duration `mapstructure:"auth_timeout" validate:"gte=0"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	PingInterval            time.Duration `mapstructure:"ping_interval" validate:"gte=0"`
	ReadLimit               int64         `mapstructure:"read_limit" validate:"gt=0"`
	WrongEndpointMaxRetries int           `mapstructure:"wrong_endpoint_max_retries" validate:"gte=0"`
	WrongEndpointMinDelay   time.Duration `mapstructure:"wrong_endpoint_min_delay" validate:"gte=0"`
	WrongEndpointMaxDelay   time.Duration `mapstructure:"wrong_endpoint_max_delay" validate:"gtefield=WrongEndpointMinDelay"`
	LaunchRetryInterval     time.Duration `mapstructure:"launch_retry_interval" validate:"gt=0"`
	LaunchMaxRetries        int           `mapstructure:"launch_max_retries" validate:"gte=0"`
	ResumeMaxFailures       int           `mapstructure:"resume_max_failures" validate:"gte=1"`
	ReconnectMaxRetries     int           `mapstructure:"reconnect_max_retries" validate:"gte=0"`
	BackoffInitial          time.Duration `mapstructure:"backoff_initial" validate:"gt=0"`
	BackoffMultiplier       float64       `mapstructure:"backoff_multiplier" validate:"gte=1"`
	BackoffMax              time.Duration `mapstructure:"backoff_max" validate:"gtefield=BackoffInitial"`
	BackoffJitter           bool          `mapstructure:"backoff_jitter"`
	StatusBuffer            int           `mapstructure:"status_buffer" validate:"gte=1"`
}

type PlaybackConfig struct {
	Lead          time.Duration `mapstructure:"lead" validate:"gte=0"`
	MinFrameBytes int           `mapstructure:"min_frame_bytes" validate:"gte=1"`
}

type CaptureConfig struct {
	FrameSamples int `mapstructure:"frame_samples" validate:"gt=0"`
	BlockSamples int `mapstructure:"block_samples" validate:"gt=0"`
	PacketQueue  int `mapstructure:"packet_queue" validate:"gt=0"`
}

// DeviceConfig wires the audio devices to pipes. "-" means stdin/stdout,
// an empty path disables the device.
type DeviceConfig struct {
	Format  string `mapstructure:"format" validate:"oneof=pcm16 mulaw"`
	Input   string `mapstructure:"input"`
	Output  string `mapstructure:"output"`
	Worklet bool   `mapstructure:"worklet"`
}

type RegistryConfig struct {
	Backend    string        `mapstructure:"backend" validate:"oneof=memory sqlite redis"`
	SQLitePath string        `mapstructure:"sqlite_path" validate:"required_if=Backend sqlite"`
	TTL        time.Duration `mapstructure:"ttl" validate:"gte=0"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("unable to read config %s: %w", path, err)
		}
		log.Printf("Reading from env variables.")
	}
	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// keeping watch on https://github.com/spf13/viper/issues/188
	v.SetDefault("SERVICE_NAME", "voice-console")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "127.0.0.1")
	v.SetDefault("PORT", 9190)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PATH", "")
	v.SetDefault("ENV", "development")
	v.SetDefault("CORS_ORIGINS", []string{"http://localhost:3000", "http://127.0.0.1:3000"})

	v.SetDefault("CONTROL_HOST", "http://localhost:9001")
	v.SetDefault("CONTROL_TIMEOUT", 15*time.Second)

	v.SetDefault("AUTH__ACCESS_TOKEN", "")
	v.SetDefault("AUTH__REFRESH_TOKEN", "")
	v.SetDefault("AUTH__REFRESH_SKEW", 30*time.Second)

	v.SetDefault("SESSION__ID", "")
	v.SetDefault("SESSION__LABEL", "")
	v.SetDefault("SESSION__ENDPOINT", "")
	v.SetDefault("SESSION__LAUNCH", false)
	v.SetDefault("SESSION__MUTED", false)
	v.SetDefault("SESSION__START_MICROPHONE", false)

	ws := channel_websocket.DefaultConfig()
	v.SetDefault("TRANSPORT__HANDSHAKE_TIMEOUT", ws.HandshakeTimeout)
	v.SetDefault("TRANSPORT__AUTH_TIMEOUT", ws.AuthTimeout)
	v.SetDefault("TRANSPORT__WRITE_TIMEOUT", ws.WriteTimeout)
	v.SetDefault("TRANSPORT__PING_INTERVAL", ws.PingInterval)
	v.SetDefault("TRANSPORT__READ_LIMIT", ws.ReadLimit)
	v.SetDefault("TRANSPORT__WRONG_ENDPOINT_MAX_RETRIES", ws.WrongEndpointMaxRetries)
	v.SetDefault("TRANSPORT__WRONG_ENDPOINT_MIN_DELAY", ws.WrongEndpointMinDelay)
	v.SetDefault("TRANSPORT__WRONG_ENDPOINT_MAX_DELAY", ws.WrongEndpointMaxDelay)
	v.SetDefault("TRANSPORT__LAUNCH_RETRY_INTERVAL", ws.LaunchRetryInterval)
	v.SetDefault("TRANSPORT__LAUNCH_MAX_RETRIES", ws.LaunchMaxRetries)
	v.SetDefault("TRANSPORT__RESUME_MAX_FAILURES", ws.ResumeMaxFailures)
	v.SetDefault("TRANSPORT__RECONNECT_MAX_RETRIES", ws.ReconnectMaxRetries)
	v.SetDefault("TRANSPORT__BACKOFF_INITIAL", ws.Backoff.InitialDelay)
	v.SetDefault("TRANSPORT__BACKOFF_MULTIPLIER", ws.Backoff.Multiplier)
	v.SetDefault("TRANSPORT__BACKOFF_MAX", ws.Backoff.MaxDelay)
	v.SetDefault("TRANSPORT__BACKOFF_JITTER", ws.Backoff.Jitter)
	v.SetDefault("TRANSPORT__STATUS_BUFFER", ws.StatusBuffer)

	v.SetDefault("PLAYBACK__LEAD", internal_audio.DefaultPlaybackLead)
	v.SetDefault("PLAYBACK__MIN_FRAME_BYTES", internal_audio.DefaultMinFrameBytes)

	capture := internal_audio_capture.DefaultConfig()
	v.SetDefault("CAPTURE__FRAME_SAMPLES", capture.FrameSamples)
	v.SetDefault("CAPTURE__BLOCK_SAMPLES", capture.BlockSamples)
	v.SetDefault("CAPTURE__PACKET_QUEUE", capture.PacketQueue)

	v.SetDefault("DEVICE__FORMAT", string(internal_audio_device.FormatPCM16))
	v.SetDefault("DEVICE__INPUT", "")
	v.SetDefault("DEVICE__OUTPUT", "")
	v.SetDefault("DEVICE__WORKLET", true)

	v.SetDefault("REGISTRY__BACKEND", internal_sessionstore.BackendMemory)
	v.SetDefault("REGISTRY__SQLITE_PATH", "")
	v.SetDefault("REGISTRY__TTL", 0)
	v.SetDefault("REGISTRY__REDIS__HOST", "")
	v.SetDefault("REGISTRY__REDIS__PORT", 6379)
	v.SetDefault("REGISTRY__REDIS__PASSWORD", "")
	v.SetDefault("REGISTRY__REDIS__DB", 0)
	v.SetDefault("REGISTRY__REDIS__KEY", internal_sessionstore.DefaultRedisKey)
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	if config.Registry.Backend == internal_sessionstore.BackendRedis && utils.IsEmpty(config.Registry.Redis.Host) {
		return nil, fmt.Errorf("registry redis host is required for the redis backend")
	}
	return &config, nil
}

func (c *AppConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (t TransportConfig) Build() channel_websocket.Config {
	return channel_websocket.Config{
		HandshakeTimeout:        t.HandshakeTimeout,
		AuthTimeout:             t.AuthTimeout,
		WriteTimeout:            t.WriteTimeout,
		PingInterval:            t.PingInterval,
		ReadLimit:               t.ReadLimit,
		WrongEndpointMaxRetries: t.WrongEndpointMaxRetries,
		WrongEndpointMinDelay:   t.WrongEndpointMinDelay,
		WrongEndpointMaxDelay:   t.WrongEndpointMaxDelay,
		LaunchRetryInterval:     t.LaunchRetryInterval,
		LaunchMaxRetries:        t.LaunchMaxRetries,
		ResumeMaxFailures:       t.ResumeMaxFailures,
		ReconnectMaxRetries:     t.ReconnectMaxRetries,
		Backoff: channel_websocket.BackoffConfig{
			InitialDelay: t.BackoffInitial,
			Multiplier:   t.BackoffMultiplier,
			MaxDelay:     t.BackoffMax,
			Jitter:       t.BackoffJitter,
		},
		StatusBuffer: t.StatusBuffer,
	}
}

func (p PlaybackConfig) Options() []internal_audio_playback.Option {
	return []internal_audio_playback.Option{
		internal_audio_playback.WithLead(p.Lead),
		internal_audio_playback.WithMinFrameBytes(p.MinFrameBytes),
	}
}

func (c CaptureConfig) Build() internal_audio_capture.Config {
	cfg := internal_audio_capture.DefaultConfig()
	cfg.FrameSamples = c.FrameSamples
	cfg.BlockSamples = c.BlockSamples
	cfg.PacketQueue = c.PacketQueue
	return cfg
}

func (r RegistryConfig) Build() internal_sessionstore.Config {
	cfg := internal_sessionstore.Config{
		Backend:       r.Backend,
		SQLitePath:    r.SQLitePath,
		RedisPassword: r.Redis.Password,
		RedisDB:       r.Redis.DB,
		RedisKey:      r.Redis.Key,
		TTL:           r.TTL,
	}
	if r.Redis.Host != "" {
		cfg.RedisAddr = fmt.Sprintf("%s:%d", r.Redis.Host, r.Redis.Port)
	}
	return cfg
}
