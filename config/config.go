// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/voxbridgeai/pkg/configs"
)

// AppConfig is the fully resolved configuration of the dialer service.
// Values come from the environment (or an optional .env file), with
// nested sections addressed by the double-underscore delimiter,
// e.g. POSTGRES__HOST, REDIS__PORT.
type AppConfig struct {
	Name        string `mapstructure:"service_name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`

	// Control-plane HTTP listener.
	Host string `mapstructure:"host" validate:"required"`
	Port int    `mapstructure:"port" validate:"required"`

	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogFile  string `mapstructure:"log_file"`

	// Asterisk REST Interface.
	AriHost       string `mapstructure:"ari_host" validate:"required"`
	AriUser       string `mapstructure:"ari_user" validate:"required"`
	AriPass       string `mapstructure:"ari_pass" validate:"required"`
	AriTimeout    int    `mapstructure:"ari_timeout" validate:"required"`
	StasisAppName string `mapstructure:"stasis_app_name" validate:"required"`
	ExternalHost  string `mapstructure:"external_host" validate:"required"`
	SipHost       string `mapstructure:"sip_host" validate:"required"`

	// AudioSocket media listener.
	AudiosocketHost  string `mapstructure:"audiosocket_host" validate:"required"`
	AudiosocketPort  int    `mapstructure:"audiosocket_port" validate:"required"`
	ReaderBytesLimit int    `mapstructure:"reader_bytes_limit" validate:"required"`
	DrainChunkSize   int    `mapstructure:"drain_chunk_size" validate:"required"`

	// Realtime model endpoint.
	RealtimeURL            string  `mapstructure:"realtime_url" validate:"required"`
	RealtimeModel          string  `mapstructure:"realtime_model" validate:"required"`
	OpenAIAPIKey           string  `mapstructure:"openai_api_key" validate:"required"`
	InputFormat            string  `mapstructure:"input_format" validate:"required,oneof=g711_alaw pcm16"`
	OutputFormat           string  `mapstructure:"output_format" validate:"required,oneof=pcm16"`
	Voice                  string  `mapstructure:"voice" validate:"required"`
	Temperature            float64 `mapstructure:"temperature" validate:"gte=0,lte=2"`
	VadThreshold           float64 `mapstructure:"vad_threshold" validate:"gte=0,lte=1"`
	VadSilenceMs           int     `mapstructure:"vad_silence_ms" validate:"required"`
	VadPrefixMs            int     `mapstructure:"vad_prefix_ms" validate:"required"`
	RealtimeReceiveTimeout int     `mapstructure:"realtime_receive_timeout" validate:"required"`

	// Audio pipeline.
	DefaultSampleRate int `mapstructure:"default_sample_rate" validate:"required"`
	OpenAIOutputRate  int `mapstructure:"openai_output_rate" validate:"required"`
	InterruptPauseMs  int `mapstructure:"interrupt_pause_ms" validate:"required"`

	// Default agent persona, overridable per call.
	AgentInstructions string `mapstructure:"agent_instructions"`
	AgentGreeting     string `mapstructure:"agent_greeting"`

	PostgresConfig configs.PostgresConfig `mapstructure:"postgres" validate:"required"`
	RedisConfig    configs.RedisConfig    `mapstructure:"redis"`
}

// InitConfig wires up viper against the process environment. An optional
// .env file is honored when present (path overridable via ENV_PATH), but
// a missing file is not an error: containers inject plain env vars.
func InitConfig() (*viper.Viper, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	if envPath := os.Getenv("ENV_PATH"); envPath != "" {
		v.SetConfigFile(envPath)
	}
	v.SetConfigType("env")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
				return nil, err
			}
		}
	}
	setDefault(v)
	return v, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "dialer-api")
	v.SetDefault("VERSION", "v1")
	v.SetDefault("ENVIRONMENT", "development")

	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8010)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")

	v.SetDefault("ARI_HOST", "localhost:8088")
	v.SetDefault("ARI_USER", "")
	v.SetDefault("ARI_PASS", "")
	v.SetDefault("ARI_TIMEOUT", 60)
	v.SetDefault("STASIS_APP_NAME", "dialer")
	v.SetDefault("EXTERNAL_HOST", "")
	v.SetDefault("SIP_HOST", "")

	v.SetDefault("AUDIOSOCKET_HOST", "0.0.0.0")
	v.SetDefault("AUDIOSOCKET_PORT", 7575)
	v.SetDefault("READER_BYTES_LIMIT", 1024)
	v.SetDefault("DRAIN_CHUNK_SIZE", 1024)

	v.SetDefault("REALTIME_URL", "wss://api.openai.com/v1/realtime")
	v.SetDefault("REALTIME_MODEL", "gpt-4o-mini-realtime-preview-2024-12-17")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("INPUT_FORMAT", "g711_alaw")
	v.SetDefault("OUTPUT_FORMAT", "pcm16")
	v.SetDefault("VOICE", "shimmer")
	v.SetDefault("TEMPERATURE", 0.6)
	v.SetDefault("VAD_THRESHOLD", 0.3)
	v.SetDefault("VAD_SILENCE_MS", 500)
	v.SetDefault("VAD_PREFIX_MS", 500)
	v.SetDefault("REALTIME_RECEIVE_TIMEOUT", 60)

	v.SetDefault("DEFAULT_SAMPLE_RATE", 8000)
	v.SetDefault("OPENAI_OUTPUT_RATE", 24000)
	v.SetDefault("INTERRUPT_PAUSE_MS", 500)

	v.SetDefault("AGENT_INSTRUCTIONS", "")
	v.SetDefault("AGENT_GREETING", "")

	v.SetDefault("POSTGRES__HOST", "localhost")
	v.SetDefault("POSTGRES__PORT", 5432)
	v.SetDefault("POSTGRES__DB_NAME", "dialer")
	v.SetDefault("POSTGRES__AUTH__USER", "postgres")
	v.SetDefault("POSTGRES__AUTH__PASSWORD", "postgres")
	v.SetDefault("POSTGRES__MAX_OPEN_CONNECTION", 10)
	v.SetDefault("POSTGRES__MAX_IDEAL_CONNECTION", 5)
	v.SetDefault("POSTGRES__SSL_MODE", "disable")

	v.SetDefault("REDIS__HOST", "")
	v.SetDefault("REDIS__PORT", 6379)
	v.SetDefault("REDIS__PASSWORD", "")
	v.SetDefault("REDIS__DB", 0)
}

// GetApplicationConfig unmarshals and validates the resolved configuration.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return &cfg, nil
}

// HTTPAddr is the control-plane bind address.
func (c *AppConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AudioSocketAddr is the media listener bind address.
func (c *AppConfig) AudioSocketAddr() string {
	return fmt.Sprintf("%s:%d", c.AudiosocketHost, c.AudiosocketPort)
}

// AriBaseURL is the REST root of the Asterisk ARI, e.g. http://pbx:8088/ari.
func (c *AppConfig) AriBaseURL() string {
	return fmt.Sprintf("http://%s/ari", c.AriHost)
}

// AriWebsocketURL is the event stream endpoint for the stasis application.
func (c *AppConfig) AriWebsocketURL() string {
	return fmt.Sprintf(
		"ws://%s/ari/events?app=%s&api_key=%s",
		c.AriHost, url.QueryEscape(c.StasisAppName),
		url.QueryEscape(c.AriUser+":"+c.AriPass),
	)
}

// RealtimeDialURL is the websocket URL of the realtime model, with the
// model pinned as a query parameter.
func (c *AppConfig) RealtimeDialURL() string {
	return fmt.Sprintf("%s?model=%s", c.RealtimeURL, url.QueryEscape(c.RealtimeModel))
}

func (c *AppConfig) AriRequestTimeout() time.Duration {
	return time.Duration(c.AriTimeout) * time.Second
}

func (c *AppConfig) ReceiveTimeout() time.Duration {
	return time.Duration(c.RealtimeReceiveTimeout) * time.Second
}

func (c *AppConfig) InterruptPause() time.Duration {
	return time.Duration(c.InterruptPauseMs) * time.Millisecond
}

func (c *AppConfig) IsDevelopment() bool {
	return c.Environment != "production"
}
