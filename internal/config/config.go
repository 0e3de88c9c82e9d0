package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`

	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	MaxSessions         int           `mapstructure:"max_sessions"`
	MaxInflightRequests int           `mapstructure:"max_inflight_requests"`
	ConsumePolicy       string        `mapstructure:"consume_policy"`
	AllowedOrigins      []string      `mapstructure:"allowed_origins"`

	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Log         LogConfig       `mapstructure:"log"`
	RTC         RTCConfig       `mapstructure:"rtc"`
	MediaCodecs []CodecConfig   `mapstructure:"media_codecs"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // console | json
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxAge     int    `mapstructure:"max_age"`  // days
	MaxBackups int    `mapstructure:"max_backups"`
}

// RTCConfig is the listen configuration handed to the routing engine.
type RTCConfig struct {
	ListenIP      string        `mapstructure:"listen_ip"`
	AnnouncedIP   string        `mapstructure:"announced_ip"`
	UDPPortMin    uint16        `mapstructure:"udp_port_min"`
	UDPPortMax    uint16        `mapstructure:"udp_port_max"`
	EnableUDP     bool          `mapstructure:"enable_udp"`
	EnableTCP     bool          `mapstructure:"enable_tcp"`
	PreferUDP     bool          `mapstructure:"prefer_udp"`
	TCPPort       int           `mapstructure:"tcp_port"`
	GatherTimeout time.Duration `mapstructure:"gather_timeout"`
}

type CodecConfig struct {
	Kind       string         `mapstructure:"kind"`
	MimeType   string         `mapstructure:"mime_type"`
	ClockRate  uint32         `mapstructure:"clock_rate"`
	Channels   uint8          `mapstructure:"channels"`
	Parameters map[string]any `mapstructure:"parameters"`
}

func DefaultMediaCodecs() []CodecConfig {
	return []CodecConfig{
		{Kind: "audio", MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		{Kind: "video", MimeType: webrtc.MimeTypeVP8, ClockRate: 90000, Parameters: map[string]any{"x-google-start-bitrate": 1000}},
	}
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load for an explicit path. A missing file is not an error.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.MediaCodecs) == 0 {
		cfg.MediaCodecs = DefaultMediaCodecs()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Uint16("udp_min", cfg.RTC.UDPPortMin).
		Uint16("udp_max", cfg.RTC.UDPPortMax).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 3000)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("max_sessions", 0)
	v.SetDefault("max_inflight_requests", 8)
	v.SetDefault("consume_policy", "open")
	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("rate_limit.rps", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_age", 7)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("rtc.listen_ip", "0.0.0.0")
	v.SetDefault("rtc.announced_ip", "")
	v.SetDefault("rtc.udp_port_min", 10000)
	v.SetDefault("rtc.udp_port_max", 10100)
	v.SetDefault("rtc.enable_udp", true)
	v.SetDefault("rtc.enable_tcp", true)
	v.SetDefault("rtc.prefer_udp", true)
	v.SetDefault("rtc.tcp_port", 0)
	v.SetDefault("rtc.gather_timeout", "3s")
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.RTC.UDPPortMin == 0 || c.RTC.UDPPortMax < c.RTC.UDPPortMin {
		return fmt.Errorf("config: invalid rtc udp port range %d-%d", c.RTC.UDPPortMin, c.RTC.UDPPortMax)
	}
	if !c.RTC.EnableUDP && !c.RTC.EnableTCP {
		return fmt.Errorf("config: rtc needs udp or tcp enabled")
	}
	switch c.ConsumePolicy {
	case "open", "no_self":
	default:
		return fmt.Errorf("config: unknown consume_policy %q", c.ConsumePolicy)
	}
	for i, mc := range c.MediaCodecs {
		if mc.Kind != "audio" && mc.Kind != "video" {
			return fmt.Errorf("config: media_codecs[%d]: bad kind %q", i, mc.Kind)
		}
		if mc.MimeType == "" || mc.ClockRate == 0 {
			return fmt.Errorf("config: media_codecs[%d]: mime_type and clock_rate required", i)
		}
	}
	return nil
}
