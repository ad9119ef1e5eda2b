package bootstrap

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerAddr  string   `yaml:"server_addr"`
	GRPCAddr    string   `yaml:"grpc_addr"`
	LogLevel    string   `yaml:"log_level"`
	LogFormat   string   `yaml:"log_format"`
	CORSOrigins []string `yaml:"cors_origins"`

	VoiceServerURL string `yaml:"voice_server_url"`
	EventsChannel  bool   `yaml:"events_channel"`
	AutoStart      bool   `yaml:"auto_start"`

	AuthToken         string   `yaml:"auth_token"`
	OAuthTokenURL     string   `yaml:"oauth_token_url"`
	OAuthClientID     string   `yaml:"oauth_client_id"`
	OAuthClientSecret string   `yaml:"oauth_client_secret"`
	OAuthScopes       []string `yaml:"oauth_scopes"`

	InputRate       int           `yaml:"input_rate"`
	OutputRate      int           `yaml:"output_rate"`
	WireRate        int           `yaml:"wire_rate"`
	ServerRate      int           `yaml:"server_rate"`
	FramesPerBuffer int           `yaml:"frames_per_buffer"`
	FadeSec         float64       `yaml:"fade_sec"`
	CaptureTick     time.Duration `yaml:"capture_tick"`
	CaptureMaxChunk int           `yaml:"capture_max_chunk"`
	StartMuted      bool          `yaml:"start_muted"`

	PlaybackSlots       int           `yaml:"playback_slots"`
	PlaybackMaxBuffered time.Duration `yaml:"playback_max_buffered"`
	SendQueue           int           `yaml:"send_queue"`
	ImageChunkSize      int           `yaml:"image_chunk_size"`

	DatabaseDSN string `yaml:"database_dsn"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

func defaultConfig() *Config {
	return &Config{
		ServerAddr:  ":8090",
		GRPCAddr:    ":50061",
		LogLevel:    "info",
		LogFormat:   "json",
		CORSOrigins: []string{"*"},

		VoiceServerURL: "ws://localhost:8000/ws",
		EventsChannel:  true,
		AutoStart:      true,

		InputRate:       24000,
		OutputRate:      24000,
		ServerRate:      24000,
		FadeSec:         0.02,
		CaptureTick:     30 * time.Millisecond,
		CaptureMaxChunk: 4096,

		PlaybackSlots:       1024,
		PlaybackMaxBuffered: 30 * time.Second,
		SendQueue:           64,
		ImageChunkSize:      60000,

		DatabaseDSN: "voice-client.db",
	}
}

// LoadConfig starts from defaults, overlays the YAML file named by
// VOICE_CLIENT_CONFIG if set, then applies environment overrides.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("VOICE_CLIENT_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServerAddr = getEnv("SERVER_ADDR", c.ServerAddr)
	c.GRPCAddr = getEnv("GRPC_ADDR", c.GRPCAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		c.CORSOrigins = splitList(origins)
	}

	c.VoiceServerURL = getEnv("VOICE_SERVER_URL", c.VoiceServerURL)
	c.EventsChannel = getEnvBool("EVENTS_CHANNEL", c.EventsChannel)
	c.AutoStart = getEnvBool("AUTO_START", c.AutoStart)

	c.AuthToken = getEnv("AUTH_TOKEN", c.AuthToken)
	c.OAuthTokenURL = getEnv("OAUTH_TOKEN_URL", c.OAuthTokenURL)
	c.OAuthClientID = getEnv("OAUTH_CLIENT_ID", c.OAuthClientID)
	c.OAuthClientSecret = getEnv("OAUTH_CLIENT_SECRET", c.OAuthClientSecret)
	if scopes := getEnv("OAUTH_SCOPES", ""); scopes != "" {
		c.OAuthScopes = splitList(scopes)
	}

	c.InputRate = getEnvInt("INPUT_RATE", c.InputRate)
	c.OutputRate = getEnvInt("OUTPUT_RATE", c.OutputRate)
	c.WireRate = getEnvInt("WIRE_RATE", c.WireRate)
	c.ServerRate = getEnvInt("SERVER_RATE", c.ServerRate)
	c.FramesPerBuffer = getEnvInt("FRAMES_PER_BUFFER", c.FramesPerBuffer)
	c.FadeSec = getEnvFloat("PLAYBACK_FADE_SEC", c.FadeSec)
	c.CaptureTick = getEnvDuration("CAPTURE_TICK", c.CaptureTick)
	c.CaptureMaxChunk = getEnvInt("CAPTURE_MAX_CHUNK", c.CaptureMaxChunk)
	c.StartMuted = getEnvBool("START_MUTED", c.StartMuted)

	c.PlaybackSlots = getEnvInt("PLAYBACK_SLOTS", c.PlaybackSlots)
	c.PlaybackMaxBuffered = getEnvDuration("PLAYBACK_MAX_BUFFERED", c.PlaybackMaxBuffered)
	c.SendQueue = getEnvInt("SEND_QUEUE", c.SendQueue)
	c.ImageChunkSize = getEnvInt("IMAGE_CHUNK_SIZE", c.ImageChunkSize)

	c.DatabaseDSN = getEnv("DATABASE_DSN", c.DatabaseDSN)

	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
}

func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.VoiceServerURL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("voice_server_url: %w", err))
	case u.Scheme != "ws" && u.Scheme != "wss":
		errs = append(errs, fmt.Errorf("voice_server_url: scheme must be ws or wss, got %q", u.Scheme))
	case u.Host == "":
		errs = append(errs, errors.New("voice_server_url: missing host"))
	}

	if c.InputRate <= 0 || c.OutputRate <= 0 {
		errs = append(errs, errors.New("input_rate and output_rate must be positive"))
	}
	if c.WireRate < 0 {
		errs = append(errs, errors.New("wire_rate must not be negative"))
	}
	if c.ServerRate < 0 {
		errs = append(errs, errors.New("server_rate must not be negative"))
	}
	if c.FadeSec < 0 || c.FadeSec > 1 {
		errs = append(errs, fmt.Errorf("fade_sec must be within [0, 1], got %v", c.FadeSec))
	}
	if c.CaptureTick <= 0 {
		errs = append(errs, errors.New("capture_tick must be positive"))
	}
	if c.CaptureMaxChunk <= 0 {
		errs = append(errs, errors.New("capture_max_chunk must be positive"))
	}
	if c.PlaybackSlots <= 0 || c.PlaybackMaxBuffered <= 0 {
		errs = append(errs, errors.New("playback_slots and playback_max_buffered must be positive"))
	}
	if c.ImageChunkSize <= 0 {
		errs = append(errs, errors.New("image_chunk_size must be positive"))
	}
	if c.OAuthTokenURL != "" && c.OAuthClientID == "" {
		errs = append(errs, errors.New("oauth_client_id is required with oauth_token_url"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
