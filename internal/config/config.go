package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Media types a capture backend may negotiate, in default preference order.
const (
	FormatWebmOpus = "audio/webm;codecs=opus"
	FormatOggOpus  = "audio/ogg;codecs=opus"
	FormatWAV      = "audio/wav"
)

// MaxSynthesisChars is the longest text accepted for synthesis.
const MaxSynthesisChars = 500

type Config struct {
	Audio  AudioConfig  `mapstructure:"audio" yaml:"audio"`
	Client ClientConfig `mapstructure:"client" yaml:"client"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	TTS    TTSConfig    `mapstructure:"tts" yaml:"tts"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

type AudioConfig struct {
	Backend          string   `mapstructure:"backend" yaml:"backend"` // "ffmpeg", "portaudio", "auto"
	Device           string   `mapstructure:"device" yaml:"device"`   // backend specific, empty means default input
	SampleRate       int      `mapstructure:"sample_rate" yaml:"sample_rate"`
	Formats          []string `mapstructure:"formats" yaml:"formats"` // preference order
	EchoCancellation bool     `mapstructure:"echo_cancellation" yaml:"echo_cancellation"`
	NoiseSuppression bool     `mapstructure:"noise_suppression" yaml:"noise_suppression"`
}

type ClientConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	TickInterval   time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	ProgressTarget int           `mapstructure:"progress_target" yaml:"progress_target"` // samples for a full progress bar
	AutoPlay       bool          `mapstructure:"auto_play" yaml:"auto_play"`
	Notifications  bool          `mapstructure:"notifications" yaml:"notifications"`
}

type ServerConfig struct {
	Port             string `mapstructure:"port" yaml:"port"`
	DataDir          string `mapstructure:"data_dir" yaml:"data_dir"`
	Environment      string `mapstructure:"environment" yaml:"environment"`
	Debug            bool   `mapstructure:"debug" yaml:"debug"`
	MaxUploadMB      int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	ReferenceSeconds int    `mapstructure:"reference_seconds" yaml:"reference_seconds"`
}

type TTSConfig struct {
	EngineURL string        `mapstructure:"engine_url" yaml:"engine_url"`
	Language  string        `mapstructure:"language" yaml:"language"`
	Device    string        `mapstructure:"device" yaml:"device"` // cpu, cuda or mps, forwarded to the engine
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"` // empty logs to stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

var defaultConfig = Config{
	Audio: AudioConfig{
		Backend:          "auto",
		SampleRate:       16000,
		Formats:          []string{FormatWebmOpus, FormatOggOpus, FormatWAV},
		EchoCancellation: true,
		NoiseSuppression: true,
	},
	Client: ClientConfig{
		BaseURL:        "http://localhost:8000",
		RequestTimeout: 2 * time.Minute,
		PollInterval:   3 * time.Second,
		TickInterval:   100 * time.Millisecond,
		ProgressTarget: 10,
		AutoPlay:       true,
		Notifications:  false,
	},
	Server: ServerConfig{
		Port:             "8000",
		DataDir:          "data",
		Environment:      "development",
		Debug:            true,
		MaxUploadMB:      50,
		ReferenceSeconds: 20,
	},
	TTS: TTSConfig{
		Language: "en",
		Device:   "cpu",
		Timeout:  2 * time.Minute,
	},
	Log: LogConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	cfg.Audio.Formats = append([]string(nil), defaultConfig.Audio.Formats...)
	return &cfg
}

// DefaultPath is used when no --config flag is given.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/voxclone.yaml")
}

// Load reads configFile (if it exists) on top of the defaults, then applies
// VOXCLONE_* environment overrides. A .env file in the working directory is
// loaded first so its values take part in the override.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("VOXCLONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing file is fine: defaults and environment still apply.
	if configFile != "" && fileExists(configFile) {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Server.DataDir = expandPath(cfg.Server.DataDir)
	cfg.Log.File = expandPath(cfg.Log.File)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := defaultConfig

	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("audio.device", d.Audio.Device)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.formats", d.Audio.Formats)
	v.SetDefault("audio.echo_cancellation", d.Audio.EchoCancellation)
	v.SetDefault("audio.noise_suppression", d.Audio.NoiseSuppression)

	v.SetDefault("client.base_url", d.Client.BaseURL)
	v.SetDefault("client.request_timeout", d.Client.RequestTimeout)
	v.SetDefault("client.poll_interval", d.Client.PollInterval)
	v.SetDefault("client.tick_interval", d.Client.TickInterval)
	v.SetDefault("client.progress_target", d.Client.ProgressTarget)
	v.SetDefault("client.auto_play", d.Client.AutoPlay)
	v.SetDefault("client.notifications", d.Client.Notifications)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.environment", d.Server.Environment)
	v.SetDefault("server.debug", d.Server.Debug)
	v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	v.SetDefault("server.reference_seconds", d.Server.ReferenceSeconds)

	v.SetDefault("tts.engine_url", d.TTS.EngineURL)
	v.SetDefault("tts.language", d.TTS.Language)
	v.SetDefault("tts.device", d.TTS.Device)
	v.SetDefault("tts.timeout", d.TTS.Timeout)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
}

// Validate checks the configuration and returns the first problem found.
func Validate(cfg *Config) error {
	if err := validateAudio(&cfg.Audio); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if err := validateClient(&cfg.Client); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if cfg.TTS.EngineURL != "" {
		if _, err := url.ParseRequestURI(cfg.TTS.EngineURL); err != nil {
			return fmt.Errorf("tts: invalid engine_url '%s': %w", cfg.TTS.EngineURL, err)
		}
	}
	return nil
}

func validateAudio(a *AudioConfig) error {
	switch strings.ToLower(a.Backend) {
	case "ffmpeg", "portaudio", "auto":
	default:
		return fmt.Errorf("invalid backend '%s' (valid: ffmpeg, portaudio, auto)", a.Backend)
	}

	if a.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}

	if len(a.Formats) == 0 {
		return fmt.Errorf("formats cannot be empty")
	}
	for i, f := range a.Formats {
		if !IsKnownFormat(f) {
			return fmt.Errorf("formats[%d]: unsupported media type '%s'", i, f)
		}
	}
	return nil
}

func validateClient(c *ClientConfig) error {
	u, err := url.ParseRequestURI(c.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid base_url '%s'", c.BaseURL)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.ProgressTarget <= 0 {
		return fmt.Errorf("progress_target must be positive, got %d", c.ProgressTarget)
	}
	return nil
}

func validateServer(s *ServerConfig) error {
	if s.Port == "" {
		return fmt.Errorf("port is required")
	}
	if s.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if s.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", s.MaxUploadMB)
	}
	if s.ReferenceSeconds <= 0 {
		return fmt.Errorf("reference_seconds must be positive, got %d", s.ReferenceSeconds)
	}
	return nil
}

// IsKnownFormat reports whether mediaType is one of the negotiable formats.
func IsKnownFormat(mediaType string) bool {
	switch mediaType {
	case FormatWebmOpus, FormatOggOpus, FormatWAV:
		return true
	}
	return false
}

// AudioDir holds converted uploaded samples.
func (s ServerConfig) AudioDir() string {
	return filepath.Join(s.DataDir, "audio")
}

// ModelDir holds the reference audio produced by training.
func (s ServerConfig) ModelDir() string {
	return filepath.Join(s.DataDir, "model")
}

// StatusFile is the persisted training status.
func (s ServerConfig) StatusFile() string {
	return filepath.Join(s.DataDir, "training_status.json")
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
