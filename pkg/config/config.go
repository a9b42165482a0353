package config

import (
	"fmt"
	"os"
	"time"

	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audiooutput"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen        string `yaml:"listen"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	MaxUploadSize int64  `yaml:"max_upload_size"`

	// ModelPath is a custom model of the engine; the built-in one is used if empty.
	ModelPath string `yaml:"model_path"`

	// Output is the output format used when a request does not specify one.
	Output string `yaml:"output"`

	Microphone MicrophoneConfig `yaml:"microphone"`
	Stream     StreamConfig     `yaml:"stream"`
}

type MicrophoneConfig struct {
	Enabled    bool             `yaml:"enabled"`
	SampleRate audio.SampleRate `yaml:"sample_rate"`
	Channels   audio.Channel    `yaml:"channels"`
	FrameSize  int              `yaml:"frame_size"`
	AutoStop   time.Duration    `yaml:"auto_stop"`
}

type StreamConfig struct {
	DefaultDuration time.Duration `yaml:"default_duration"`
	MaxDuration     time.Duration `yaml:"max_duration"`
	FrameSize       int           `yaml:"frame_size"`
}

func Default() Config {
	return Config{
		Listen:        "127.0.0.1:8080",
		MaxConcurrent: 16,
		MaxUploadSize: 64 << 20,
		Output:        audiooutput.FormatFile.String(),
		Microphone: MicrophoneConfig{
			Enabled:    false,
			SampleRate: 48000,
			Channels:   1,
			FrameSize:  4096,
			AutoStop:   30 * time.Second,
		},
		Stream: StreamConfig{
			DefaultDuration: 5 * time.Second,
			MaxDuration:     5 * time.Minute,
			FrameSize:       4096,
		},
	}
}

// Parse reads the YAML config on top of the default values.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unable to parse the config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read the config '%s': %w", path, err)
	}
	return Parse(data)
}

func (cfg Config) Validate() error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen address is not set")
	}
	if cfg.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", cfg.MaxConcurrent)
	}
	if cfg.MaxUploadSize <= 0 {
		return fmt.Errorf("max_upload_size must be positive, got %d", cfg.MaxUploadSize)
	}
	if _, err := audiooutput.ParseFormat(cfg.Output); err != nil {
		return err
	}
	if cfg.Microphone.SampleRate == 0 {
		return fmt.Errorf("microphone.sample_rate must be positive")
	}
	if cfg.Stream.MaxDuration > 0 && cfg.Stream.DefaultDuration > cfg.Stream.MaxDuration {
		return fmt.Errorf("stream.default_duration (%v) exceeds stream.max_duration (%v)", cfg.Stream.DefaultDuration, cfg.Stream.MaxDuration)
	}
	return nil
}

func (cfg Config) OutputFormat() audiooutput.Format {
	f, err := audiooutput.ParseFormat(cfg.Output)
	if err != nil {
		return audiooutput.FormatFile
	}
	return f
}

func (cfg Config) Bytes() ([]byte, error) {
	return yaml.Marshal(cfg)
}
