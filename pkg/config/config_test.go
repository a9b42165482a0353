package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/denoise/pkg/audiooutput"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
listen: ":9000"
max_concurrent: 2
output: samples
microphone:
  enabled: true
  auto_stop: 10s
stream:
  default_duration: 2500ms
`))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, 2, cfg.MaxConcurrent)
	require.Equal(t, audiooutput.FormatSamples, cfg.OutputFormat())
	require.True(t, cfg.Microphone.Enabled)
	require.Equal(t, 10*time.Second, cfg.Microphone.AutoStop)
	require.Equal(t, 2500*time.Millisecond, cfg.Stream.DefaultDuration)

	// untouched values keep the defaults
	def := Default()
	require.Equal(t, def.MaxUploadSize, cfg.MaxUploadSize)
	require.Equal(t, def.Microphone.SampleRate, cfg.Microphone.SampleRate)
	require.Equal(t, def.Stream.MaxDuration, cfg.Stream.MaxDuration)
}

func TestParseInvalid(t *testing.T) {
	for name, data := range map[string]string{
		"syntax":      "listen: [",
		"concurrency": "max_concurrent: 0",
		"output":      "output: mp3",
		"durations":   "stream: {default_duration: 1h, max_duration: 1m}",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			require.Error(t, err)
		})
	}
}

func TestLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Listen = ":1234"
	cfg.Microphone.Enabled = true
	b, err := cfg.Bytes()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "denoise.yaml")
	require.NoError(t, os.WriteFile(path, b, 0644))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}
