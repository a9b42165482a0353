package audioinput

import (
	"time"

	"github.com/xaionaro-go/denoise/pkg/audio"
)

const (
	DefaultSampleRate = audio.SampleRate(48000)
	DefaultPCMFormat  = audio.PCMFormatFloat32LE
	DefaultDuration   = 5000 * time.Millisecond
	DefaultFrameSize  = 4096
)

type Options struct {
	// SampleRate is the sample rate of raw buffers and sample arrays.
	// For decoded files and live streams a non-zero value different
	// from the native rate makes the audio resampled to it.
	SampleRate audio.SampleRate

	// PCMFormat and Channels describe raw buffers.
	PCMFormat audio.PCMFormat
	Channels  audio.Channel

	// Duration is how long to capture a live stream.
	Duration time.Duration

	// FrameSize is the amount of samples per channel in a captured frame.
	FrameSize int
}

func (opts Options) sampleRate() audio.SampleRate {
	if opts.SampleRate == 0 {
		return DefaultSampleRate
	}
	return opts.SampleRate
}

func (opts Options) pcmFormat() audio.PCMFormat {
	if opts.PCMFormat == audio.PCMFormatUndefined {
		return DefaultPCMFormat
	}
	return opts.PCMFormat
}

func (opts Options) channels() audio.Channel {
	if opts.Channels == 0 {
		return 1
	}
	return opts.Channels
}

func (opts Options) duration() time.Duration {
	if opts.Duration <= 0 {
		return DefaultDuration
	}
	return opts.Duration
}

func (opts Options) frameSize() int {
	if opts.FrameSize <= 0 {
		return DefaultFrameSize
	}
	return opts.FrameSize
}
