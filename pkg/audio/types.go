package audio

import (
	"fmt"
	"strings"
	"time"
)

type SampleRate uint32

type Channel uint32

type PCMFormat int

const (
	PCMFormatUndefined = PCMFormat(iota)
	PCMFormatU8
	PCMFormatS16LE
	PCMFormatS16BE
	PCMFormatS24LE
	PCMFormatS24BE
	PCMFormatS32LE
	PCMFormatS32BE
	PCMFormatS64LE
	PCMFormatS64BE
	PCMFormatFloat32LE
	PCMFormatFloat32BE
	PCMFormatFloat64LE
	PCMFormatFloat64BE
	endOfPCMFormat
)

// Size returns the size of a single sample of a single channel, in bytes.
func (f PCMFormat) Size() uint {
	switch f {
	case PCMFormatU8:
		return 1
	case PCMFormatS16LE, PCMFormatS16BE:
		return 2
	case PCMFormatS24LE, PCMFormatS24BE:
		return 3
	case PCMFormatS32LE, PCMFormatS32BE, PCMFormatFloat32LE, PCMFormatFloat32BE:
		return 4
	case PCMFormatS64LE, PCMFormatS64BE, PCMFormatFloat64LE, PCMFormatFloat64BE:
		return 8
	}
	return 0
}

func (f PCMFormat) String() string {
	switch f {
	case PCMFormatUndefined:
		return "undefined"
	case PCMFormatU8:
		return "u8"
	case PCMFormatS16LE:
		return "s16le"
	case PCMFormatS16BE:
		return "s16be"
	case PCMFormatS24LE:
		return "s24le"
	case PCMFormatS24BE:
		return "s24be"
	case PCMFormatS32LE:
		return "s32le"
	case PCMFormatS32BE:
		return "s32be"
	case PCMFormatS64LE:
		return "s64le"
	case PCMFormatS64BE:
		return "s64be"
	case PCMFormatFloat32LE:
		return "f32le"
	case PCMFormatFloat32BE:
		return "f32be"
	case PCMFormatFloat64LE:
		return "f64le"
	case PCMFormatFloat64BE:
		return "f64be"
	}
	return fmt.Sprintf("unknown_format_%d", int(f))
}

func ParsePCMFormat(s string) (PCMFormat, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f := PCMFormatU8; f < endOfPCMFormat; f++ {
		if f.String() == s {
			return f, nil
		}
	}
	return PCMFormatUndefined, fmt.Errorf("unknown PCM format '%s'", s)
}

// Set implements pflag.Value.
func (f *PCMFormat) Set(s string) error {
	v, err := ParsePCMFormat(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Type implements pflag.Value.
func (*PCMFormat) Type() string {
	return "pcm-format"
}

// Samples is a mono track of float samples in range [-1, 1].
type Samples struct {
	Data       []float32
	SampleRate SampleRate
}

func (s Samples) Len() int {
	return len(s.Data)
}

func (s Samples) Duration() time.Duration {
	if s.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(s.Data)) * time.Second / time.Duration(s.SampleRate)
}

// SamplesForDuration returns how many samples of a single channel fit into
// the given duration at the given sample rate.
func SamplesForDuration(sampleRate SampleRate, d time.Duration) int {
	return int(uint64(sampleRate) * uint64(d) / uint64(time.Second))
}
