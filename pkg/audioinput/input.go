// Package audioinput converts the supported kinds of input into a
// single mono track of float samples.
package audioinput

import (
	"context"
	"fmt"
	"io"
	"reflect"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audio/pcm"
	"github.com/xaionaro-go/denoise/pkg/audio/resampler"
	"github.com/xaionaro-go/denoise/pkg/capture"
)

// Blob is an audio file in memory, like an uploaded file.
type Blob struct {
	Name        string
	ContentType string
	Data        []byte
}

// Normalize accepts:
//   - []byte: raw PCM described by Options (float32 LE mono by default);
//   - []float32, audio.Samples, *audio.Samples: a sample array;
//   - Blob, *Blob, io.Reader: a container file (WAV, Ogg Vorbis);
//   - capture.Stream: a live stream, captured for Options.Duration.
func Normalize(
	ctx context.Context,
	input any,
	opts Options,
) (_ret audio.Samples, _err error) {
	logger.Tracef(ctx, "Normalize: %T", input)
	defer func() {
		logger.Tracef(ctx, "/Normalize: %T: len:%d rate:%d %v", input, len(_ret.Data), _ret.SampleRate, _err)
	}()

	if isNil(input) {
		return audio.Samples{}, ErrInvalidInput
	}

	var (
		samples  audio.Samples
		err      error
		resample bool
	)
	switch in := input.(type) {
	case []byte:
		samples, err = fromRawBuffer(in, opts)
	case []float32:
		samples = fromSampleArray(audio.Samples{Data: in}, opts)
	case audio.Samples:
		samples = fromSampleArray(in, opts)
	case *audio.Samples:
		samples = fromSampleArray(*in, opts)
	case Blob:
		samples, err = DecodeFile(ctx, in)
		resample = true
	case *Blob:
		samples, err = DecodeFile(ctx, *in)
		resample = true
	case capture.Stream:
		samples, err = CaptureStream(ctx, in, opts)
		resample = true
	case io.Reader:
		samples, err = fromReader(ctx, in)
		resample = true
	default:
		return audio.Samples{}, fmt.Errorf("%w: %T", ErrUnsupportedInputType, input)
	}
	if err != nil {
		return audio.Samples{}, err
	}

	if len(samples.Data) == 0 {
		return audio.Samples{}, ErrEmptyAudio
	}

	if resample && opts.SampleRate != 0 && opts.SampleRate != samples.SampleRate {
		logger.Debugf(ctx, "resampling %dHz -> %dHz", samples.SampleRate, opts.SampleRate)
		samples, err = resampler.Resample(samples, opts.SampleRate)
		if err != nil {
			return audio.Samples{}, fmt.Errorf("unable to resample %dHz to %dHz: %w", samples.SampleRate, opts.SampleRate, err)
		}
	}

	return samples, nil
}

func isNil(input any) bool {
	if input == nil {
		return true
	}
	v := reflect.ValueOf(input)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

func fromRawBuffer(data []byte, opts Options) (audio.Samples, error) {
	samples, err := pcm.DecodeMono(opts.pcmFormat(), opts.channels(), data)
	if err != nil {
		return audio.Samples{}, fmt.Errorf("%w: unable to interpret the raw buffer as %s: %w", ErrInvalidInput, opts.pcmFormat(), err)
	}
	return audio.Samples{
		Data:       samples,
		SampleRate: opts.sampleRate(),
	}, nil
}

func fromSampleArray(in audio.Samples, opts Options) audio.Samples {
	data := make([]float32, len(in.Data))
	copy(data, in.Data)
	sampleRate := in.SampleRate
	if opts.SampleRate != 0 || sampleRate == 0 {
		sampleRate = opts.sampleRate()
	}
	return audio.Samples{
		Data:       data,
		SampleRate: sampleRate,
	}
}

func fromReader(ctx context.Context, r io.Reader) (audio.Samples, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return audio.Samples{}, fmt.Errorf("unable to read the file: %w", err)
	}
	blob := Blob{Data: data}
	if named, ok := r.(interface{ Name() string }); ok {
		blob.Name = named.Name()
	}
	return DecodeFile(ctx, blob)
}
