package engine

import (
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audio/resampler"
)

// Process suppresses noise in a whole mono track using a fresh state.
//
// The track is converted to the sample rate of the engine, processed
// frame by frame (the last frame is zero-padded) and converted back,
// so the result has exactly the same length and rate as the input.
// The maximal voice probability among the frames is returned as well.
func Process(
	ctx context.Context,
	e Engine,
	samples audio.Samples,
) (_ret audio.Samples, _vad float64, _err error) {
	logger.Tracef(ctx, "Process, len:%d, rate:%d", len(samples.Data), samples.SampleRate)
	defer func() { logger.Tracef(ctx, "/Process, len:%d: %v", len(samples.Data), _err) }()

	frameSize := e.FrameSize()
	if frameSize <= 0 {
		return audio.Samples{}, 0, fmt.Errorf("invalid frame size of the engine: %d", frameSize)
	}

	input, err := resampler.Resample(samples, e.SampleRate())
	if err != nil {
		return audio.Samples{}, 0, fmt.Errorf("unable to convert %dHz to %dHz: %w", samples.SampleRate, e.SampleRate(), err)
	}

	state, err := e.NewState(ctx)
	if err != nil {
		return audio.Samples{}, 0, fmt.Errorf("unable to create a noise suppression state: %w", err)
	}
	defer state.Close()

	output := make([]float32, 0, len(input.Data))
	inFrame := make([]float32, frameSize)
	outFrame := make([]float32, frameSize)
	var maxVADProb float64
	for data := input.Data; len(data) > 0; {
		chunk := data
		if len(chunk) > frameSize {
			chunk = chunk[:frameSize]
		}
		data = data[len(chunk):]

		for idx := copy(inFrame, chunk); idx < frameSize; idx++ {
			inFrame[idx] = 0
		}
		vadProb, err := state.ProcessFrame(ctx, inFrame, outFrame)
		if err != nil {
			return audio.Samples{}, 0, fmt.Errorf("unable to process a frame: %w", err)
		}
		if vadProb > maxVADProb {
			maxVADProb = vadProb
		}
		output = append(output, outFrame[:len(chunk)]...)
	}
	logger.Debugf(ctx, "processed %d samples at %dHz, max voice probability: %f", len(output), e.SampleRate(), maxVADProb)

	result, err := resampler.Resample(audio.Samples{Data: output, SampleRate: e.SampleRate()}, samples.SampleRate)
	if err != nil {
		return audio.Samples{}, 0, fmt.Errorf("unable to convert %dHz back to %dHz: %w", e.SampleRate(), samples.SampleRate, err)
	}
	result.Data = resampler.FitLength(result.Data, len(samples.Data))
	return result, maxVADProb, nil
}
