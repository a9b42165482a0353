package resampler

import (
	"fmt"
	"math"
	"sync"

	"github.com/xaionaro-go/denoise/pkg/audio"

	resampling "github.com/tphakala/go-audio-resampling"
)

type ratePair struct {
	In  audio.SampleRate
	Out audio.SampleRate
}

// delays caches the filter delay (in output samples) per ratePair.
var delays sync.Map

// Resample converts a mono track to another sample rate. The result
// is aligned with the input (the filter delay is removed) and fitted
// to the length the new rate implies, so that the duration of the track
// is preserved exactly.
func Resample(
	samples audio.Samples,
	outRate audio.SampleRate,
) (audio.Samples, error) {
	if samples.SampleRate == 0 || outRate == 0 {
		return audio.Samples{}, fmt.Errorf("sample rates must be positive: %d -> %d", samples.SampleRate, outRate)
	}
	if samples.SampleRate == outRate || len(samples.Data) == 0 {
		data := make([]float32, len(samples.Data))
		copy(data, samples.Data)
		return audio.Samples{Data: data, SampleRate: outRate}, nil
	}

	delay, err := filterDelay(samples.SampleRate, outRate)
	if err != nil {
		return audio.Samples{}, err
	}

	// the zeros push the delayed tail of the track out of the filter
	padding := int(math.Ceil(float64(delay+1)*float64(samples.SampleRate)/float64(outRate))) + int(samples.SampleRate/100)
	input := make([]float64, len(samples.Data)+padding)
	for idx, v := range samples.Data {
		input[idx] = float64(v)
	}

	output, err := resample(input, samples.SampleRate, outRate)
	if err != nil {
		return audio.Samples{}, err
	}

	expectedLen := int(uint64(len(samples.Data)) * uint64(outRate) / uint64(samples.SampleRate))
	data := make([]float32, expectedLen)
	for idx := range data {
		if delay+idx >= len(output) {
			break
		}
		data[idx] = float32(output[delay+idx])
	}
	return audio.Samples{Data: data, SampleRate: outRate}, nil
}

func resample(
	input []float64,
	inRate audio.SampleRate,
	outRate audio.SampleRate,
) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(inRate),
		OutputRate: float64(outRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a resampler from %d to %d: %w", inRate, outRate, err)
	}

	output, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("unable to resample: %w", err)
	}
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("unable to flush the resampler: %w", err)
	}
	return append(output, tail...), nil
}

// filterDelay returns how many output samples the resampler lags behind
// the input. It is measured as the position of the response to an
// impulse at the very first input sample.
func filterDelay(
	inRate audio.SampleRate,
	outRate audio.SampleRate,
) (int, error) {
	key := ratePair{In: inRate, Out: outRate}
	if v, ok := delays.Load(key); ok {
		return v.(int), nil
	}

	impulse := make([]float64, inRate)
	impulse[0] = 1
	response, err := resample(impulse, inRate, outRate)
	if err != nil {
		return 0, fmt.Errorf("unable to measure the delay of %d -> %d: %w", inRate, outRate, err)
	}
	if len(response) == 0 {
		return 0, fmt.Errorf("no response of the resampler %d -> %d", inRate, outRate)
	}

	delay := 0
	for idx, v := range response {
		if math.Abs(v) > math.Abs(response[delay]) {
			delay = idx
		}
	}
	delays.Store(key, delay)
	return delay, nil
}

// FitLength returns a copy of the samples truncated or zero-padded to
// exactly the given length.
func FitLength(data []float32, length int) []float32 {
	result := make([]float32, length)
	copy(result, data)
	return result
}
