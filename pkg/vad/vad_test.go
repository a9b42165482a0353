package vad

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/engine"
)

// loudnessEngine reports a frame as voice if anything in it is louder than 0.1.
type loudnessEngine struct {
	engine.Dummy
}

func (e *loudnessEngine) NewState(context.Context) (engine.State, error) {
	return loudnessState{}, nil
}

type loudnessState struct{}

func (loudnessState) Close() error { return nil }

func (loudnessState) ProcessFrame(_ context.Context, input []float32, output []float32) (float64, error) {
	copy(output, input)
	for _, v := range input {
		if v > 0.1 || v < -0.1 {
			return 1, nil
		}
	}
	return 0, nil
}

func track(silence, voice time.Duration) audio.Samples {
	data := make([]float32, audio.SamplesForDuration(48000, silence+voice))
	for idx := audio.SamplesForDuration(48000, silence); idx < len(data); idx++ {
		data[idx] = 0.5
	}
	return audio.Samples{Data: data, SampleRate: 48000}
}

func TestFindNextVoice(t *testing.T) {
	ctx := context.Background()
	e := &loudnessEngine{Dummy: *engine.NewDummy(48000, 480)}

	d, err := NewDetector(ctx, e, 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 960, d.ChunkSize)
	require.Equal(t, 20*time.Millisecond, d.ChunkDuration)

	t.Run("Voice", func(t *testing.T) {
		confidence, firstVoice, err := d.FindNextVoice(ctx, track(100*time.Millisecond, 100*time.Millisecond), 0.5, 40*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, 1.0, confidence)
		assert.Equal(t, 100*time.Millisecond, firstVoice)
	})

	t.Run("Silence", func(t *testing.T) {
		confidence, firstVoice, err := d.FindNextVoice(ctx, track(200*time.Millisecond, 0), 0.5, 40*time.Millisecond)
		require.NoError(t, err)
		assert.Zero(t, confidence)
		assert.Negative(t, firstVoice)
	})

	t.Run("Empty", func(t *testing.T) {
		_, firstVoice, err := d.FindNextVoice(ctx, audio.Samples{SampleRate: 48000}, 0.5, 0)
		require.NoError(t, err)
		assert.Negative(t, firstVoice)
	})

	t.Run("Resampled", func(t *testing.T) {
		in := track(100*time.Millisecond, 100*time.Millisecond)
		in16k := audio.Samples{SampleRate: 16000}
		for idx := 0; idx < len(in.Data); idx += 3 {
			in16k.Data = append(in16k.Data, in.Data[idx])
		}
		_, firstVoice, err := d.FindNextVoice(ctx, in16k, 0.5, 40*time.Millisecond)
		require.NoError(t, err)
		assert.InDelta(t, float64(100*time.Millisecond), float64(firstVoice), float64(20*time.Millisecond))
	})
}

func TestNewDetectorMinimalChunk(t *testing.T) {
	d, err := NewDetector(context.Background(), engine.NewDummy(48000, 480), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 480, d.ChunkSize)
}
