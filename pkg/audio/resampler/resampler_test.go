package resampler

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/denoise/pkg/audio"
)

func sine(freq float64, rate audio.SampleRate, count int) []float32 {
	result := make([]float32, count)
	for idx := range result {
		result[idx] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(idx)/float64(rate)))
	}
	return result
}

func peak(data []float32) int {
	result := 0
	for idx, v := range data {
		if math.Abs(float64(v)) > math.Abs(float64(data[result])) {
			result = idx
		}
	}
	return result
}

func maxAbs(data []float32) float32 {
	var result float32
	for _, v := range data {
		if v < 0 {
			v = -v
		}
		if v > result {
			result = v
		}
	}
	return result
}

func TestResample(t *testing.T) {
	t.Run("Identity", func(t *testing.T) {
		in := audio.Samples{Data: []float32{0.1, 0.2, 0.3}, SampleRate: 48000}
		out, err := Resample(in, 48000)
		require.NoError(t, err)
		assert.Equal(t, in, out)

		out.Data[0] = 1
		assert.Equal(t, float32(0.1), in.Data[0])
	})

	t.Run("Upsample_16000_to_48000", func(t *testing.T) {
		in := audio.Samples{Data: sine(440, 16000, 1600), SampleRate: 16000}
		out, err := Resample(in, 48000)
		require.NoError(t, err)
		assert.Equal(t, audio.SampleRate(48000), out.SampleRate)
		assert.Len(t, out.Data, 4800)
		assert.Equal(t, in.Duration(), out.Duration())
	})

	t.Run("Downsample_44100_to_22050", func(t *testing.T) {
		in := audio.Samples{Data: sine(440, 44100, 4410), SampleRate: 44100}
		out, err := Resample(in, 22050)
		require.NoError(t, err)
		assert.Len(t, out.Data, 2205)
	})

	t.Run("ImpulseKeepsItsPosition", func(t *testing.T) {
		for _, tc := range []struct {
			inRate  audio.SampleRate
			outRate audio.SampleRate
			inPos   int
			outPos  int
		}{
			{16000, 48000, 800, 2400},
			{48000, 16000, 2400, 800},
			{44100, 22050, 2000, 1000},
			{44100, 48000, 4410, 4800},
			{48000, 44100, 4800, 4410},
		} {
			t.Run(fmt.Sprintf("%d_to_%d", tc.inRate, tc.outRate), func(t *testing.T) {
				in := audio.Samples{Data: make([]float32, int(tc.inRate)/5), SampleRate: tc.inRate}
				in.Data[tc.inPos] = 1
				out, err := Resample(in, tc.outRate)
				require.NoError(t, err)
				assert.InDelta(t, tc.outPos, peak(out.Data), 1)
			})
		}
	})

	t.Run("SineIsAligned", func(t *testing.T) {
		for _, tc := range []struct {
			inRate  audio.SampleRate
			outRate audio.SampleRate
		}{
			{16000, 48000},
			{48000, 16000},
			{44100, 48000},
		} {
			t.Run(fmt.Sprintf("%d_to_%d", tc.inRate, tc.outRate), func(t *testing.T) {
				in := audio.Samples{Data: sine(440, tc.inRate, int(tc.inRate)/10), SampleRate: tc.inRate}
				out, err := Resample(in, tc.outRate)
				require.NoError(t, err)
				expected := sine(440, tc.outRate, int(tc.outRate)/10)
				require.Len(t, out.Data, len(expected))

				edge := int(tc.outRate) / 100
				for idx := edge; idx < len(expected)-edge; idx++ {
					require.InDelta(t, expected[idx], out.Data[idx], 0.05, "sample %d", idx)
				}
				assert.Greater(t, maxAbs(out.Data[len(out.Data)-100:]), float32(0.1), "the tail is silent")
			})
		}
	})

	t.Run("ZeroRate", func(t *testing.T) {
		_, err := Resample(audio.Samples{Data: []float32{1}}, 48000)
		require.Error(t, err)
	})
}

func TestFitLength(t *testing.T) {
	assert.Equal(t, []float32{1, 2}, FitLength([]float32{1, 2, 3}, 2))
	assert.Equal(t, []float32{1, 2, 0}, FitLength([]float32{1, 2}, 3))
}
