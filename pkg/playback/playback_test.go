package playback

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audio/pcm"
)

func TestPrepare(t *testing.T) {
	data, err := prepare(audio.Samples{Data: make([]float32, 1600), SampleRate: 16000})
	require.NoError(t, err)
	samples, err := pcm.Float32FromLEBytes(data)
	require.NoError(t, err)
	require.Len(t, samples, 4800)

	in := []float32{0.1, 0.2, 0.3}
	data, err = prepare(audio.Samples{Data: in, SampleRate: SampleRate})
	require.NoError(t, err)
	require.Equal(t, pcm.Float32LEBytes(in), data)

	_, err = prepare(audio.Samples{Data: in})
	require.Error(t, err)
}
