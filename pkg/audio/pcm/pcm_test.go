package pcm

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/denoise/pkg/audio"
)

func TestDecodeMono(t *testing.T) {
	t.Run("U8_Mono", func(t *testing.T) {
		out, err := DecodeMono(audio.PCMFormatU8, 1, []byte{0, 128, 255})
		require.NoError(t, err)
		require.Len(t, out, 3)
		assert.InDelta(t, -1.0, out[0], 0.01)
		assert.InDelta(t, 0.0, out[1], 0.01)
		assert.InDelta(t, 1.0, out[2], 0.01)
	})

	t.Run("S16LE_Stereo_to_Mono", func(t *testing.T) {
		data := make([]byte, 8)
		binary.LittleEndian.PutUint16(data[0:], uint16(int16(16384)))
		neg := int16(-16384)
		binary.LittleEndian.PutUint16(data[2:], uint16(neg))
		binary.LittleEndian.PutUint16(data[4:], uint16(int16(16384)))
		binary.LittleEndian.PutUint16(data[6:], uint16(int16(16384)))
		out, err := DecodeMono(audio.PCMFormatS16LE, 2, data)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.InDelta(t, 0.0, out[0], 1e-6)
		assert.InDelta(t, 0.5, out[1], 1e-6)
	})

	t.Run("S24BE", func(t *testing.T) {
		out, err := DecodeMono(audio.PCMFormatS24BE, 1, []byte{0xC0, 0x00, 0x00})
		require.NoError(t, err)
		assert.InDelta(t, -0.5, out[0], 1e-6)
	})

	t.Run("Misaligned", func(t *testing.T) {
		_, err := DecodeMono(audio.PCMFormatFloat32LE, 1, []byte{1, 2, 3})
		require.Error(t, err)
	})

	t.Run("NoChannels", func(t *testing.T) {
		_, err := DecodeMono(audio.PCMFormatFloat32LE, 0, make([]byte, 4))
		require.Error(t, err)
	})
}

func TestEncodeClips(t *testing.T) {
	out, err := Encode(audio.PCMFormatS16LE, []float32{2, -2, 0})
	require.NoError(t, err)
	assert.Equal(t, int16(math.MaxInt16), int16(binary.LittleEndian.Uint16(out[0:])))
	assert.Equal(t, int16(math.MinInt16), int16(binary.LittleEndian.Uint16(out[2:])))
	assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(out[4:])))
}

func TestEncodeDecodeAllFormats(t *testing.T) {
	in := []float32{-0.75, -0.25, 0, 0.25, 0.5}
	for f := audio.PCMFormatU8; f < endOfFormats(); f++ {
		f := f
		t.Run(f.String(), func(t *testing.T) {
			b, err := Encode(f, in)
			require.NoError(t, err)
			require.Len(t, b, len(in)*int(f.Size()))
			out, err := DecodeMono(f, 1, b)
			require.NoError(t, err)
			for idx := range in {
				assert.InDelta(t, in[idx], out[idx], 0.01)
			}
		})
	}
}

func endOfFormats() audio.PCMFormat {
	return audio.PCMFormatFloat64BE + 1
}

func TestFloat32LE(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3}
	out, err := Float32FromLEBytes(Float32LEBytes(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = Float32FromLEBytes([]byte{1, 2})
	require.Error(t, err)
}

func TestDownmixFloat32(t *testing.T) {
	assert.Equal(t, []float32{0.5, 0}, DownmixFloat32(2, []float32{1, 0, 0.5, -0.5}))
	assert.Equal(t, []float32{1, 2}, DownmixFloat32(1, []float32{1, 2}))
}
