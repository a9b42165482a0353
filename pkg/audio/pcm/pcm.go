package pcm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xaionaro-go/denoise/pkg/audio"
)

func getFloat64(f audio.PCMFormat, p []byte) float64 {
	switch f {
	case audio.PCMFormatU8:
		return (float64(p[0]) - 128) / 128
	case audio.PCMFormatS16LE:
		return float64(int16(binary.LittleEndian.Uint16(p))) / 32768
	case audio.PCMFormatS16BE:
		return float64(int16(binary.BigEndian.Uint16(p))) / 32768
	case audio.PCMFormatS24LE:
		val := int32(uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16)
		if val&0x800000 != 0 {
			val |= -16777216
		}
		return float64(val) / 8388608
	case audio.PCMFormatS24BE:
		val := int32(uint32(p[2]) | uint32(p[1])<<8 | uint32(p[0])<<16)
		if val&0x800000 != 0 {
			val |= -16777216
		}
		return float64(val) / 8388608
	case audio.PCMFormatS32LE:
		return float64(int32(binary.LittleEndian.Uint32(p))) / 2147483648
	case audio.PCMFormatS32BE:
		return float64(int32(binary.BigEndian.Uint32(p))) / 2147483648
	case audio.PCMFormatS64LE:
		return float64(int64(binary.LittleEndian.Uint64(p))) / 9223372036854775808
	case audio.PCMFormatS64BE:
		return float64(int64(binary.BigEndian.Uint64(p))) / 9223372036854775808
	case audio.PCMFormatFloat32LE:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(p)))
	case audio.PCMFormatFloat32BE:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(p)))
	case audio.PCMFormatFloat64LE:
		return math.Float64frombits(binary.LittleEndian.Uint64(p))
	case audio.PCMFormatFloat64BE:
		return math.Float64frombits(binary.BigEndian.Uint64(p))
	default:
		panic(fmt.Sprintf("unknown format: %v", f))
	}
}

func setFloat64(f audio.PCMFormat, p []byte, v float64) {
	switch f {
	case audio.PCMFormatU8:
		p[0] = byte(clampInt(math.Round(v*128+128), 0, 255))
	case audio.PCMFormatS16LE:
		binary.LittleEndian.PutUint16(p, uint16(int16(clampInt(math.Round(v*32768), math.MinInt16, math.MaxInt16))))
	case audio.PCMFormatS16BE:
		binary.BigEndian.PutUint16(p, uint16(int16(clampInt(math.Round(v*32768), math.MinInt16, math.MaxInt16))))
	case audio.PCMFormatS24LE:
		val := int32(clampInt(math.Round(v*8388608), -8388608, 8388607))
		p[0] = byte(val)
		p[1] = byte(val >> 8)
		p[2] = byte(val >> 16)
	case audio.PCMFormatS24BE:
		val := int32(clampInt(math.Round(v*8388608), -8388608, 8388607))
		p[0] = byte(val >> 16)
		p[1] = byte(val >> 8)
		p[2] = byte(val)
	case audio.PCMFormatS32LE:
		binary.LittleEndian.PutUint32(p, uint32(int32(clampInt(math.Round(v*2147483648), math.MinInt32, math.MaxInt32))))
	case audio.PCMFormatS32BE:
		binary.BigEndian.PutUint32(p, uint32(int32(clampInt(math.Round(v*2147483648), math.MinInt32, math.MaxInt32))))
	case audio.PCMFormatS64LE:
		binary.LittleEndian.PutUint64(p, uint64(toInt64(v)))
	case audio.PCMFormatS64BE:
		binary.BigEndian.PutUint64(p, uint64(toInt64(v)))
	case audio.PCMFormatFloat32LE:
		binary.LittleEndian.PutUint32(p, math.Float32bits(float32(v)))
	case audio.PCMFormatFloat32BE:
		binary.BigEndian.PutUint32(p, math.Float32bits(float32(v)))
	case audio.PCMFormatFloat64LE:
		binary.LittleEndian.PutUint64(p, math.Float64bits(v))
	case audio.PCMFormatFloat64BE:
		binary.BigEndian.PutUint64(p, math.Float64bits(v))
	default:
		panic(fmt.Sprintf("unknown format: %v", f))
	}
}

func toInt64(v float64) int64 {
	switch {
	case v >= 1:
		return math.MaxInt64
	case v <= -1:
		return math.MinInt64
	}
	return int64(v * 9223372036854775808)
}

func clampInt(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DecodeMono converts interleaved PCM into mono float samples,
// averaging the channels of every frame.
func DecodeMono(
	format audio.PCMFormat,
	channels audio.Channel,
	data []byte,
) ([]float32, error) {
	sampleSize := int(format.Size())
	if sampleSize == 0 {
		return nil, fmt.Errorf("unsupported PCM format: %v", format)
	}
	if channels == 0 {
		return nil, fmt.Errorf("the amount of channels must be positive")
	}
	frameSize := sampleSize * int(channels)
	if len(data)%frameSize != 0 {
		return nil, fmt.Errorf("the size of the input is not a multiple of %d*%d: %d", sampleSize, channels, len(data))
	}

	result := make([]float32, len(data)/frameSize)
	for idx := range result {
		frame := data[idx*frameSize:]
		var sum float64
		for ch := 0; ch < int(channels); ch++ {
			sum += getFloat64(format, frame[ch*sampleSize:])
		}
		result[idx] = float32(sum / float64(channels))
	}
	return result, nil
}

// Encode converts mono float samples into PCM of the given format.
func Encode(
	format audio.PCMFormat,
	samples []float32,
) ([]byte, error) {
	sampleSize := int(format.Size())
	if sampleSize == 0 {
		return nil, fmt.Errorf("unsupported PCM format: %v", format)
	}
	result := make([]byte, len(samples)*sampleSize)
	for idx, v := range samples {
		setFloat64(format, result[idx*sampleSize:], float64(v))
	}
	return result, nil
}

// DownmixFloat32 averages interleaved float samples into a mono track.
func DownmixFloat32(channels audio.Channel, interleaved []float32) []float32 {
	if channels <= 1 {
		result := make([]float32, len(interleaved))
		copy(result, interleaved)
		return result
	}
	result := make([]float32, len(interleaved)/int(channels))
	for idx := range result {
		var sum float32
		for ch := 0; ch < int(channels); ch++ {
			sum += interleaved[idx*int(channels)+ch]
		}
		result[idx] = sum / float32(channels)
	}
	return result
}

func Float32LEBytes(samples []float32) []byte {
	result := make([]byte, len(samples)*4)
	for idx, v := range samples {
		binary.LittleEndian.PutUint32(result[idx*4:], math.Float32bits(v))
	}
	return result
}

func Float32FromLEBytes(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("the size of the input is not a multiple of size float32: %d %% 4 != 0", len(data))
	}
	result := make([]float32, len(data)/4)
	for idx := range result {
		result[idx] = math.Float32frombits(binary.LittleEndian.Uint32(data[idx*4:]))
	}
	return result, nil
}
