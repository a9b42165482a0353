package audiooutput

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xaionaro-go/denoise/pkg/audio"
)

const (
	WAVHeaderSize    = 44
	wavBitsPerSample = 16
	wavChannels      = 1
)

// EncodeWAV encodes a mono track as a 16-bit PCM WAV file with the
// canonical 44-byte header.
func EncodeWAV(samples audio.Samples) ([]byte, error) {
	if samples.SampleRate == 0 {
		return nil, fmt.Errorf("sample rate is not set")
	}
	dataLen := len(samples.Data) * wavBitsPerSample / 8 * wavChannels
	if uint64(dataLen)+WAVHeaderSize-8 > math.MaxUint32 {
		return nil, fmt.Errorf("the track is too long for a WAV file: %d samples", len(samples.Data))
	}
	blockAlign := wavChannels * wavBitsPerSample / 8

	buf := make([]byte, WAVHeaderSize+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf)-8))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], wavChannels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(samples.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(samples.SampleRate)*uint32(blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], wavBitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	for idx, s := range samples.Data {
		binary.LittleEndian.PutUint16(buf[WAVHeaderSize+idx*2:], uint16(floatToInt16(s)))
	}
	return buf, nil
}

func floatToInt16(s float32) int16 {
	switch {
	case s != s: // NaN
		return 0
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return math.MinInt16
	case s < 0:
		return int16(s * 0x8000)
	default:
		return int16(s * 0x7FFF)
	}
}
