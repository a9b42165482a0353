package audioinput

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/facebookincubator/go-belt/tool/logger"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/jfreymuth/oggvorbis"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audio/pcm"
)

type container string

const (
	containerUnknown = container("")
	containerWAV     = container("wav")
	containerOgg     = container("ogg")
)

const (
	wavFormatPCM        = 1
	wavFormatIEEEFloat  = 3
	wavFormatExtensible = 0xFFFE
)

func detectContainer(blob Blob) container {
	data := blob.Data
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return containerWAV
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return containerOgg
	}

	contentType := strings.ToLower(blob.ContentType)
	switch {
	case strings.Contains(contentType, "wav"):
		return containerWAV
	case strings.Contains(contentType, "ogg"):
		return containerOgg
	}

	switch strings.ToLower(filepath.Ext(blob.Name)) {
	case ".wav", ".wave":
		return containerWAV
	case ".ogg", ".oga":
		return containerOgg
	}
	return containerUnknown
}

// DecodeFile decodes a container file into a mono track
// at the native sample rate of the file.
func DecodeFile(
	ctx context.Context,
	blob Blob,
) (_ret audio.Samples, _err error) {
	logger.Debugf(ctx, "DecodeFile: name:'%s' type:'%s' size:%d", blob.Name, blob.ContentType, len(blob.Data))
	defer func() { logger.Debugf(ctx, "/DecodeFile: len:%d rate:%d %v", len(_ret.Data), _ret.SampleRate, _err) }()

	if len(blob.Data) == 0 {
		return audio.Samples{}, ErrEmptyAudio
	}

	c := detectContainer(blob)
	var (
		samples audio.Samples
		err     error
	)
	switch c {
	case containerWAV:
		samples, err = decodeWAV(blob.Data)
	case containerOgg:
		samples, err = decodeOggVorbis(blob.Data)
	default:
		err = fmt.Errorf("unrecognized container format")
	}
	if err != nil {
		return audio.Samples{}, &DecodeError{Container: string(c), Err: err}
	}
	return samples, nil
}

func decodeWAV(data []byte) (audio.Samples, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		if err := d.Err(); err != nil {
			return audio.Samples{}, fmt.Errorf("invalid WAV file: %w", err)
		}
		return audio.Samples{}, fmt.Errorf("invalid WAV file")
	}
	if d.NumChans == 0 {
		return audio.Samples{}, fmt.Errorf("invalid amount of channels: 0")
	}
	if d.SampleRate == 0 {
		return audio.Samples{}, fmt.Errorf("invalid sample rate: 0")
	}

	switch d.WavAudioFormat {
	case wavFormatIEEEFloat:
		return decodeWAVFloat(d)
	case wavFormatPCM, wavFormatExtensible:
	default:
		return audio.Samples{}, fmt.Errorf("unsupported WAV audio format: %d", d.WavAudioFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return audio.Samples{}, fmt.Errorf("unable to read PCM data: %w", err)
	}
	return intBufferToSamples(buf, int(d.BitDepth), audio.SampleRate(d.SampleRate))
}

func intBufferToSamples(
	buf *goaudio.IntBuffer,
	bitDepth int,
	sampleRate audio.SampleRate,
) (audio.Samples, error) {
	if buf.SourceBitDepth != 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return audio.Samples{}, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
	channels := 1
	if buf.Format != nil {
		if buf.Format.NumChannels > 0 {
			channels = buf.Format.NumChannels
		}
		if buf.Format.SampleRate > 0 {
			sampleRate = audio.SampleRate(buf.Format.SampleRate)
		}
	}

	scale := float32(int64(1) << (bitDepth - 1))
	interleaved := make([]float32, len(buf.Data))
	for idx, v := range buf.Data {
		if bitDepth == 8 {
			// 8-bit WAV is unsigned
			v -= 128
		}
		interleaved[idx] = float32(v) / scale
	}
	return audio.Samples{
		Data:       pcm.DownmixFloat32(audio.Channel(channels), interleaved),
		SampleRate: sampleRate,
	}, nil
}

func decodeWAVFloat(d *wav.Decoder) (audio.Samples, error) {
	var format audio.PCMFormat
	switch d.BitDepth {
	case 32:
		format = audio.PCMFormatFloat32LE
	case 64:
		format = audio.PCMFormatFloat64LE
	default:
		return audio.Samples{}, fmt.Errorf("unsupported float bit depth: %d", d.BitDepth)
	}
	if err := d.FwdToPCM(); err != nil {
		return audio.Samples{}, fmt.Errorf("unable to find the PCM data: %w", err)
	}
	raw, err := io.ReadAll(io.LimitReader(d.PCMChunk, d.PCMLen()))
	if err != nil {
		return audio.Samples{}, fmt.Errorf("unable to read the PCM data: %w", err)
	}
	frameSize := int(format.Size()) * int(d.NumChans)
	raw = raw[:len(raw)-len(raw)%frameSize]
	samples, err := pcm.DecodeMono(format, audio.Channel(d.NumChans), raw)
	if err != nil {
		return audio.Samples{}, err
	}
	return audio.Samples{
		Data:       samples,
		SampleRate: audio.SampleRate(d.SampleRate),
	}, nil
}

func decodeOggVorbis(data []byte) (audio.Samples, error) {
	interleaved, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return audio.Samples{}, fmt.Errorf("unable to decode Ogg Vorbis: %w", err)
	}
	if format.Channels <= 0 || format.SampleRate <= 0 {
		return audio.Samples{}, fmt.Errorf("invalid Ogg Vorbis format: %d channels at %dHz", format.Channels, format.SampleRate)
	}
	return audio.Samples{
		Data:       pcm.DownmixFloat32(audio.Channel(format.Channels), interleaved),
		SampleRate: audio.SampleRate(format.SampleRate),
	}, nil
}
