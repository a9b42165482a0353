// Package audiooutput renders a processed track into the representation
// requested by the caller.
package audiooutput

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audio/pcm"
)

const (
	ContentTypeWAV    = "audio/wav"
	ContentTypeBuffer = "application/octet-stream"
	ContentTypeJSON   = "application/json"
)

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type Result struct {
	Format     Format
	SampleRate audio.SampleRate

	// exactly one of these is set, according to Format
	Buffer  []byte
	File    *File
	Samples []float32
}

// Encode renders samples in the given format. The name of the source
// is used to name the file, if any.
func Encode(
	samples audio.Samples,
	format Format,
	sourceName string,
) (*Result, error) {
	if samples.SampleRate == 0 {
		return nil, fmt.Errorf("sample rate is not set")
	}
	result := &Result{
		Format:     format,
		SampleRate: samples.SampleRate,
	}
	switch format {
	case FormatBuffer:
		result.Buffer = pcm.Float32LEBytes(samples.Data)
	case FormatFile:
		data, err := EncodeWAV(samples)
		if err != nil {
			return nil, fmt.Errorf("unable to encode WAV: %w", err)
		}
		result.File = &File{
			Name:        FileName(sourceName),
			ContentType: ContentTypeWAV,
			Data:        data,
		}
	case FormatSamples:
		result.Samples = make([]float32, len(samples.Data))
		copy(result.Samples, samples.Data)
	default:
		return nil, fmt.Errorf("unknown output format: %v", format)
	}
	return result, nil
}

// FileName returns the name of the denoised version of the file.
func FileName(sourceName string) string {
	base := filepath.Base(sourceName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "denoised.wav"
	}
	return base + "_denoised.wav"
}

type samplesJSON struct {
	SampleRate audio.SampleRate `json:"sample_rate"`
	Samples    []float32        `json:"samples"`
}

// Payload returns the serialized result and its content type.
func (r *Result) Payload() ([]byte, string, error) {
	switch r.Format {
	case FormatBuffer:
		return r.Buffer, ContentTypeBuffer, nil
	case FormatFile:
		if r.File == nil {
			return nil, "", fmt.Errorf("the file is not set")
		}
		return r.File.Data, r.File.ContentType, nil
	case FormatSamples:
		b, err := json.Marshal(samplesJSON{SampleRate: r.SampleRate, Samples: r.Samples})
		if err != nil {
			return nil, "", fmt.Errorf("unable to serialize the samples: %w", err)
		}
		return b, ContentTypeJSON, nil
	}
	return nil, "", fmt.Errorf("unknown output format: %v", r.Format)
}
