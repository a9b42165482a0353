// Package vad finds voice in a track using the voice probability the
// noise suppression engine reports for every frame.
package vad

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audio/resampler"
	"github.com/xaionaro-go/denoise/pkg/engine"
)

type Detector struct {
	Engine        engine.Engine
	ChunkSize     int
	ChunkDuration time.Duration
}

// NewDetector groups engine frames into chunks of about preferredGranularity;
// a chunk is the unit of detection.
func NewDetector(
	ctx context.Context,
	e engine.Engine,
	preferredGranularity time.Duration,
) (*Detector, error) {
	frameSize := e.FrameSize()
	if frameSize <= 0 {
		return nil, fmt.Errorf("invalid frame size of the engine: %d", frameSize)
	}
	preferredChunkSize := audio.SamplesForDuration(e.SampleRate(), preferredGranularity)
	subChunks := (preferredChunkSize + frameSize/2) / frameSize
	if subChunks < 1 {
		subChunks = 1
	}
	chunkSize := subChunks * frameSize
	chunkDuration := audio.Samples{
		Data:       make([]float32, chunkSize),
		SampleRate: e.SampleRate(),
	}.Duration()
	logger.Debugf(ctx, "resulting chunkSize:%d and chunkDuration:%v", chunkSize, chunkDuration)

	return &Detector{
		Engine:        e,
		ChunkSize:     chunkSize,
		ChunkDuration: chunkDuration,
	}, nil
}

// FindNextVoice returns the highest voice probability met and the offset
// of the first chunk with a probability of at least confidenceThreshold.
// It stops as soon as the voice was found for minDuration in total. The
// offset is negative if no voice was found.
func (d *Detector) FindNextVoice(
	ctx context.Context,
	samples audio.Samples,
	confidenceThreshold float64,
	minDuration time.Duration,
) (_maxConfidence float64, _firstVoice time.Duration, _err error) {
	logger.Tracef(ctx, "FindNextVoice: %v", samples.Duration())
	defer func() {
		logger.Tracef(ctx, "/FindNextVoice: %v %v %v", _maxConfidence, _firstVoice, _err)
	}()

	firstVoiceDetection := time.Duration(-1)
	if samples.Len() == 0 {
		return 0, firstVoiceDetection, nil
	}

	samples, err := resampler.Resample(samples, d.Engine.SampleRate())
	if err != nil {
		return 0, firstVoiceDetection, fmt.Errorf("unable to resample to %dHz: %w", d.Engine.SampleRate(), err)
	}

	state, err := d.Engine.NewState(ctx)
	if err != nil {
		return 0, firstVoiceDetection, fmt.Errorf("unable to create a state: %w", err)
	}
	defer state.Close()

	frameSize := d.Engine.FrameSize()
	output := make([]float32, frameSize)

	var (
		maxConfidence float64
		foundVoiceFor time.Duration
		remaining     = samples.Data
	)
	for pos := 0; len(remaining) >= d.ChunkSize; pos++ {
		chunk := remaining[:d.ChunkSize]
		remaining = remaining[d.ChunkSize:]

		var voiceConfidence float64
		for off := 0; off < len(chunk); off += frameSize {
			vad, err := state.ProcessFrame(ctx, chunk[off:off+frameSize], output)
			if err != nil {
				return maxConfidence, firstVoiceDetection, fmt.Errorf("unable to process a frame: %w", err)
			}
			if vad > voiceConfidence {
				voiceConfidence = vad
			}
		}

		if voiceConfidence > maxConfidence {
			maxConfidence = voiceConfidence
		}

		if voiceConfidence >= confidenceThreshold {
			foundVoiceFor += d.ChunkDuration
			if firstVoiceDetection < 0 {
				firstVoiceDetection = d.ChunkDuration * time.Duration(pos)
			}
		}

		if foundVoiceFor >= minDuration {
			break
		}
	}
	return maxConfidence, firstVoiceDetection, nil
}
