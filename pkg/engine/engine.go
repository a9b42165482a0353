package engine

import (
	"context"
	"io"

	"github.com/xaionaro-go/denoise/pkg/audio"
)

// Engine is an initialized noise suppression model.
type Engine interface {
	io.Closer

	SampleRate() audio.SampleRate
	FrameSize() int

	// NewState returns a fresh suppression state; every independent
	// track is expected to be processed with its own state.
	NewState(ctx context.Context) (State, error)
}

type State interface {
	io.Closer

	// ProcessFrame suppresses noise in exactly FrameSize samples and
	// returns the probability of voice in the frame.
	ProcessFrame(ctx context.Context, input []float32, outputVoice []float32) (float64, error)
}

// Factory initializes an engine. An empty model means the built-in one.
type Factory func(ctx context.Context, model []byte) (Engine, error)
