//go:build rnnoise
// +build rnnoise

package rnnoise

/*
#cgo pkg-config: rnnoise
#cgo CFLAGS: -march=native
#include <stdlib.h>
#include <rnnoise.h>
*/
import "C"

import (
	"context"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/engine"
)

const (
	SampleRate = audio.SampleRate(48_000)
)

var frameSize int

func init() {
	frameSize = int(C.rnnoise_get_frame_size())
}

type RNNoise struct {
	Locker      sync.Mutex
	Model       *C.RNNModel
	ModelBuffer unsafe.Pointer
}

var _ engine.Engine = (*RNNoise)(nil)

// New initializes RNNoise with the given model weights, or with
// the built-in model if none is given.
func New(
	ctx context.Context,
	model []byte,
) (*RNNoise, error) {
	s := &RNNoise{}
	if len(model) == 0 {
		logger.Debugf(ctx, "using the built-in RNNoise model")
		return s, nil
	}

	// the model references the buffer, it must live as long as the model
	s.ModelBuffer = C.CBytes(model)
	s.Model = C.rnnoise_model_from_buffer(s.ModelBuffer, C.int(len(model)))
	if s.Model == nil {
		C.free(s.ModelBuffer)
		return nil, fmt.Errorf("unable to load a RNNoise model of size %d", len(model))
	}
	logger.Debugf(ctx, "loaded a custom RNNoise model of size %d", len(model))
	return s, nil
}

// Factory is an engine.Factory of RNNoise engines.
func Factory(ctx context.Context, model []byte) (engine.Engine, error) {
	e, err := New(ctx, model)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *RNNoise) Close() error {
	s.Locker.Lock()
	defer s.Locker.Unlock()
	if s.Model != nil {
		C.rnnoise_model_free(s.Model)
		s.Model = nil
	}
	if s.ModelBuffer != nil {
		C.free(s.ModelBuffer)
		s.ModelBuffer = nil
	}
	return nil
}

func (*RNNoise) SampleRate() audio.SampleRate {
	return SampleRate
}

func (*RNNoise) FrameSize() int {
	return frameSize
}

func (s *RNNoise) NewState(ctx context.Context) (engine.State, error) {
	s.Locker.Lock()
	defer s.Locker.Unlock()
	denoiseState := C.rnnoise_create(s.Model)
	if denoiseState == nil {
		return nil, fmt.Errorf("rnnoise_create returned NULL")
	}
	return &State{
		DenoiseState: denoiseState,
		Buffer:       make([]float32, frameSize),
	}, nil
}

type State struct {
	Locker       sync.Mutex
	DenoiseState *C.DenoiseState
	Buffer       []float32
}

var _ engine.State = (*State)(nil)

func (s *State) Close() error {
	s.Locker.Lock()
	defer s.Locker.Unlock()
	if s.DenoiseState == nil {
		return fmt.Errorf("double-free attempt")
	}
	C.rnnoise_destroy(s.DenoiseState)
	s.DenoiseState = nil
	return nil
}

func (s *State) ProcessFrame(ctx context.Context, input []float32, outputVoice []float32) (float64, error) {
	if len(input) != frameSize || len(outputVoice) != frameSize {
		return 0, fmt.Errorf("input and output frames must be exactly %d samples: %d, %d", frameSize, len(input), len(outputVoice))
	}

	s.Locker.Lock()
	defer s.Locker.Unlock()
	if s.DenoiseState == nil {
		return 0, fmt.Errorf("the state is already closed")
	}

	// RNNoise expects samples in the int16 range
	for idx, v := range input {
		s.Buffer[idx] = v * math.MaxInt16
	}
	vadProb := C.rnnoise_process_frame(
		s.DenoiseState,
		(*C.float)(unsafe.Pointer(unsafe.SliceData(outputVoice))),
		(*C.float)(unsafe.Pointer(unsafe.SliceData(s.Buffer))),
	)
	for idx := range outputVoice {
		outputVoice[idx] /= math.MaxInt16
	}
	return float64(vadProb), nil
}
