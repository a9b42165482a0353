package engine

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/denoise/pkg/audio"
)

// Dummy passes the audio through as is.
type Dummy struct {
	SampleRateValue audio.SampleRate
	FrameSizeValue  int
}

var _ Engine = (*Dummy)(nil)

func NewDummy(
	sampleRate audio.SampleRate,
	frameSize int,
) *Dummy {
	return &Dummy{
		SampleRateValue: sampleRate,
		FrameSizeValue:  frameSize,
	}
}

// DummyFactory is a Factory of passthrough engines working at 48KHz with 480-sample frames.
func DummyFactory(context.Context, []byte) (Engine, error) {
	return NewDummy(48000, 480), nil
}

func (*Dummy) Close() error {
	return nil
}

func (e *Dummy) SampleRate() audio.SampleRate {
	return e.SampleRateValue
}

func (e *Dummy) FrameSize() int {
	return e.FrameSizeValue
}

func (e *Dummy) NewState(context.Context) (State, error) {
	return dummyState{frameSize: e.FrameSizeValue}, nil
}

type dummyState struct {
	frameSize int
}

func (dummyState) Close() error {
	return nil
}

func (s dummyState) ProcessFrame(_ context.Context, input []float32, outputVoice []float32) (float64, error) {
	if len(input) != s.frameSize || len(outputVoice) != s.frameSize {
		return 0, fmt.Errorf("frame must be exactly %d samples, received %d->%d", s.frameSize, len(input), len(outputVoice))
	}
	copy(outputVoice, input)
	return 1, nil
}
