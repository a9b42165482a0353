//go:build !rnnoise
// +build !rnnoise

package rnnoise

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/engine"
)

const (
	SampleRate = audio.SampleRate(48_000)
)

type RNNoise = engine.Dummy

var ErrNotSupported = fmt.Errorf("built without tag 'rnnoise'")

func New(
	ctx context.Context,
	model []byte,
) (*RNNoise, error) {
	return nil, ErrNotSupported
}

func Factory(ctx context.Context, model []byte) (engine.Engine, error) {
	return nil, ErrNotSupported
}
