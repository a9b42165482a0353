package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/denoise/pkg/audio"
)

var (
	ErrPermissionDenied      = errors.New("microphone permission denied")
	ErrMicrophoneUnavailable = errors.New("no usable microphone")
	ErrStreamEnded           = errors.New("the stream has ended")
)

type Format struct {
	SampleRate audio.SampleRate
	Channels   audio.Channel
}

// FrameHandler receives interleaved frames of exactly
// frameSize*channels samples. The slice is reused after the call returns.
type FrameHandler func(ctx context.Context, frame []float32)

// Stream is a live media stream, like a microphone.
type Stream interface {
	Format() Format
	Tracks() []Track

	// Attach connects a node that receives the audio in fixed-size frames
	// until it is detached or the stream ends.
	Attach(ctx context.Context, frameSize int, handler FrameHandler) (Node, error)

	// Done is closed when no more audio will arrive.
	Done() <-chan struct{}
}

// Track is a single source of a stream.
type Track interface {
	ID() string
	Stop() error
}

// Node is an attached frame consumer.
type Node interface {
	Detach() error
}

// StopTracks stops every track of the stream, once each.
func StopTracks(stream Stream) error {
	var mErr *multierror.Error
	for _, track := range stream.Tracks() {
		if err := track.Stop(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to stop track %s: %w", track.ID(), err))
		}
	}
	return mErr.ErrorOrNil()
}
