package audioinput

import (
	"context"
	"fmt"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audio/pcm"
	"github.com/xaionaro-go/denoise/pkg/capture"
)

// CaptureStream records a live stream until Options.Duration worth of
// samples is collected (or the stream ends) and returns exactly that many
// mono samples. The tracks of the stream are left running.
func CaptureStream(
	ctx context.Context,
	stream capture.Stream,
	opts Options,
) (_ret audio.Samples, _err error) {
	format := stream.Format()
	duration := opts.duration()
	logger.Debugf(ctx, "CaptureStream: %dHz %dch for %v", format.SampleRate, format.Channels, duration)
	defer func() { logger.Debugf(ctx, "/CaptureStream: len:%d %v", len(_ret.Data), _err) }()

	if format.SampleRate == 0 {
		return audio.Samples{}, fmt.Errorf("%w: the stream has no sample rate", ErrInvalidInput)
	}
	channels := format.Channels
	if channels == 0 {
		channels = 1
	}

	target := audio.SamplesForDuration(format.SampleRate, duration)
	if target <= 0 {
		return audio.Samples{}, ErrEmptyAudio
	}

	frameSize := opts.frameSize()
	var (
		locker    sync.Mutex
		collected = make([]float32, 0, target+frameSize)
		reachedCh = make(chan struct{})
	)
	node, err := stream.Attach(ctx, frameSize, func(ctx context.Context, frame []float32) {
		locker.Lock()
		defer locker.Unlock()
		if len(collected) >= target {
			return
		}
		collected = append(collected, pcm.DownmixFloat32(channels, frame)...)
		logger.Tracef(ctx, "captured %d/%d samples", len(collected), target)
		if len(collected) >= target {
			close(reachedCh)
		}
	})
	if err != nil {
		return audio.Samples{}, fmt.Errorf("unable to attach to the stream: %w", err)
	}

	var waitErr error
	select {
	case <-reachedCh:
	case <-stream.Done():
		logger.Debugf(ctx, "the stream ended before the requested duration")
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	if err := node.Detach(); err != nil {
		logger.Warnf(ctx, "unable to detach from the stream: %v", err)
	}
	if waitErr != nil {
		return audio.Samples{}, waitErr
	}

	locker.Lock()
	defer locker.Unlock()
	if len(collected) > target {
		collected = collected[:target]
	}
	data := make([]float32, len(collected))
	copy(data, collected)
	return audio.Samples{
		Data:       data,
		SampleRate: format.SampleRate,
	}, nil
}
