package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audio/pcm"
	"github.com/xaionaro-go/denoise/pkg/capture"
	"github.com/xaionaro-go/denoise/pkg/denoisestream"
	"github.com/xaionaro-go/denoise/pkg/engine"
	"github.com/xaionaro-go/denoise/pkg/playback"
	"github.com/xaionaro-go/observability"
)

const (
	liveBufferSize = 1024 * 1024
)

// runLive plays the denoised microphone back until ctx is done.
func runLive(
	ctx context.Context,
	factory engine.Factory,
	model []byte,
	f flags,
) (_err error) {
	logger.Debugf(ctx, "runLive")
	defer func() { logger.Debugf(ctx, "/runLive: %v", _err) }()

	e, err := factory(ctx, model)
	if err != nil {
		return fmt.Errorf("unable to initialize the engine: %w", err)
	}
	defer e.Close()
	if e.SampleRate() != playback.SampleRate {
		return fmt.Errorf("the engine works at %dHz, while the playback is at %dHz", e.SampleRate(), playback.SampleRate)
	}

	mic, err := capture.OpenMicrophone(ctx, capture.Format{
		SampleRate: e.SampleRate(),
		Channels:   audio.Channel(f.Channels),
	})
	if err != nil {
		return fmt.Errorf("unable to open the microphone: %w", err)
	}
	defer func() {
		if err := capture.StopTracks(mic); err != nil {
			logger.Errorf(ctx, "unable to stop the microphone: %v", err)
		}
	}()

	r, w := io.Pipe()
	defer w.Close()
	node, err := mic.Attach(ctx, e.FrameSize(), func(ctx context.Context, frame []float32) {
		mono := pcm.DownmixFloat32(mic.Format().Channels, frame)
		if _, err := w.Write(pcm.Float32LEBytes(mono)); err != nil {
			logger.Debugf(ctx, "unable to forward the frame: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("unable to attach to the microphone: %w", err)
	}
	defer node.Detach()

	stream, err := denoisestream.New(ctx, r, e, liveBufferSize)
	if err != nil {
		return fmt.Errorf("unable to start the noise suppression: %w", err)
	}
	defer stream.Close()

	player, err := playback.NewPlayer()
	if err != nil {
		return fmt.Errorf("unable to initialize the playback: %w", err)
	}
	playStream := player.PlayReader(ctx, stream)
	defer playStream.Close()

	observability.Go(ctx, func(ctx context.Context) {
		logger.Tracef(ctx, "started the traffic count printer loop")
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				logger.Debugf(ctx, "recorded: %d bytes, voice probability: %.2f", mic.Counter.Count(), stream.VoiceProbability())
			}
		}
	})

	logger.Infof(ctx, "started, press Ctrl+C to stop")
	select {
	case <-ctx.Done():
	case <-mic.Done():
		logger.Warnf(ctx, "the microphone stream has ended")
	}
	return nil
}
