// Package playback plays mono float tracks through the default output device.
package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audio/pcm"
	"github.com/xaionaro-go/denoise/pkg/audio/resampler"
)

// oto does not allow to initialize a context more than once, so the
// output format is fixed.
const (
	SampleRate = audio.SampleRate(48000)
	Channels   = 1
	BufferSize = 100 * time.Millisecond

	drainCheckInterval = 10 * time.Millisecond
)

var (
	otoCtx     *oto.Context
	otoCtxErr  error
	otoCtxOnce sync.Once
)

func getOtoContext() (*oto.Context, error) {
	otoCtxOnce.Do(func() {
		var readyCh chan struct{}
		otoCtx, readyCh, otoCtxErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   int(SampleRate),
			ChannelCount: Channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   BufferSize,
		})
		if otoCtxErr == nil {
			<-readyCh
		}
	})
	return otoCtx, otoCtxErr
}

type Player struct {
	OtoCtx *oto.Context
}

func NewPlayer() (*Player, error) {
	otoCtx, err := getOtoContext()
	if err != nil {
		return nil, fmt.Errorf("unable to get an oto context: %w", err)
	}
	return &Player{
		OtoCtx: otoCtx,
	}, nil
}

// PlayReader starts playing mono float32 LE PCM at SampleRate.
func (p *Player) PlayReader(
	ctx context.Context,
	reader io.Reader,
) *Stream {
	logger.Debugf(ctx, "PlayReader")
	player := p.OtoCtx.NewPlayer(reader)
	player.Play()
	return &Stream{Player: player}
}

// Play plays the track and waits until it is played completely.
func (p *Player) Play(
	ctx context.Context,
	samples audio.Samples,
) (_err error) {
	logger.Debugf(ctx, "Play: %v", samples.Duration())
	defer func() { logger.Debugf(ctx, "/Play: %v", _err) }()

	data, err := prepare(samples)
	if err != nil {
		return err
	}
	stream := p.PlayReader(ctx, bytes.NewReader(data))
	defer stream.Close()
	return stream.Drain(ctx)
}

func prepare(samples audio.Samples) ([]byte, error) {
	resampled, err := resampler.Resample(samples, SampleRate)
	if err != nil {
		return nil, fmt.Errorf("unable to resample %dHz to %dHz: %w", samples.SampleRate, SampleRate, err)
	}
	return pcm.Float32LEBytes(resampled.Data), nil
}

type Stream struct {
	Player *oto.Player
}

// Drain waits until everything is played.
func (s *Stream) Drain(ctx context.Context) error {
	t := time.NewTicker(drainCheckInterval)
	defer t.Stop()
	for s.Player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return s.Player.Err()
}

func (s *Stream) Close() error {
	return s.Player.Close()
}

// Play plays the track on the default device.
func Play(ctx context.Context, samples audio.Samples) error {
	p, err := NewPlayer()
	if err != nil {
		return err
	}
	return p.Play(ctx, samples)
}
