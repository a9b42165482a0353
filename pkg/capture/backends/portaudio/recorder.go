package portaudio

import (
	"context"
	"fmt"
	"io"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/gordonklaus/portaudio"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/capture/registry"
)

type Recorder struct{}

var _ registry.Recorder = (*Recorder)(nil)

func NewRecorder() (*Recorder, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("unable to initialize PortAudio: %w", err)
	}
	return &Recorder{}, nil
}

func (*Recorder) Close() error {
	return portaudio.Terminate()
}

func (*Recorder) Ping(
	ctx context.Context,
) error {
	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return err
	}
	logger.Debugf(ctx, "device info: %#+v", info)

	if devices, err := portaudio.Devices(); err == nil {
		for idx, device := range devices {
			logger.Tracef(ctx, "devices[%d]: %#+v", idx, device)
		}
	}
	return nil
}

func (*Recorder) Record(
	ctx context.Context,
	sampleRate audio.SampleRate,
	channels audio.Channel,
	writer io.Writer,
) (registry.RecordStream, error) {
	s, err := newRecordStream(ctx, sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("unable to open the stream: %w", err)
	}
	if err := s.init(ctx, writer); err != nil {
		s.Close()
		return nil, fmt.Errorf("unable to post-initialize the stream: %w", err)
	}
	return s, nil
}
