package pulseaudio

import (
	"context"
	"fmt"
	"io"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/capture/registry"
)

type Recorder struct {
	PulseClient *pulse.Client
}

var _ registry.Recorder = (*Recorder)(nil)

func NewRecorder() (*Recorder, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("denoise"))
	if err != nil {
		return nil, fmt.Errorf("unable to open a client to Pulse: %w", err)
	}
	return &Recorder{
		PulseClient: c,
	}, nil
}

func (r *Recorder) Close() error {
	r.PulseClient.Close()
	return nil
}

func (r *Recorder) Ping(ctx context.Context) error {
	source, err := r.PulseClient.DefaultSource()
	if err != nil {
		return err
	}
	logger.Debugf(ctx, "default source: %s", source.Name())
	return nil
}

func (r *Recorder) Record(
	ctx context.Context,
	sampleRate audio.SampleRate,
	channels audio.Channel,
	writer io.Writer,
) (_ registry.RecordStream, _err error) {
	logger.Debugf(ctx, "Record: %dHz, %dch", sampleRate, channels)
	defer func() { logger.Debugf(ctx, "/Record: %v", _err) }()

	chanMap := proto.ChannelMap{proto.ChannelMono}
	switch channels {
	case 1:
	case 2:
		chanMap = proto.ChannelMap{proto.ChannelLeft, proto.ChannelRight}
	default:
		return nil, fmt.Errorf("do not know how to configure %d channels", channels)
	}

	stream, err := r.PulseClient.NewRecord(
		float32Writer{Writer: writer},
		pulse.RecordSampleRate(int(sampleRate)),
		pulse.RecordChannels(chanMap),
		pulse.RecordMediaName("denoise microphone capture"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a record stream: %w", err)
	}

	stream.Start()
	if stream.Error() != nil {
		return nil, fmt.Errorf("an error occurred during recording: %w", stream.Error())
	}

	return newRecordStream(stream), nil
}

type float32Writer struct {
	io.Writer
}

var _ pulse.Writer = float32Writer{}

func (float32Writer) Format() byte {
	return proto.FormatFloat32LE
}
