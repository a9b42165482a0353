package portaudio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/gordonklaus/portaudio"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audio/pcm"
	"github.com/xaionaro-go/observability"
)

const (
	RecordBufferSize = time.Millisecond * 100
)

type RecordStream struct {
	PortAudioStream *portaudio.Stream
	InputBuffer     []float32
	Writer          io.Writer
	CancelFunc      context.CancelFunc
	WaitGroup       sync.WaitGroup
	CloseOnce       sync.Once
	CloseErr        error
}

func newRecordStream(
	ctx context.Context,
	sampleRate audio.SampleRate,
	channels audio.Channel,
) (*RecordStream, error) {
	framesPerBuffer := int(RecordBufferSize.Seconds() * float64(sampleRate))

	buf := make([]float32, framesPerBuffer*int(channels))
	logger.Debugf(ctx, "newRecordStream: %d, %d %s(%d)", sampleRate, channels, RecordBufferSize, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(int(channels), 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, err
	}

	return &RecordStream{
		PortAudioStream: stream,
		InputBuffer:     buf,
	}, nil
}

func (s *RecordStream) init(
	ctx context.Context,
	writer io.Writer,
) error {
	s.Writer = writer
	ctx, s.CancelFunc = context.WithCancel(ctx)

	err := s.PortAudioStream.Start()
	if err != nil {
		return fmt.Errorf("unable to start the stream: %w", err)
	}

	s.WaitGroup.Add(1)
	observability.Go(ctx, func(ctx context.Context) {
		defer s.WaitGroup.Done()
		defer s.CancelFunc()
		s.readerLoop(ctx)
	})
	return nil
}

func (s *RecordStream) readerLoop(
	ctx context.Context,
) (_ret error) {
	logger.Debugf(ctx, "readerLoop")
	defer func() { logger.Debugf(ctx, "/readerLoop: %v", _ret) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		logger.Tracef(ctx, "Read")
		err := s.PortAudioStream.Read()
		logger.Tracef(ctx, "/Read: %v", err)
		if err != nil {
			return fmt.Errorf("unable to read: %w", err)
		}

		n, err := s.Writer.Write(pcm.Float32LEBytes(s.InputBuffer))
		if err != nil {
			return fmt.Errorf("unable to write: %w", err)
		}
		if n != len(s.InputBuffer)*4 {
			return fmt.Errorf("invalid write length: %d != %d", n, len(s.InputBuffer)*4)
		}
	}
}

func (s *RecordStream) Close() error {
	s.CloseOnce.Do(func() {
		if s.CancelFunc != nil {
			s.CancelFunc()
		}
		if err := s.PortAudioStream.Abort(); err != nil {
			s.CloseErr = fmt.Errorf("unable to abort the stream: %w", err)
		}
		s.WaitGroup.Wait()
		if err := s.PortAudioStream.Close(); err != nil && s.CloseErr == nil {
			s.CloseErr = fmt.Errorf("unable to close the stream: %w", err)
		}
	})
	return s.CloseErr
}
