// Package denoisestream suppresses noise in a live float32 LE stream.
package denoisestream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/iamcalledrob/circular"
	"github.com/xaionaro-go/denoise/pkg/audio/pcm"
	"github.com/xaionaro-go/denoise/pkg/engine"
	"github.com/xaionaro-go/observability"
)

const (
	bytesPerSample = 4
)

// Stream reads mono float32 LE PCM at the sample rate of the engine
// from the input and provides the denoised version of it in the same
// format.
type Stream struct {
	state     engine.State
	frameSize int
	cancelFn  context.CancelFunc
	closeOnce sync.Once

	inputBufferLocker  sync.Mutex
	inputBuffer        *circular.Buffer
	inputLen           int
	inputEOF           bool
	outputBufferLocker sync.Mutex
	outputBuffer       *circular.Buffer
	outputLen          int
	outputEOF          bool
	resultError        error
	readCtx            context.Context

	readProgressedCh     chan struct{}
	processInProgressCh  chan struct{}
	processOutProgressCh chan struct{}
	outputProgressedCh   chan struct{}
	processDoneCh        chan struct{}

	vadLocker   sync.Mutex
	lastVADProb float64
}

var _ io.ReadCloser = (*Stream)(nil)

// New starts the pipeline. bufferSize is the size of each of the
// internal buffers in bytes; it is rounded up to fit at least two frames.
func New(
	ctx context.Context,
	input io.Reader,
	e engine.Engine,
	bufferSize uint,
) (*Stream, error) {
	frameSize := e.FrameSize()
	if frameSize <= 0 {
		return nil, fmt.Errorf("invalid frame size of the engine: %d", frameSize)
	}
	if minSize := uint(frameSize * bytesPerSample * 2); bufferSize < minSize {
		bufferSize = minSize
	}

	state, err := e.NewState(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to create a noise suppression state: %w", err)
	}

	ctx, cancelFn := context.WithCancel(ctx)
	s := &Stream{
		state:        state,
		frameSize:    frameSize,
		cancelFn:     cancelFn,
		inputBuffer:  circular.NewBuffer(int(bufferSize)),
		outputBuffer: circular.NewBuffer(int(bufferSize)),
		readCtx:      ctx,

		readProgressedCh:     make(chan struct{}),
		processInProgressCh:  make(chan struct{}),
		processOutProgressCh: make(chan struct{}),
		outputProgressedCh:   make(chan struct{}),
		processDoneCh:        make(chan struct{}),
	}
	observability.Go(ctx, func(ctx context.Context) {
		err := s.readerLoop(ctx, input)
		if err != nil && ctx.Err() == nil {
			s.setError(fmt.Errorf("got an error from the reader loop: %w", err))
			cancelFn()
		}
	})
	observability.Go(ctx, func(ctx context.Context) {
		defer close(s.processDoneCh)
		s.processLoop(ctx)
	})
	return s, nil
}

func (s *Stream) setError(err error) {
	s.outputBufferLocker.Lock()
	defer s.outputBufferLocker.Unlock()
	if s.resultError == nil {
		s.resultError = err
	}
}

func notify(ch *chan struct{}) {
	oldCh := *ch
	*ch = make(chan struct{})
	close(oldCh)
}

func (s *Stream) readerLoop(
	ctx context.Context,
	input io.Reader,
) (_err error) {
	logger.Tracef(ctx, "readerLoop")
	defer func() { logger.Tracef(ctx, "/readerLoop %v", _err) }()

	readBuf := make([]byte, s.frameSize*bytesPerSample)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := input.Read(readBuf)
		if n < 0 {
			return fmt.Errorf("received invalid value of received bytes: %d", n)
		}
		if n > 0 {
			if err := s.pushInput(ctx, readBuf[:n]); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			s.inputBufferLocker.Lock()
			s.inputEOF = true
			notify(&s.readProgressedCh)
			s.inputBufferLocker.Unlock()
			return nil
		}
		if err != nil {
			return fmt.Errorf("unable to read the input: %w", err)
		}
	}
}

func (s *Stream) pushInput(ctx context.Context, data []byte) error {
	s.inputBufferLocker.Lock()
	defer s.inputBufferLocker.Unlock()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		w, err := s.inputBuffer.Write(data)
		if err != nil {
			if errors.Is(err, circular.ErrNoSpace) {
				s.waitLocked(ctx, &s.inputBufferLocker, s.processInProgressCh)
				continue
			}
			return fmt.Errorf("unable to write to the circular buffer: %w", err)
		}
		if w != len(data) {
			return fmt.Errorf("wrote != read: %d != %d", w, len(data))
		}
		s.inputLen += w
		notify(&s.readProgressedCh)
		return nil
	}
}

// waitLocked waits for ch with the locker temporary released.
func (s *Stream) waitLocked(
	ctx context.Context,
	locker sync.Locker,
	ch <-chan struct{},
) {
	locker.Unlock()
	defer locker.Lock()
	select {
	case <-ctx.Done():
	case <-ch:
	}
}

func (s *Stream) processLoop(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "processLoop")
	defer func() { logger.Tracef(ctx, "/processLoop: %v", _err) }()
	defer func() {
		s.outputBufferLocker.Lock()
		defer s.outputBufferLocker.Unlock()
		if _err != nil && s.resultError == nil {
			s.resultError = fmt.Errorf("got an error from the noise suppressor loop: %w", _err)
		}
		s.outputEOF = true
		notify(&s.processOutProgressCh)
	}()

	frameBytes := s.frameSize * bytesPerSample
	logger.Debugf(ctx, "frame size: %d samples", s.frameSize)

	inputBuf := make([]byte, frameBytes)
	outputFrame := make([]float32, s.frameSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		receivedCount, eof, err := s.readFrame(ctx, inputBuf)
		if err != nil {
			return err
		}
		if receivedCount == 0 && eof {
			return nil
		}
		for idx := receivedCount; idx < frameBytes; idx++ {
			inputBuf[idx] = 0
		}

		inputFrame, err := pcm.Float32FromLEBytes(inputBuf)
		if err != nil {
			return err
		}
		vadProb, err := s.state.ProcessFrame(ctx, inputFrame, outputFrame)
		if err != nil {
			return fmt.Errorf("unable to noise-suppress: %w", err)
		}
		s.vadLocker.Lock()
		s.lastVADProb = vadProb
		s.vadLocker.Unlock()

		realSamples := receivedCount / bytesPerSample
		if err := s.pushOutput(ctx, pcm.Float32LEBytes(outputFrame[:realSamples])); err != nil {
			return err
		}
		if eof {
			return nil
		}
	}
}

func (s *Stream) readFrame(
	ctx context.Context,
	buf []byte,
) (int, bool, error) {
	receivedCount := 0
	for {
		var (
			waitCh chan struct{}
			eof    bool
		)
		err := func() error {
			s.inputBufferLocker.Lock()
			defer s.inputBufferLocker.Unlock()
			n, err := s.inputBuffer.Read(buf[receivedCount:])
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("unable to read from the circular buffer: %w", err)
			}
			if n < 0 {
				return fmt.Errorf("received a negative count: %d", n)
			}
			receivedCount += n
			s.inputLen -= n
			waitCh = s.readProgressedCh
			eof = s.inputEOF && s.inputLen == 0
			notify(&s.processInProgressCh)
			return nil
		}()
		if err != nil {
			return receivedCount, false, err
		}
		if receivedCount >= len(buf) {
			return receivedCount, false, nil
		}
		if eof {
			return receivedCount - receivedCount%bytesPerSample, true, nil
		}
		select {
		case <-ctx.Done():
			return receivedCount, false, ctx.Err()
		case <-waitCh:
		}
	}
}

func (s *Stream) pushOutput(ctx context.Context, data []byte) error {
	s.outputBufferLocker.Lock()
	defer s.outputBufferLocker.Unlock()
	for len(data) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		w, err := s.outputBuffer.Write(data)
		if err != nil {
			if errors.Is(err, circular.ErrNoSpace) {
				s.waitLocked(ctx, &s.outputBufferLocker, s.outputProgressedCh)
				continue
			}
			return fmt.Errorf("unable to write to the circular buffer: %w", err)
		}
		s.outputLen += w
		data = data[w:]
	}
	notify(&s.processOutProgressCh)
	return nil
}

// Read implements io.Reader. It returns io.EOF after the input has
// ended and all of it has been processed.
func (s *Stream) Read(p []byte) (_ret int, _err error) {
	logger.Tracef(s.readCtx, "Read, len:%d", len(p))
	defer func() { logger.Tracef(s.readCtx, "/Read, len:%d: %d, %v", len(p), _ret, _err) }()

	s.outputBufferLocker.Lock()
	defer s.outputBufferLocker.Unlock()

	for {
		n, err := s.outputBuffer.Read(p)
		if n > 0 {
			s.outputLen -= n
			notify(&s.outputProgressedCh)
			return n, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return n, err
		}
		if s.resultError != nil {
			return 0, s.resultError
		}
		if s.outputEOF && s.outputLen == 0 {
			return 0, io.EOF
		}
		// processOutProgressCh is also notified when the process loop ends
		s.waitLocked(context.Background(), &s.outputBufferLocker, s.processOutProgressCh)
	}
}

// VoiceProbability returns the voice probability of the last processed frame.
func (s *Stream) VoiceProbability() float64 {
	s.vadLocker.Lock()
	defer s.vadLocker.Unlock()
	return s.lastVADProb
}

// Close stops the pipeline. It does not close the input.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancelFn()
		<-s.processDoneCh
		err = s.state.Close()
	})
	return err
}
