// Package controller keeps the state of a file/microphone denoising
// front-end: readiness of the engine, progress, the last error, the
// drag-and-drop state and the microphone session.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audio/pcm"
	"github.com/xaionaro-go/denoise/pkg/audioinput"
	"github.com/xaionaro-go/denoise/pkg/audiooutput"
	"github.com/xaionaro-go/denoise/pkg/capture"
	"github.com/xaionaro-go/denoise/pkg/denoise"
)

const (
	DefaultAutoStop  = 30 * time.Second
	DefaultFrameSize = 4096
)

var (
	ErrAlreadyRecording = errors.New("the microphone is already recording")
	ErrNotRecording     = errors.New("the microphone is not recording")
)

type Processor interface {
	Ready(ctx context.Context) error
	Denoise(ctx context.Context, input any, opts denoise.Options) (*audiooutput.Result, error)
	SetModel(ctx context.Context, model []byte)
}

var _ Processor = (*denoise.Processor)(nil)

type Options struct {
	// OpenMicrophone acquires a live stream; capture.OpenMicrophone is used if nil.
	OpenMicrophone func(ctx context.Context) (capture.Stream, error)

	// AutoStop is how long a microphone session lasts unless stopped explicitly.
	AutoStop time.Duration

	// OnResult receives the result of a session stopped by AutoStop.
	OnResult func(*audiooutput.Result, error)

	// Monitor receives every captured (mono) frame as is.
	Monitor capture.FrameHandler

	// OnRecording is called when a microphone session starts and ends.
	OnRecording func(recording bool)

	Output    audiooutput.Format
	FrameSize int
}

type State struct {
	Ready      bool   `json:"ready"`
	Processing bool   `json:"processing"`
	Recording  bool   `json:"recording"`
	Dragging   bool   `json:"dragging"`
	Error      string `json:"error,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	SessionID  string `json:"session_id,omitempty"`

	// ResultReady is set when an automatically stopped session has a
	// result waiting to be taken by StopMicrophone.
	ResultReady bool `json:"result_ready"`
}

type Controller struct {
	processor Processor
	options   Options

	locker      sync.Mutex
	state       State
	processing  int
	session     *session
	autoStopped *autoStopped
}

// autoStopped is the outcome of a session stopped by the timer.
type autoStopped struct {
	done   chan struct{}
	result *audiooutput.Result
	err    error
}

type session struct {
	id     string
	stream capture.Stream
	node   capture.Node
	timer  *time.Timer

	locker    sync.Mutex
	collected []float32
}

func New(
	processor Processor,
	opts Options,
) *Controller {
	if opts.AutoStop <= 0 {
		opts.AutoStop = DefaultAutoStop
	}
	if opts.FrameSize <= 0 {
		opts.FrameSize = DefaultFrameSize
	}
	if opts.OpenMicrophone == nil {
		opts.OpenMicrophone = func(ctx context.Context) (capture.Stream, error) {
			mic, err := capture.OpenMicrophone(ctx, capture.Format{
				SampleRate: audioinput.DefaultSampleRate,
				Channels:   1,
			})
			if err != nil {
				return nil, err
			}
			return mic, nil
		}
	}
	return &Controller{
		processor: processor,
		options:   opts,
	}
}

// State returns the current state. Processing is set while any call is
// being processed; FileName is the name of the most recent file.
func (c *Controller) State() State {
	c.locker.Lock()
	defer c.locker.Unlock()
	state := c.state
	state.Processing = c.processing > 0
	return state
}

func (c *Controller) setState(fn func(*State)) {
	c.locker.Lock()
	defer c.locker.Unlock()
	fn(&c.state)
}

// Init initializes the engine.
func (c *Controller) Init(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Init")
	defer func() { logger.Debugf(ctx, "/Init: %v", _err) }()

	err := c.processor.Ready(ctx)
	c.setState(func(s *State) {
		s.Ready = err == nil
		s.Error = errorString(err)
	})
	return err
}

// SetModel replaces the model of the engine; the controller is not
// ready until the next Init.
func (c *Controller) SetModel(ctx context.Context, model []byte) {
	c.processor.SetModel(ctx, model)
	c.setState(func(s *State) {
		s.Ready = false
	})
}

func (c *Controller) SetDragging(dragging bool) {
	c.setState(func(s *State) {
		s.Dragging = dragging
	})
}

// ProcessFile denoises a dropped or picked file.
func (c *Controller) ProcessFile(
	ctx context.Context,
	file *audioinput.Blob,
) (*audiooutput.Result, error) {
	return c.ProcessFileWithOptions(ctx, file, denoise.Options{
		Output: c.options.Output,
	})
}

// ProcessFileWithOptions is ProcessFile with the options of the
// controller overridden.
func (c *Controller) ProcessFileWithOptions(
	ctx context.Context,
	file *audioinput.Blob,
	opts denoise.Options,
) (_ret *audiooutput.Result, _err error) {
	logger.Debugf(ctx, "ProcessFile")
	defer func() { logger.Debugf(ctx, "/ProcessFile: %v", _err) }()

	c.setState(func(s *State) {
		c.processing++
		s.Dragging = false
		s.Error = ""
		s.FileName = ""
		if file != nil {
			s.FileName = file.Name
		}
	})
	return c.denoise(ctx, file, opts)
}

// denoise expects the caller to have accounted the call in c.processing.
func (c *Controller) denoise(
	ctx context.Context,
	input any,
	opts denoise.Options,
) (*audiooutput.Result, error) {
	result, err := c.processor.Denoise(ctx, input, opts)
	c.setState(func(s *State) {
		c.processing--
		s.Error = errorString(err)
		if err == nil {
			s.Ready = true
		}
	})
	return result, err
}

// StartMicrophone opens the microphone and starts collecting audio until
// StopMicrophone is called or AutoStop elapses.
func (c *Controller) StartMicrophone(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "StartMicrophone")
	defer func() { logger.Debugf(ctx, "/StartMicrophone: %v", _err) }()

	c.locker.Lock()
	if c.state.Recording {
		c.locker.Unlock()
		return ErrAlreadyRecording
	}
	c.state.Recording = true
	c.state.Error = ""
	if c.autoStopped != nil {
		logger.Warnf(ctx, "dropping the result of the automatically stopped session, it was never taken")
		c.autoStopped = nil
		c.state.ResultReady = false
	}
	c.locker.Unlock()

	s, err := c.startSession(ctx)
	c.locker.Lock()
	if err != nil {
		c.state.Recording = false
		c.state.Error = errorString(err)
		c.locker.Unlock()
		return err
	}
	c.session = s
	c.state.SessionID = s.id
	c.state.FileName = ""
	autoStopCtx := context.WithoutCancel(ctx)
	s.timer = time.AfterFunc(c.options.AutoStop, func() {
		c.autoStop(autoStopCtx, s)
	})
	c.locker.Unlock()

	if c.options.OnRecording != nil {
		c.options.OnRecording(true)
	}
	return nil
}

func (c *Controller) startSession(ctx context.Context) (*session, error) {
	stream, err := c.options.OpenMicrophone(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to open the microphone: %w", err)
	}

	channels := stream.Format().Channels
	s := &session{
		id:     uuid.New().String(),
		stream: stream,
	}
	s.node, err = stream.Attach(ctx, c.options.FrameSize, func(ctx context.Context, frame []float32) {
		mono := pcm.DownmixFloat32(channels, frame)
		s.locker.Lock()
		s.collected = append(s.collected, mono...)
		s.locker.Unlock()
		if c.options.Monitor != nil {
			c.options.Monitor(ctx, mono)
		}
	})
	if err != nil {
		if stopErr := capture.StopTracks(stream); stopErr != nil {
			logger.Errorf(ctx, "unable to stop the tracks: %v", stopErr)
		}
		return nil, fmt.Errorf("unable to attach to the microphone stream: %w", err)
	}

	logger.Debugf(ctx, "started the microphone session %s", s.id)
	return s, nil
}

// autoStop finishes the session and keeps the result until it is taken
// by StopMicrophone.
func (c *Controller) autoStop(ctx context.Context, s *session) {
	logger.Debugf(ctx, "autoStop: %s", s.id)
	pending := &autoStopped{done: make(chan struct{})}
	c.locker.Lock()
	if c.session != s {
		c.locker.Unlock()
		return
	}
	c.session = nil
	c.autoStopped = pending
	c.locker.Unlock()

	pending.result, pending.err = c.finishSession(ctx, s)
	close(pending.done)
	c.locker.Lock()
	if c.autoStopped == pending {
		c.state.ResultReady = true
	}
	c.locker.Unlock()

	if c.options.OnResult != nil {
		c.options.OnResult(pending.result, pending.err)
	}
}

// StopMicrophone stops the microphone session and denoises the collected audio.
func (c *Controller) StopMicrophone(ctx context.Context) (_ret *audiooutput.Result, _err error) {
	logger.Debugf(ctx, "StopMicrophone")
	defer func() { logger.Debugf(ctx, "/StopMicrophone: %v", _err) }()

	c.locker.Lock()
	s := c.session
	c.session = nil
	pending := c.autoStopped
	c.locker.Unlock()
	if s != nil {
		return c.finishSession(ctx, s)
	}
	if pending == nil {
		return nil, ErrNotRecording
	}
	return c.takeAutoStopped(ctx, pending)
}

func (c *Controller) takeAutoStopped(
	ctx context.Context,
	pending *autoStopped,
) (*audiooutput.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-pending.done:
	}

	c.locker.Lock()
	defer c.locker.Unlock()
	if c.autoStopped != pending {
		// taken concurrently
		return nil, ErrNotRecording
	}
	c.autoStopped = nil
	c.state.ResultReady = false
	return pending.result, pending.err
}

func (c *Controller) finishSession(
	ctx context.Context,
	s *session,
) (*audiooutput.Result, error) {
	s.timer.Stop()
	if err := s.node.Detach(); err != nil {
		logger.Errorf(ctx, "unable to detach from the microphone stream: %v", err)
	}
	stopErr := capture.StopTracks(s.stream)

	s.locker.Lock()
	samples := audio.Samples{
		Data:       s.collected,
		SampleRate: s.stream.Format().SampleRate,
	}
	s.collected = nil
	s.locker.Unlock()
	logger.Debugf(ctx, "the microphone session %s collected %v of audio", s.id, samples.Duration())

	c.setState(func(st *State) {
		st.Recording = false
		st.SessionID = ""
		if stopErr == nil {
			c.processing++
		}
	})
	if c.options.OnRecording != nil {
		c.options.OnRecording(false)
	}
	if stopErr != nil {
		c.setState(func(st *State) {
			st.Error = errorString(stopErr)
		})
		return nil, fmt.Errorf("unable to stop the microphone: %w", stopErr)
	}
	return c.denoise(ctx, samples, denoise.Options{
		Output: c.options.Output,
	})
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
