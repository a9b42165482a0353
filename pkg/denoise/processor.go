// Package denoise is the entry point for suppressing noise in audio of
// any supported kind: it lazily initializes the engine and glues the
// input adapter, the engine and the output formatter together.
package denoise

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audioinput"
	"github.com/xaionaro-go/denoise/pkg/audiooutput"
	"github.com/xaionaro-go/denoise/pkg/engine"
	"github.com/xaionaro-go/observability"
)

var errModelChanged = errors.New("the model was changed during the initialization")

type Processor struct {
	factory engine.Factory
	config  config

	locker      sync.Mutex
	model       []byte
	generation  uint64
	initialized bool
	current     *engineHandle
	attempt     *initAttempt
	closed      bool
}

type initAttempt struct {
	done chan struct{}
	err  error
}

type engineHandle struct {
	engine.Engine
	users sync.WaitGroup
}

func New(
	factory engine.Factory,
	opts ...Option,
) *Processor {
	p := &Processor{
		factory: factory,
	}
	for _, opt := range opts {
		opt.apply(&p.config)
	}
	p.model = p.config.Model
	return p
}

// Ready initializes the engine unless it is already initialized.
//
// Concurrent callers share a single initialization attempt. A failed
// attempt is not remembered: the next call tries again. If ctx is
// done before the attempt finishes, ctx.Err() is returned and the
// attempt proceeds in background.
func (p *Processor) Ready(ctx context.Context) error {
	return p.ready(ctx, nil)
}

func (p *Processor) ready(
	ctx context.Context,
	model []byte,
) (_err error) {
	logger.Tracef(ctx, "ready")
	defer func() { logger.Tracef(ctx, "/ready: %v", _err) }()

	for {
		attempt, err := p.startInit(ctx, model)
		if err != nil {
			return err
		}
		if attempt == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-attempt.done:
		}
		if errors.Is(attempt.err, errModelChanged) {
			continue
		}
		return attempt.err
	}
}

func (p *Processor) startInit(
	ctx context.Context,
	model []byte,
) (*initAttempt, error) {
	p.locker.Lock()
	defer p.locker.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.current != nil {
		return nil, nil
	}
	if p.attempt != nil {
		return p.attempt, nil
	}

	if !p.initialized && p.model == nil && len(model) > 0 {
		p.model = model
	}

	attempt := &initAttempt{
		done: make(chan struct{}),
	}
	p.attempt = attempt
	generation := p.generation
	model = p.model
	observability.Go(context.WithoutCancel(ctx), func(ctx context.Context) {
		p.initialize(ctx, attempt, generation, model)
	})
	return attempt, nil
}

func (p *Processor) initialize(
	ctx context.Context,
	attempt *initAttempt,
	generation uint64,
	model []byte,
) {
	logger.Debugf(ctx, "initialize: model size: %d", len(model))
	defer func() { logger.Debugf(ctx, "/initialize: %v", attempt.err) }()
	defer close(attempt.done)

	e, err := p.factory(ctx, model)
	if err != nil {
		err = fmt.Errorf("unable to initialize the noise suppression engine: %w", err)
	}
	if err == nil && e == nil {
		err = fmt.Errorf("the noise suppression engine factory returned nil")
	}

	err = p.install(ctx, e, err, generation)
	attempt.err = err

	if p.config.OnInit != nil && !errors.Is(err, errModelChanged) {
		p.config.OnInit(err)
	}
}

func (p *Processor) install(
	ctx context.Context,
	e engine.Engine,
	err error,
	generation uint64,
) error {
	p.locker.Lock()
	defer p.locker.Unlock()
	p.attempt = nil
	switch {
	case err != nil:
	case p.closed:
		err = ErrClosed
	case p.generation != generation:
		err = errModelChanged
	default:
		p.current = &engineHandle{Engine: e}
		p.initialized = true
	}
	if err != nil && e != nil {
		if closeErr := e.Close(); closeErr != nil {
			logger.Errorf(ctx, "unable to close the engine: %v", closeErr)
		}
	}
	return err
}

func (p *Processor) IsReady() bool {
	p.locker.Lock()
	defer p.locker.Unlock()
	return p.current != nil
}

// SetModel replaces the model of the engine. The current engine is
// closed as soon as no call uses it, and the next Ready initializes a
// new one with the given model.
func (p *Processor) SetModel(
	ctx context.Context,
	model []byte,
) {
	logger.Debugf(ctx, "SetModel: size: %d", len(model))
	p.locker.Lock()
	defer p.locker.Unlock()
	p.model = model
	p.generation++
	if p.current == nil {
		return
	}
	h := p.current
	p.current = nil
	observability.Go(ctx, func(ctx context.Context) {
		h.retire(ctx)
	})
}

func (h *engineHandle) retire(ctx context.Context) {
	h.users.Wait()
	if err := h.Close(); err != nil {
		logger.Errorf(ctx, "unable to close the retired engine: %v", err)
	}
}

func (p *Processor) acquire() (*engineHandle, error) {
	p.locker.Lock()
	defer p.locker.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.current == nil {
		return nil, ErrEngineNotInitialized
	}
	p.current.users.Add(1)
	return p.current, nil
}

// Process suppresses noise in the track using the already initialized engine.
func (p *Processor) Process(
	ctx context.Context,
	samples audio.Samples,
) (audio.Samples, error) {
	h, err := p.acquire()
	if err != nil {
		return audio.Samples{}, err
	}
	return p.process(ctx, h, samples)
}

func (p *Processor) process(
	ctx context.Context,
	h *engineHandle,
	samples audio.Samples,
) (audio.Samples, error) {
	defer h.users.Done()
	result, vadProb, err := engine.Process(ctx, h.Engine, samples)
	if err != nil {
		return audio.Samples{}, err
	}
	if p.config.OnResult != nil {
		p.config.OnResult(len(result.Data), vadProb)
	}
	return result, nil
}

func (p *Processor) acquireReady(
	ctx context.Context,
	model []byte,
) (*engineHandle, error) {
	for {
		if err := p.ready(ctx, model); err != nil {
			return nil, err
		}
		h, err := p.acquire()
		if errors.Is(err, ErrEngineNotInitialized) {
			// the model was replaced in between
			continue
		}
		return h, err
	}
}

// Denoise initializes the engine if needed, converts the input into a
// mono track, suppresses the noise in it and renders the result as
// requested by opts.Output. See audioinput.Normalize for the supported
// kinds of input.
func (p *Processor) Denoise(
	ctx context.Context,
	input any,
	opts Options,
) (_ret *audiooutput.Result, _err error) {
	logger.Debugf(ctx, "Denoise: %T, output: %s", input, opts.Output)
	defer func() { logger.Debugf(ctx, "/Denoise: %T: %v", input, _err) }()

	h, err := p.acquireReady(ctx, opts.Model)
	if err != nil {
		return nil, err
	}

	samples, err := audioinput.Normalize(ctx, input, opts.Options)
	if err != nil {
		h.users.Done()
		return nil, err
	}

	result, err := p.process(ctx, h, samples)
	if err != nil {
		return nil, fmt.Errorf("unable to suppress noise: %w", err)
	}

	return audiooutput.Encode(result, opts.Output, inputName(input))
}

func inputName(input any) string {
	switch in := input.(type) {
	case audioinput.Blob:
		return in.Name
	case *audioinput.Blob:
		if in != nil {
			return in.Name
		}
	case interface{ Name() string }:
		return in.Name()
	}
	return ""
}

// Close closes the engine after the calls using it are finished.
func (p *Processor) Close() error {
	p.locker.Lock()
	if p.closed {
		p.locker.Unlock()
		return nil
	}
	p.closed = true
	h := p.current
	p.current = nil
	p.locker.Unlock()

	if h == nil {
		return nil
	}
	h.users.Wait()
	return h.Close()
}
