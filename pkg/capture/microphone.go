package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/datacounter"
	"github.com/xaionaro-go/denoise/pkg/capture/registry"
)

// Microphone is a Stream recorded from a local device.
type Microphone struct {
	*Hub
	Recorder registry.Recorder
	Counter  *datacounter.WriterCounter
}

// OpenMicrophone records the default input device of the
// highest-priority backend that works.
func OpenMicrophone(
	ctx context.Context,
	format Format,
) (*Microphone, error) {
	if format.SampleRate == 0 {
		return nil, fmt.Errorf("sample rate must be set")
	}

	var mErr *multierror.Error
	for _, factory := range registry.RecorderFactories() {
		recorder, err := factory.NewRecorder()
		logger.Debugf(ctx, "initializing recorder %T result is %v", factory, err)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to initialize %T: %w", factory, err))
			continue
		}

		err = recorder.Ping(ctx)
		logger.Debugf(ctx, "pinging recorder %T result is %v", recorder, err)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to ping %T: %w", recorder, err))
			_ = recorder.Close()
			continue
		}

		mic, err := newMicrophone(ctx, recorder, format)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to record with %T: %w", recorder, err))
			_ = recorder.Close()
			continue
		}
		return mic, nil
	}

	err := mErr.ErrorOrNil()
	if errors.Is(err, fs.ErrPermission) {
		return nil, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	if err == nil {
		return nil, ErrMicrophoneUnavailable
	}
	return nil, fmt.Errorf("%w: %w", ErrMicrophoneUnavailable, err)
}

func newMicrophone(
	ctx context.Context,
	recorder registry.Recorder,
	format Format,
) (*Microphone, error) {
	hub := NewHub(format)
	counter := datacounter.NewWriterCounter(hub)
	recordStream, err := recorder.Record(ctx, format.SampleRate, format.Channels, counter)
	if err != nil {
		return nil, err
	}
	mic := &Microphone{
		Hub:      hub,
		Recorder: recorder,
		Counter:  counter,
	}
	hub.AddTrack(&deviceTrack{
		id: uuid.NewString(),
		stop: func() error {
			defer hub.End()
			logger.Debugf(ctx, "stopping the microphone track, received %d bytes", counter.Count())
			var mErr *multierror.Error
			if err := recordStream.Close(); err != nil {
				mErr = multierror.Append(mErr, fmt.Errorf("unable to close the record stream: %w", err))
			}
			if err := recorder.Close(); err != nil {
				mErr = multierror.Append(mErr, fmt.Errorf("unable to close the recorder: %w", err))
			}
			return mErr.ErrorOrNil()
		},
	})
	return mic, nil
}

type deviceTrack struct {
	id       string
	stopOnce sync.Once
	stopErr  error
	stop     func() error
}

func (t *deviceTrack) ID() string {
	return t.id
}

// Stop releases the device; repeated calls are no-ops.
func (t *deviceTrack) Stop() error {
	t.stopOnce.Do(func() {
		t.stopErr = t.stop()
	})
	return t.stopErr
}
