package denoise

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audio/pcm"
	"github.com/xaionaro-go/denoise/pkg/audioinput"
	"github.com/xaionaro-go/denoise/pkg/audiooutput"
	"github.com/xaionaro-go/denoise/pkg/capture"
	"github.com/xaionaro-go/denoise/pkg/engine"
)

type countingFactory struct {
	calls   atomic.Int64
	closed  atomic.Int64
	failFor atomic.Int64
	release chan struct{}

	locker sync.Mutex
	models [][]byte
}

func newCountingFactory() *countingFactory {
	f := &countingFactory{release: make(chan struct{})}
	close(f.release)
	return f
}

func (f *countingFactory) Factory(ctx context.Context, model []byte) (engine.Engine, error) {
	f.calls.Add(1)
	f.locker.Lock()
	f.models = append(f.models, model)
	f.locker.Unlock()
	<-f.release
	if f.failFor.Load() > 0 {
		f.failFor.Add(-1)
		return nil, errors.New("unable to load the model")
	}
	return &closeCountingEngine{Dummy: engine.NewDummy(48000, 480), closed: &f.closed}, nil
}

type closeCountingEngine struct {
	*engine.Dummy
	closed *atomic.Int64
}

func (e *closeCountingEngine) Close() error {
	e.closed.Add(1)
	return nil
}

func TestReadyInitializesOnce(t *testing.T) {
	ctx := context.Background()
	f := newCountingFactory()
	f.release = make(chan struct{})
	p := New(f.Factory)
	defer p.Close()

	require.False(t, p.IsReady())

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for idx := range errs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = p.Ready(ctx)
		}(idx)
	}
	time.Sleep(10 * time.Millisecond)
	close(f.release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), f.calls.Load())
	require.True(t, p.IsReady())

	require.NoError(t, p.Ready(ctx))
	require.Equal(t, int64(1), f.calls.Load())
}

func TestReadyFailureIsNotRemembered(t *testing.T) {
	ctx := context.Background()
	f := newCountingFactory()
	f.failFor.Store(1)

	var initErrs []error
	p := New(f.Factory, OptionOnInit(func(err error) {
		initErrs = append(initErrs, err)
	}))
	defer p.Close()

	require.Error(t, p.Ready(ctx))
	require.False(t, p.IsReady())

	require.NoError(t, p.Ready(ctx))
	require.True(t, p.IsReady())
	require.Equal(t, int64(2), f.calls.Load())
	require.Len(t, initErrs, 2)
	require.Error(t, initErrs[0])
	require.NoError(t, initErrs[1])
}

func TestReadyCancelledWaiter(t *testing.T) {
	f := newCountingFactory()
	f.release = make(chan struct{})
	p := New(f.Factory)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Ready(ctx), context.DeadlineExceeded)

	close(f.release)
	require.NoError(t, p.Ready(context.Background()))
	require.Equal(t, int64(1), f.calls.Load())
}

func TestProcessNotInitialized(t *testing.T) {
	ctx := context.Background()
	p := New(newCountingFactory().Factory)
	defer p.Close()

	_, err := p.Process(ctx, audio.Samples{Data: []float32{0}, SampleRate: 48000})
	require.ErrorIs(t, err, ErrEngineNotInitialized)
}

func TestDenoiseInputs(t *testing.T) {
	ctx := context.Background()
	f := newCountingFactory()

	var processed atomic.Int64
	p := New(f.Factory, OptionOnResult(func(samples int, vadProbability float64) {
		processed.Add(int64(samples))
	}))
	defer p.Close()

	track := make([]float32, 1000)
	for idx := range track {
		track[idx] = float32(idx%100) / 100
	}
	wavData, err := audiooutput.EncodeWAV(audio.Samples{Data: track, SampleRate: 16000})
	require.NoError(t, err)

	inputs := map[string]any{
		"raw_buffer":   pcm.Float32LEBytes(track),
		"sample_array": track,
		"samples":      audio.Samples{Data: track, SampleRate: 48000},
		"blob":         &audioinput.Blob{Name: "voice.wav", Data: wavData},
	}
	for name, input := range inputs {
		for _, format := range []audiooutput.Format{audiooutput.FormatBuffer, audiooutput.FormatFile, audiooutput.FormatSamples} {
			t.Run(name+"_"+format.String(), func(t *testing.T) {
				result, err := p.Denoise(ctx, input, Options{Output: format})
				require.NoError(t, err)
				require.Equal(t, format, result.Format)
				switch format {
				case audiooutput.FormatBuffer:
					require.NotEmpty(t, result.Buffer)
				case audiooutput.FormatFile:
					require.NotNil(t, result.File)
					require.Equal(t, "RIFF", string(result.File.Data[:4]))
					if name == "blob" {
						require.Equal(t, "voice_denoised.wav", result.File.Name)
						require.Equal(t, audio.SampleRate(16000), result.SampleRate)
					}
				case audiooutput.FormatSamples:
					require.Len(t, result.Samples, len(track))
				}
			})
		}
	}
	require.Equal(t, int64(1), f.calls.Load())
	require.NotZero(t, processed.Load())
}

func TestDenoisePassthrough(t *testing.T) {
	ctx := context.Background()
	p := New(engine.DummyFactory)
	defer p.Close()

	track := []float32{0.1, -0.2, 0.3, -0.4, 0.5}
	result, err := p.Denoise(ctx, track, Options{Output: audiooutput.FormatSamples})
	require.NoError(t, err)
	require.Len(t, result.Samples, len(track))
	for idx := range track {
		assert.InDelta(t, track[idx], result.Samples[idx], 1e-6)
	}
}

func TestDenoiseInvalid(t *testing.T) {
	ctx := context.Background()
	p := New(engine.DummyFactory)
	defer p.Close()

	_, err := p.Denoise(ctx, nil, Options{})
	require.ErrorIs(t, err, audioinput.ErrInvalidInput)
	_, err = p.Denoise(ctx, []float32{}, Options{})
	require.ErrorIs(t, err, audioinput.ErrEmptyAudio)
	_, err = p.Denoise(ctx, 3.14, Options{})
	require.ErrorIs(t, err, audioinput.ErrUnsupportedInputType)
	_, err = p.Denoise(ctx, audioinput.Blob{Name: "x.wav", Data: []byte("garbage")}, Options{})
	require.ErrorIs(t, err, audioinput.ErrDecode)
}

func TestDenoiseStream(t *testing.T) {
	ctx := context.Background()
	p := New(engine.DummyFactory)
	defer p.Close()
	require.NoError(t, p.Ready(ctx))

	hub := capture.NewHub(capture.Format{SampleRate: 48000, Channels: 1})
	stopCh := make(chan struct{})
	defer close(stopCh)
	go func() {
		frame := make([]float32, 480)
		for {
			select {
			case <-stopCh:
				return
			case <-time.After(time.Millisecond):
			}
			_ = hub.Push(frame)
		}
	}()

	result, err := p.Denoise(ctx, capture.Stream(hub), Options{
		Options: audioinput.Options{
			Duration:  50 * time.Millisecond,
			FrameSize: 480,
		},
		Output: audiooutput.FormatSamples,
	})
	require.NoError(t, err)
	require.Len(t, result.Samples, 2400)
}

func TestModelOnlyAtFirstInit(t *testing.T) {
	ctx := context.Background()
	f := newCountingFactory()
	p := New(f.Factory)
	defer p.Close()

	_, err := p.Denoise(ctx, []float32{0.1}, Options{Model: []byte("first")})
	require.NoError(t, err)
	_, err = p.Denoise(ctx, []float32{0.1}, Options{Model: []byte("second")})
	require.NoError(t, err)

	require.Equal(t, int64(1), f.calls.Load())
	require.Equal(t, [][]byte{[]byte("first")}, f.models)
}

func TestSetModel(t *testing.T) {
	ctx := context.Background()
	f := newCountingFactory()
	p := New(f.Factory, OptionModel("initial"))

	require.NoError(t, p.Ready(ctx))
	p.SetModel(ctx, []byte("replacement"))
	require.False(t, p.IsReady())
	require.Eventually(t, func() bool {
		return f.closed.Load() == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, p.Ready(ctx))
	require.True(t, p.IsReady())
	require.Equal(t, [][]byte{[]byte("initial"), []byte("replacement")}, f.models)

	require.NoError(t, p.Close())
	require.Equal(t, int64(2), f.closed.Load())
	require.ErrorIs(t, p.Ready(ctx), ErrClosed)
}

func TestSetModelWaitsForUsers(t *testing.T) {
	ctx := context.Background()
	f := newCountingFactory()
	p := New(f.Factory)
	defer p.Close()
	require.NoError(t, p.Ready(ctx))

	h, err := p.acquire()
	require.NoError(t, err)
	p.SetModel(ctx, nil)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, int64(0), f.closed.Load())

	h.users.Done()
	require.Eventually(t, func() bool {
		return f.closed.Load() == 1
	}, time.Second, time.Millisecond)
}
