package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audioinput"
	"github.com/xaionaro-go/denoise/pkg/audiooutput"
	"github.com/xaionaro-go/denoise/pkg/capture"
	_ "github.com/xaionaro-go/denoise/pkg/capture/backends/portaudio"
	_ "github.com/xaionaro-go/denoise/pkg/capture/backends/pulseaudio"
	"github.com/xaionaro-go/denoise/pkg/denoise"
	"github.com/xaionaro-go/denoise/pkg/engine"
	"github.com/xaionaro-go/denoise/pkg/engine/implementations/rnnoise"
	"github.com/xaionaro-go/denoise/pkg/playback"
	"github.com/xaionaro-go/denoise/pkg/vad"
	"github.com/xaionaro-go/observability"
)

const (
	voiceGranularity = 30 * time.Millisecond
)

type flags struct {
	OutputFormat audiooutput.Format
	PCMFormat    audio.PCMFormat
	SampleRate   uint32
	Channels     uint32
	ModelPath    string
	EngineName   string
	Microphone   bool
	Live         bool
	Play         bool
	Duration     time.Duration
	FrameSize    int

	VoiceThreshold   float64
	VoiceMinDuration time.Duration
}

func main() {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")

	f := flags{
		OutputFormat: audiooutput.FormatFile,
	}
	pflag.Var(&f.OutputFormat, "format", "output representation: buffer (raw float32 LE), file (WAV) or samples (JSON)")
	pflag.Var(&f.PCMFormat, "pcm-format", "treat the input as raw PCM of this format (u8, s16le, f32le, ...) instead of a container file")
	pflag.Uint32Var(&f.SampleRate, "sample-rate", 0, "the sample rate of raw input; for other input, resample to this rate")
	pflag.Uint32Var(&f.Channels, "channels", 1, "the amount of channels of raw input or of the microphone")
	pflag.StringVar(&f.ModelPath, "model", "", "path to a custom model of the engine")
	pflag.StringVar(&f.EngineName, "engine", "rnnoise", "noise suppression engine: rnnoise or passthrough")
	pflag.BoolVar(&f.Microphone, "mic", false, "record the microphone instead of reading an input file")
	pflag.BoolVar(&f.Live, "live", false, "play the denoised microphone back live, until interrupted")
	pflag.BoolVar(&f.Play, "play", false, "play the denoised result")
	pflag.DurationVar(&f.Duration, "duration", audioinput.DefaultDuration, "how long to record the microphone")
	pflag.IntVar(&f.FrameSize, "frame-size", audioinput.DefaultFrameSize, "the amount of samples per channel in a captured frame")
	pflag.Float64Var(&f.VoiceThreshold, "voice-threshold", 0, "if positive, report where the voice starts in the denoised audio, using this voice probability threshold")
	pflag.DurationVar(&f.VoiceMinDuration, "voice-min-duration", 100*time.Millisecond, "how long the voice should last to be reported")
	pflag.Parse()

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	ctx, cancelFn := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancelFn()

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	factory, err := engineFactory(f.EngineName)
	assertNoError(err)
	var model []byte
	if f.ModelPath != "" {
		model, err = os.ReadFile(f.ModelPath)
		assertNoError(err)
	}

	if f.Live {
		if pflag.NArg() != 0 {
			panic(fmt.Errorf("no arguments expected in the live mode"))
		}
		assertNoError(runLive(ctx, factory, model, f))
		return
	}

	processor := denoise.New(factory, denoise.OptionModel(model))
	defer processor.Close()

	var (
		input      any
		outputPath string
		stopInput  func()
	)
	switch {
	case f.Microphone:
		if pflag.NArg() != 1 {
			panic(fmt.Errorf("expected exactly one argument: <output-file>"))
		}
		outputPath = pflag.Arg(0)
		mic, err := capture.OpenMicrophone(ctx, capture.Format{
			SampleRate: audioinput.DefaultSampleRate,
			Channels:   audio.Channel(f.Channels),
		})
		assertNoError(err)
		stopInput = func() {
			if err := capture.StopTracks(mic); err != nil {
				logger.Errorf(ctx, "unable to stop the microphone: %v", err)
			}
		}
		logger.Infof(ctx, "recording %v from the microphone", f.Duration)
		input = capture.Stream(mic)
	default:
		if pflag.NArg() != 2 {
			panic(fmt.Errorf("expected exactly two arguments: <input-file|-> <output-file|->"))
		}
		outputPath = pflag.Arg(1)
		input, err = readInput(pflag.Arg(0), f.PCMFormat != audio.PCMFormatUndefined)
		assertNoError(err)
	}

	samplesResult, err := processor.Denoise(ctx, input, denoise.Options{
		Options: audioinput.Options{
			SampleRate: audio.SampleRate(f.SampleRate),
			PCMFormat:  f.PCMFormat,
			Channels:   audio.Channel(f.Channels),
			Duration:   f.Duration,
			FrameSize:  f.FrameSize,
		},
		Output: audiooutput.FormatSamples,
	})
	if stopInput != nil {
		stopInput()
	}
	assertNoError(err)
	samples := audio.Samples{
		Data:       samplesResult.Samples,
		SampleRate: samplesResult.SampleRate,
	}
	logger.Infof(ctx, "denoised %v of audio at %dHz", samples.Duration(), samples.SampleRate)

	if f.VoiceThreshold > 0 {
		assertNoError(reportVoice(ctx, factory, model, samples, f.VoiceThreshold, f.VoiceMinDuration))
	}

	if f.Play {
		assertNoError(playback.Play(ctx, samples))
	}

	result, err := audiooutput.Encode(samples, f.OutputFormat, inputName(input))
	assertNoError(err)
	payload, _, err := result.Payload()
	assertNoError(err)
	assertNoError(writeOutput(outputPath, payload))
}

func reportVoice(
	ctx context.Context,
	factory engine.Factory,
	model []byte,
	samples audio.Samples,
	threshold float64,
	minDuration time.Duration,
) error {
	e, err := factory(ctx, model)
	if err != nil {
		return fmt.Errorf("unable to initialize the engine: %w", err)
	}
	defer e.Close()

	detector, err := vad.NewDetector(ctx, e, voiceGranularity)
	if err != nil {
		return fmt.Errorf("unable to initialize the voice detector: %w", err)
	}
	confidence, firstVoice, err := detector.FindNextVoice(ctx, samples, threshold, minDuration)
	if err != nil {
		return fmt.Errorf("unable to detect the voice: %w", err)
	}
	if firstVoice < 0 {
		logger.Infof(ctx, "no voice found (max voice probability: %.2f)", confidence)
		return nil
	}
	logger.Infof(ctx, "the voice starts at %v (max voice probability: %.2f)", firstVoice, confidence)
	return nil
}

func engineFactory(name string) (engine.Factory, error) {
	switch name {
	case "rnnoise":
		return rnnoise.Factory, nil
	case "passthrough", "dummy":
		return engine.DummyFactory, nil
	}
	return nil, fmt.Errorf("unknown engine '%s'", name)
}

func readInput(path string, isRaw bool) (any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read '%s': %w", path, err)
	}
	if isRaw {
		return data, nil
	}
	return &audioinput.Blob{
		Name: path,
		Data: data,
	}, nil
}

func inputName(input any) string {
	if blob, ok := input.(*audioinput.Blob); ok && blob.Name != "-" {
		return blob.Name
	}
	return ""
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0640)
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
