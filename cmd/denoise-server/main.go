package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/denoise/pkg/audiooutput"
	"github.com/xaionaro-go/denoise/pkg/capture"
	_ "github.com/xaionaro-go/denoise/pkg/capture/backends/portaudio"
	_ "github.com/xaionaro-go/denoise/pkg/capture/backends/pulseaudio"
	"github.com/xaionaro-go/denoise/pkg/config"
	"github.com/xaionaro-go/denoise/pkg/controller"
	"github.com/xaionaro-go/denoise/pkg/denoise"
	"github.com/xaionaro-go/denoise/pkg/engine"
	"github.com/xaionaro-go/denoise/pkg/engine/implementations/rnnoise"
	"github.com/xaionaro-go/denoise/pkg/metrics"
	"github.com/xaionaro-go/denoise/pkg/server"
	"github.com/xaionaro-go/observability"
)

func main() {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	configPath := pflag.String("config", "", "path to a YAML config")
	printConfig := pflag.Bool("print-config", false, "print the resulting config and exit")
	listenAddr := pflag.String("listen", config.Default().Listen, "the address to serve the HTTP API at")
	maxConcurrent := pflag.Int("max-concurrent", config.Default().MaxConcurrent, "the maximal amount of concurrently processed requests")
	modelPath := pflag.String("model", "", "path to a custom model of the engine")
	microphoneEnabled := pflag.Bool("microphone", config.Default().Microphone.Enabled, "allow recording the local microphone")
	passthrough := pflag.Bool("passthrough", false, "do not suppress noise, only convert the audio (for debugging)")
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

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		assertNoError(err)
	}
	flags := pflag.CommandLine
	if flags.Changed("listen") {
		cfg.Listen = *listenAddr
	}
	if flags.Changed("max-concurrent") {
		cfg.MaxConcurrent = *maxConcurrent
	}
	if flags.Changed("model") {
		cfg.ModelPath = *modelPath
	}
	if flags.Changed("microphone") {
		cfg.Microphone.Enabled = *microphoneEnabled
	}
	assertNoError(cfg.Validate())

	if *printConfig {
		b, err := cfg.Bytes()
		assertNoError(err)
		fmt.Printf("%s", b)
		return
	}

	var model []byte
	if cfg.ModelPath != "" {
		var err error
		model, err = os.ReadFile(cfg.ModelPath)
		assertNoError(err)
	}

	var factory engine.Factory = rnnoise.Factory
	if *passthrough {
		factory = engine.DummyFactory
	}
	processor := denoise.New(
		factory,
		denoise.OptionModel(model),
		denoise.OptionOnInit(metrics.ObserveEngineInit),
		denoise.OptionOnResult(metrics.ObserveResult),
	)
	defer processor.Close()

	ctrl := controller.New(processor, controller.Options{
		OpenMicrophone: func(ctx context.Context) (capture.Stream, error) {
			if !cfg.Microphone.Enabled {
				return nil, fmt.Errorf("%w: the microphone is disabled in the config: %w", capture.ErrPermissionDenied, fs.ErrPermission)
			}
			mic, err := capture.OpenMicrophone(ctx, capture.Format{
				SampleRate: cfg.Microphone.SampleRate,
				Channels:   cfg.Microphone.Channels,
			})
			if err != nil {
				return nil, err
			}
			return mic, nil
		},
		AutoStop: cfg.Microphone.AutoStop,
		OnResult: func(result *audiooutput.Result, err error) {
			if err != nil {
				logger.Errorf(ctx, "the automatically stopped recording failed: %v", err)
				return
			}
			logger.Infof(ctx, "the recording was stopped automatically and denoised (%s), it is returned by the next microphone stop request", result.Format)
		},
		OnRecording: metrics.ObserveRecording,
		Output:      cfg.OutputFormat(),
		FrameSize:   cfg.Microphone.FrameSize,
	})

	// warming up the engine, so that the first request is not delayed
	observability.Go(ctx, func(ctx context.Context) {
		if err := ctrl.Init(ctx); err != nil {
			logger.Errorf(ctx, "unable to initialize the engine: %v", err)
		}
	})

	err := server.New(ctx, processor, ctrl, cfg).ListenAndServe(ctx)
	if err != nil && ctx.Err() == nil {
		assertNoError(err)
	}
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
