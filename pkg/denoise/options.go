package denoise

import (
	"github.com/xaionaro-go/denoise/pkg/audioinput"
	"github.com/xaionaro-go/denoise/pkg/audiooutput"
)

// Options are the options of a single Denoise call.
type Options struct {
	audioinput.Options

	// Output is the requested representation of the result.
	Output audiooutput.Format

	// Model is used by the initialization of the engine, if this
	// call is the one that triggers it. It is ignored otherwise;
	// use Processor.SetModel to replace the model.
	Model []byte
}

type config struct {
	Model    []byte
	OnInit   func(err error)
	OnResult func(samples int, vadProbability float64)
}

type Option interface {
	apply(*config)
}

type OptionModel []byte

func (opt OptionModel) apply(cfg *config) {
	cfg.Model = opt
}

// OptionOnInit is called after every initialization attempt of the engine.
type OptionOnInit func(err error)

func (opt OptionOnInit) apply(cfg *config) {
	cfg.OnInit = opt
}

// OptionOnResult is called after every successfully processed track.
type OptionOnResult func(samples int, vadProbability float64)

func (opt OptionOnResult) apply(cfg *config) {
	cfg.OnResult = opt
}
