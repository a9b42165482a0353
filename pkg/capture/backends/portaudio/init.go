package portaudio

import (
	"github.com/xaionaro-go/denoise/pkg/capture/registry"
)

const (
	Priority = 60
)

func init() {
	registry.RegisterRecorderFactory(Priority, RecorderFactory{})
}

type RecorderFactory struct{}

func (RecorderFactory) NewRecorder() (registry.Recorder, error) {
	return NewRecorder()
}
