package pulseaudio

import (
	"github.com/xaionaro-go/denoise/pkg/capture/registry"
)

const (
	Priority = 100
)

func init() {
	registry.RegisterRecorderFactory(Priority, RecorderFactory{})
}

type RecorderFactory struct{}

func (RecorderFactory) NewRecorder() (registry.Recorder, error) {
	return NewRecorder()
}
