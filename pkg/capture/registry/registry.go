package registry

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"

	"github.com/xaionaro-go/denoise/pkg/audio"
)

// Recorder is a microphone backend recording interleaved float32 LE PCM.
type Recorder interface {
	io.Closer

	Ping(ctx context.Context) error
	Record(
		ctx context.Context,
		sampleRate audio.SampleRate,
		channels audio.Channel,
		writer io.Writer,
	) (RecordStream, error)
}

type RecordStream interface {
	io.Closer
}

type RecorderFactory interface {
	NewRecorder() (Recorder, error)
}

type recorderFactoryWithPriority struct {
	Priority int
	RecorderFactory
}

var (
	recorderFactoryRegistryLocker sync.Mutex
	recorderFactoryRegistry       = map[reflect.Type]recorderFactoryWithPriority{}
)

func RegisterRecorderFactory(
	priority int,
	recorderFactory RecorderFactory,
) {
	t := reflect.ValueOf(recorderFactory).Type()
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	recorderFactoryRegistryLocker.Lock()
	defer recorderFactoryRegistryLocker.Unlock()
	if _, ok := recorderFactoryRegistry[t]; ok {
		panic(fmt.Errorf("there is already registered a factory of Recorder of type %v", t))
	}
	recorderFactoryRegistry[t] = recorderFactoryWithPriority{
		Priority:        priority,
		RecorderFactory: recorderFactory,
	}
}

// RecorderFactories returns the registered factories, the highest priority first.
func RecorderFactories() []RecorderFactory {
	recorderFactoryRegistryLocker.Lock()
	var factoriesWithPriorities []recorderFactoryWithPriority
	for _, factory := range recorderFactoryRegistry {
		factoriesWithPriorities = append(factoriesWithPriorities, factory)
	}
	recorderFactoryRegistryLocker.Unlock()

	sort.Slice(factoriesWithPriorities, func(i, j int) bool {
		return factoriesWithPriorities[i].Priority > factoriesWithPriorities[j].Priority
	})

	var factories []RecorderFactory
	for _, factory := range factoriesWithPriorities {
		factories = append(factories, factory.RecorderFactory)
	}

	return factories
}

func unregisterAll() {
	recorderFactoryRegistryLocker.Lock()
	defer recorderFactoryRegistryLocker.Unlock()
	recorderFactoryRegistry = map[reflect.Type]recorderFactoryWithPriority{}
}
