package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type factoryLow struct{}

func (factoryLow) NewRecorder() (Recorder, error) { return nil, nil }

type factoryHigh struct{}

func (factoryHigh) NewRecorder() (Recorder, error) { return nil, nil }

func TestRecorderFactoriesPriority(t *testing.T) {
	unregisterAll()
	defer unregisterAll()

	RegisterRecorderFactory(10, factoryLow{})
	RegisterRecorderFactory(100, &factoryHigh{})

	factories := RecorderFactories()
	require.Len(t, factories, 2)
	require.IsType(t, &factoryHigh{}, factories[0])
	require.IsType(t, factoryLow{}, factories[1])

	require.Panics(t, func() {
		RegisterRecorderFactory(1, factoryLow{})
	})
}
