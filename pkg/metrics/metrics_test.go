package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveEngineInit(t *testing.T) {
	failures := testutil.ToFloat64(EngineInits.WithLabelValues("failure"))
	successes := testutil.ToFloat64(EngineInits.WithLabelValues("success"))

	ObserveEngineInit(errors.New("no model"))
	require.Equal(t, failures+1, testutil.ToFloat64(EngineInits.WithLabelValues("failure")))

	ObserveEngineInit(nil)
	require.Equal(t, successes+1, testutil.ToFloat64(EngineInits.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(EngineReady))
}

func TestObserveResult(t *testing.T) {
	before := testutil.ToFloat64(SamplesProcessed)
	ObserveResult(480, 0.9)
	require.Equal(t, before+480, testutil.ToFloat64(SamplesProcessed))
}
