package controller

import (
	"math"

	"github.com/xaionaro-go/denoise/pkg/audio"
)

func sineSamples(n int) audio.Samples {
	data := make([]float32, n)
	for idx := range data {
		data[idx] = float32(0.5 * math.Sin(2*math.Pi*440*float64(idx)/48000))
	}
	return audio.Samples{Data: data, SampleRate: 48000}
}
