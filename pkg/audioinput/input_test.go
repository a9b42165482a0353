package audioinput

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audio/pcm"
	"github.com/xaionaro-go/denoise/pkg/audiooutput"
	"github.com/xaionaro-go/denoise/pkg/capture"
)

func TestNormalizeRawBuffer(t *testing.T) {
	ctx := context.Background()
	in := []float32{0, 0.5, -0.5, 1}

	samples, err := Normalize(ctx, pcm.Float32LEBytes(in), Options{})
	require.NoError(t, err)
	require.Equal(t, in, samples.Data)
	require.Equal(t, DefaultSampleRate, samples.SampleRate)

	raw, err := pcm.Encode(audio.PCMFormatS16LE, []float32{0.5, 0.5, -0.25, -0.75})
	require.NoError(t, err)
	samples, err = Normalize(ctx, raw, Options{
		SampleRate: 16000,
		PCMFormat:  audio.PCMFormatS16LE,
		Channels:   2,
	})
	require.NoError(t, err)
	require.Equal(t, audio.SampleRate(16000), samples.SampleRate)
	require.Len(t, samples.Data, 2)
	assert.InDelta(t, 0.5, samples.Data[0], 1e-4)
	assert.InDelta(t, -0.5, samples.Data[1], 1e-4)

	_, err = Normalize(ctx, []byte{1, 2, 3}, Options{})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestNormalizeSampleArray(t *testing.T) {
	ctx := context.Background()
	in := []float32{0.1, 0.2, 0.3}

	samples, err := Normalize(ctx, in, Options{})
	require.NoError(t, err)
	require.Equal(t, in, samples.Data)
	require.Equal(t, DefaultSampleRate, samples.SampleRate)

	// the result must not alias the input
	samples.Data[0] = 1
	require.Equal(t, float32(0.1), in[0])

	samples, err = Normalize(ctx, audio.Samples{Data: in, SampleRate: 8000}, Options{})
	require.NoError(t, err)
	require.Equal(t, audio.SampleRate(8000), samples.SampleRate)

	samples, err = Normalize(ctx, &audio.Samples{Data: in, SampleRate: 8000}, Options{SampleRate: 22050})
	require.NoError(t, err)
	require.Equal(t, audio.SampleRate(22050), samples.SampleRate)
	require.Len(t, samples.Data, 3)
}

func TestNormalizeInvalid(t *testing.T) {
	ctx := context.Background()

	_, err := Normalize(ctx, nil, Options{})
	require.ErrorIs(t, err, ErrInvalidInput)

	var blob *Blob
	_, err = Normalize(ctx, blob, Options{})
	require.ErrorIs(t, err, ErrInvalidInput)

	var buf []byte
	_, err = Normalize(ctx, buf, Options{})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = Normalize(ctx, 42, Options{})
	require.ErrorIs(t, err, ErrUnsupportedInputType)

	_, err = Normalize(ctx, "some string", Options{})
	require.ErrorIs(t, err, ErrUnsupportedInputType)

	_, err = Normalize(ctx, []byte{}, Options{})
	require.ErrorIs(t, err, ErrEmptyAudio)

	_, err = Normalize(ctx, []float32{}, Options{})
	require.ErrorIs(t, err, ErrEmptyAudio)

	_, err = Normalize(ctx, Blob{Name: "empty.wav"}, Options{})
	require.ErrorIs(t, err, ErrEmptyAudio)
}

func TestNormalizeWAV(t *testing.T) {
	ctx := context.Background()
	in := []float32{0, 0.25, -0.25, 0.5, -0.5, 0.75}
	data, err := audiooutput.EncodeWAV(audio.Samples{Data: in, SampleRate: 16000})
	require.NoError(t, err)

	for name, input := range map[string]any{
		"blob":     Blob{Name: "speech.wav", Data: data},
		"blob_ptr": &Blob{Data: data},
		"reader":   bytes.NewReader(data),
	} {
		t.Run(name, func(t *testing.T) {
			samples, err := Normalize(ctx, input, Options{})
			require.NoError(t, err)
			require.Equal(t, audio.SampleRate(16000), samples.SampleRate)
			require.Len(t, samples.Data, len(in))
			for idx := range in {
				assert.InDelta(t, in[idx], samples.Data[idx], 1.0/16384)
			}
		})
	}
}

func TestNormalizeWAVResample(t *testing.T) {
	ctx := context.Background()
	in := make([]float32, 1600)
	for idx := range in {
		in[idx] = float32(0.5 * math.Sin(2*math.Pi*440*float64(idx)/16000))
	}
	data, err := audiooutput.EncodeWAV(audio.Samples{Data: in, SampleRate: 16000})
	require.NoError(t, err)

	samples, err := Normalize(ctx, Blob{Data: data}, Options{SampleRate: 48000})
	require.NoError(t, err)
	require.Equal(t, audio.SampleRate(48000), samples.SampleRate)
	require.Len(t, samples.Data, 4800)
}

func floatWAV(sampleRate uint32, channels uint16, samples []float32) []byte {
	var buf bytes.Buffer
	dataLen := uint32(len(samples) * 4)
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(wavFormatIEEEFloat))
	binary.Write(&buf, binary.LittleEndian, channels)
	binary.Write(&buf, binary.LittleEndian, sampleRate)
	binary.Write(&buf, binary.LittleEndian, sampleRate*uint32(channels)*4)
	binary.Write(&buf, binary.LittleEndian, channels*4)
	binary.Write(&buf, binary.LittleEndian, uint16(32))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm.Float32LEBytes(samples))
	return buf.Bytes()
}

func TestNormalizeFloatWAV(t *testing.T) {
	ctx := context.Background()
	data := floatWAV(44100, 2, []float32{0.5, 0.1, -0.5, -0.1})

	samples, err := Normalize(ctx, Blob{Data: data}, Options{})
	require.NoError(t, err)
	require.Equal(t, audio.SampleRate(44100), samples.SampleRate)
	require.Len(t, samples.Data, 2)
	assert.InDelta(t, 0.3, samples.Data[0], 1e-6)
	assert.InDelta(t, -0.3, samples.Data[1], 1e-6)
}

func TestNormalizeDecodeError(t *testing.T) {
	ctx := context.Background()

	_, err := Normalize(ctx, Blob{Name: "noise.mp3", Data: []byte("definitely not audio")}, Options{})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrDecode)

	_, err = Normalize(ctx, Blob{Name: "broken.wav", Data: []byte("RIFF\x00\x00\x00\x00WAVEjunk")}, Options{})
	require.ErrorIs(t, err, ErrDecode)
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	require.Equal(t, "wav", decodeErr.Container)

	_, err = Normalize(ctx, Blob{Name: "zero-rate.wav", Data: floatWAV(0, 1, []float32{0.5, -0.5})}, Options{})
	require.ErrorIs(t, err, ErrDecode)
	decodeErr = nil
	require.True(t, errors.As(err, &decodeErr))
	require.Equal(t, "wav", decodeErr.Container)

	_, err = Normalize(ctx, strings.NewReader("OggS is not enough"), Options{})
	require.ErrorIs(t, err, ErrDecode)
}

func TestDetectContainer(t *testing.T) {
	require.Equal(t, containerWAV, detectContainer(Blob{Data: []byte("RIFF1234WAVE")}))
	require.Equal(t, containerOgg, detectContainer(Blob{Data: []byte("OggS")}))
	require.Equal(t, containerWAV, detectContainer(Blob{ContentType: "audio/x-wav", Data: []byte("x")}))
	require.Equal(t, containerOgg, detectContainer(Blob{Name: "a.OGG", Data: []byte("x")}))
	require.Equal(t, containerUnknown, detectContainer(Blob{Name: "a.mp3", Data: []byte("x")}))
}

type signalingStream struct {
	*capture.Hub
	attachedCh chan struct{}
}

func newSignalingStream(format capture.Format) *signalingStream {
	return &signalingStream{
		Hub:        capture.NewHub(format),
		attachedCh: make(chan struct{}, 1),
	}
}

func (s *signalingStream) Attach(
	ctx context.Context,
	frameSize int,
	handler capture.FrameHandler,
) (capture.Node, error) {
	node, err := s.Hub.Attach(ctx, frameSize, handler)
	s.attachedCh <- struct{}{}
	return node, err
}

func TestCaptureStream(t *testing.T) {
	ctx := context.Background()
	stream := newSignalingStream(capture.Format{SampleRate: 1000, Channels: 2})

	go func() {
		<-stream.attachedCh
		for i := 0; i < 8; i++ {
			_ = stream.Push([]float32{0.5, 0.1, 0.5, 0.1})
		}
	}()

	samples, err := Normalize(ctx, capture.Stream(stream), Options{
		Duration:  10 * time.Millisecond,
		FrameSize: 4,
	})
	require.NoError(t, err)
	require.Equal(t, audio.SampleRate(1000), samples.SampleRate)
	require.Len(t, samples.Data, 10)
	for _, v := range samples.Data {
		assert.InDelta(t, 0.3, v, 1e-6)
	}

	// the tracks are left to the owner of the stream
	select {
	case <-stream.Done():
		t.Fatal("the stream was ended")
	default:
	}
}

func TestCaptureStreamEndsEarly(t *testing.T) {
	ctx := context.Background()
	stream := newSignalingStream(capture.Format{SampleRate: 1000, Channels: 1})

	go func() {
		<-stream.attachedCh
		_ = stream.Push([]float32{0.1, 0.2, 0.3, 0.4})
		stream.End()
	}()

	samples, err := CaptureStream(ctx, stream, Options{
		Duration:  time.Second,
		FrameSize: 2,
	})
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, samples.Data)
}

func TestCaptureStreamEndsEmpty(t *testing.T) {
	ctx := context.Background()
	stream := newSignalingStream(capture.Format{SampleRate: 1000, Channels: 1})

	go func() {
		<-stream.attachedCh
		stream.End()
	}()

	_, err := Normalize(ctx, capture.Stream(stream), Options{Duration: time.Second})
	require.ErrorIs(t, err, ErrEmptyAudio)
}

func TestCaptureStreamCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := newSignalingStream(capture.Format{SampleRate: 1000, Channels: 1})

	go func() {
		<-stream.attachedCh
		cancel()
	}()

	_, err := CaptureStream(ctx, stream, Options{Duration: time.Second})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCaptureStreamResample(t *testing.T) {
	ctx := context.Background()
	stream := newSignalingStream(capture.Format{SampleRate: 8000, Channels: 1})

	go func() {
		<-stream.attachedCh
		_ = stream.Push(make([]float32, 800))
	}()

	samples, err := Normalize(ctx, capture.Stream(stream), Options{
		SampleRate: 16000,
		Duration:   100 * time.Millisecond,
		FrameSize:  80,
	})
	require.NoError(t, err)
	require.Equal(t, audio.SampleRate(16000), samples.SampleRate)
	require.Len(t, samples.Data, 1600)
}
