package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xaionaro-go/denoise/pkg/audio"
	"github.com/xaionaro-go/denoise/pkg/audioinput"
	"github.com/xaionaro-go/denoise/pkg/audiooutput"
	"github.com/xaionaro-go/denoise/pkg/capture"
	"github.com/xaionaro-go/denoise/pkg/denoise"
	"github.com/xaionaro-go/denoise/pkg/metrics"
	"github.com/xaionaro-go/observability"
)

// streamMetadata is the first text message of a stream session.
type streamMetadata struct {
	SampleRate uint32 `json:"sample_rate"`
	Channels   uint32 `json:"channels"`
	DurationMS int64  `json:"duration_ms"`
	Output     string `json:"output"`
}

type streamEvent struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	SampleRate uint32 `json:"sample_rate,omitempty"`
	Error      string `json:"error,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

// wsStream is a Stream fed by a WebSocket connection.
type wsStream struct {
	*capture.Hub
	attachedOnce sync.Once
	attachedCh   chan struct{}
}

func newWSStream(format capture.Format) *wsStream {
	return &wsStream{
		Hub:        capture.NewHub(format),
		attachedCh: make(chan struct{}),
	}
}

func (s *wsStream) Attach(
	ctx context.Context,
	frameSize int,
	handler capture.FrameHandler,
) (capture.Node, error) {
	node, err := s.Hub.Attach(ctx, frameSize, handler)
	if err == nil {
		s.attachedOnce.Do(func() { close(s.attachedCh) })
	}
	return node, err
}

// wsTrack is the single track of a WebSocket stream; stopping it ends the stream.
type wsTrack struct {
	id  string
	hub *capture.Hub
}

func (t *wsTrack) ID() string {
	return t.id
}

func (t *wsTrack) Stop() error {
	t.hub.End()
	return nil
}

// handleStream accepts a live stream: a metadata text message, then
// binary float32 LE frames. Any further text message (or the end of
// the requested duration) finishes the capture; the denoised result is
// sent back as a single message.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := s.requestCtx(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf(ctx, "unable to upgrade the connection: %v", err)
		return
	}
	defer conn.Close()

	sessionID := uuid.New().String()
	ctx = logger.CtxWithLogger(ctx, logger.FromCtx(ctx).WithField("session_id", sessionID))
	metrics.ObserveRecording(true)
	defer metrics.ObserveRecording(false)

	var writeLocker sync.Mutex
	sendEvent := func(ev streamEvent) {
		writeLocker.Lock()
		defer writeLocker.Unlock()
		if err := conn.WriteJSON(ev); err != nil {
			logger.Warnf(ctx, "unable to send an event: %v", err)
		}
	}

	meta, opts, err := s.readStreamMetadata(conn)
	if err != nil {
		kind, _ := errorKind(err)
		metrics.Errors.WithLabelValues(kind).Inc()
		sendEvent(streamEvent{Type: "error", Error: err.Error(), Kind: kind})
		return
	}
	logger.Debugf(ctx, "stream metadata: %#+v", meta)
	metrics.RequestsTotal.WithLabelValues("stream", opts.Output.String()).Inc()

	stream := newWSStream(capture.Format{
		SampleRate: audio.SampleRate(meta.SampleRate),
		Channels:   audio.Channel(meta.Channels),
	})
	stream.AddTrack(&wsTrack{id: sessionID, hub: stream.Hub})

	streamCtx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	observability.Go(streamCtx, func(ctx context.Context) {
		// the audio is accepted only after the capture is attached
		select {
		case <-ctx.Done():
			return
		case <-stream.attachedCh:
		}
		sendEvent(streamEvent{Type: "started", SessionID: sessionID, SampleRate: meta.SampleRate})

		defer stream.End()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				logger.Debugf(ctx, "the connection is closed: %v", err)
				return
			}
			if msgType != websocket.BinaryMessage {
				logger.Debugf(ctx, "the client finished the stream")
				return
			}
			if _, err := stream.Write(data); err != nil {
				logger.Debugf(ctx, "unable to push the audio: %v", err)
				return
			}
		}
	})

	result, err := s.timed("stream", func() (*audiooutput.Result, error) {
		return s.processor.Denoise(streamCtx, capture.Stream(stream), opts)
	})
	cancelFn()
	if stopErr := capture.StopTracks(stream); stopErr != nil {
		logger.Warnf(ctx, "unable to stop the stream: %v", stopErr)
	}
	if err != nil {
		kind, _ := errorKind(err)
		metrics.Errors.WithLabelValues(kind).Inc()
		sendEvent(streamEvent{Type: "error", Error: err.Error(), Kind: kind})
		return
	}

	payload, _, err := result.Payload()
	if err != nil {
		sendEvent(streamEvent{Type: "error", Error: err.Error(), Kind: "internal"})
		return
	}
	msgType := websocket.BinaryMessage
	if result.Format == audiooutput.FormatSamples {
		msgType = websocket.TextMessage
	}
	writeLocker.Lock()
	defer writeLocker.Unlock()
	if err := conn.WriteMessage(msgType, payload); err != nil {
		logger.Warnf(ctx, "unable to send the result: %v", err)
		return
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}

func (s *Server) readStreamMetadata(conn *websocket.Conn) (*streamMetadata, denoise.Options, error) {
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return nil, denoise.Options{}, fmt.Errorf("unable to read the metadata: %w", err)
	}
	if msgType != websocket.TextMessage {
		return nil, denoise.Options{}, fmt.Errorf("%w: the first message must be the JSON metadata", audioinput.ErrInvalidInput)
	}
	var meta streamMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, denoise.Options{}, fmt.Errorf("%w: unable to parse the metadata: %w", audioinput.ErrInvalidInput, err)
	}
	if meta.SampleRate == 0 {
		meta.SampleRate = uint32(audioinput.DefaultSampleRate)
	}
	if meta.Channels == 0 {
		meta.Channels = 1
	}

	opts := denoise.Options{
		Options: audioinput.Options{
			Duration:  s.config.Stream.DefaultDuration,
			FrameSize: s.config.Stream.FrameSize,
		},
		Output: s.config.OutputFormat(),
	}
	if meta.DurationMS > 0 {
		opts.Duration = time.Duration(meta.DurationMS) * time.Millisecond
	}
	if maxDuration := s.config.Stream.MaxDuration; maxDuration > 0 && opts.Duration > maxDuration {
		opts.Duration = maxDuration
	}
	if meta.Output != "" {
		f, err := audiooutput.ParseFormat(meta.Output)
		if err != nil {
			return nil, denoise.Options{}, fmt.Errorf("%w: %w", audioinput.ErrInvalidInput, err)
		}
		opts.Output = f
	}
	return &meta, opts, nil
}
