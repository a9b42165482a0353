package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/denoise/pkg/audio/pcm"
)

// Hub is a Stream fed by its owner: the pushed audio is sliced into
// fixed-size frames for every attached node.
type Hub struct {
	format Format

	locker  sync.Mutex
	nodes   map[*hubNode]struct{}
	tracks  []Track
	pending []byte
	done    chan struct{}
	ended   bool
}

var _ Stream = (*Hub)(nil)

func NewHub(format Format) *Hub {
	if format.Channels == 0 {
		format.Channels = 1
	}
	return &Hub{
		format: format,
		nodes:  map[*hubNode]struct{}{},
		done:   make(chan struct{}),
	}
}

func (h *Hub) Format() Format {
	return h.format
}

func (h *Hub) AddTrack(track Track) {
	h.locker.Lock()
	defer h.locker.Unlock()
	h.tracks = append(h.tracks, track)
}

func (h *Hub) Tracks() []Track {
	h.locker.Lock()
	defer h.locker.Unlock()
	result := make([]Track, len(h.tracks))
	copy(result, h.tracks)
	return result
}

func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// End marks the stream as finished; attached nodes are detached.
func (h *Hub) End() {
	h.locker.Lock()
	defer h.locker.Unlock()
	if h.ended {
		return
	}
	h.ended = true
	h.nodes = map[*hubNode]struct{}{}
	close(h.done)
}

func (h *Hub) Attach(
	ctx context.Context,
	frameSize int,
	handler FrameHandler,
) (Node, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", frameSize)
	}
	h.locker.Lock()
	defer h.locker.Unlock()
	if h.ended {
		return nil, ErrStreamEnded
	}
	n := &hubNode{
		hub:     h,
		ctx:     ctx,
		handler: handler,
		frame:   make([]float32, 0, frameSize*int(h.format.Channels)),
	}
	h.nodes[n] = struct{}{}
	logger.Debugf(ctx, "attached a node with frame size %d", frameSize)
	return n, nil
}

// Write implements io.Writer, accepting interleaved float32 LE PCM.
func (h *Hub) Write(p []byte) (int, error) {
	h.locker.Lock()
	buf := append(h.pending, p...)
	usable := len(buf) - len(buf)%4
	h.pending = append([]byte{}, buf[usable:]...)
	h.locker.Unlock()

	samples, err := pcm.Float32FromLEBytes(buf[:usable])
	if err != nil {
		return 0, err
	}
	if err := h.Push(samples); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Push delivers interleaved samples to every attached node.
func (h *Hub) Push(interleaved []float32) error {
	h.locker.Lock()
	if h.ended {
		h.locker.Unlock()
		return ErrStreamEnded
	}
	nodes := make([]*hubNode, 0, len(h.nodes))
	for n := range h.nodes {
		nodes = append(nodes, n)
	}
	h.locker.Unlock()

	for _, n := range nodes {
		n.feed(interleaved)
	}
	return nil
}

func (h *Hub) detach(n *hubNode) {
	h.locker.Lock()
	defer h.locker.Unlock()
	delete(h.nodes, n)
}

type hubNode struct {
	hub      *Hub
	ctx      context.Context
	handler  FrameHandler
	locker   sync.Mutex
	frame    []float32
	detached atomic.Bool
}

func (n *hubNode) feed(samples []float32) {
	n.locker.Lock()
	defer n.locker.Unlock()
	for len(samples) > 0 && !n.detached.Load() {
		room := cap(n.frame) - len(n.frame)
		if room > len(samples) {
			room = len(samples)
		}
		n.frame = append(n.frame, samples[:room]...)
		samples = samples[room:]
		if len(n.frame) == cap(n.frame) {
			n.handler(n.ctx, n.frame)
			n.frame = n.frame[:0]
		}
	}
}

func (n *hubNode) Detach() error {
	n.detached.Store(true)
	n.hub.detach(n)
	return nil
}
