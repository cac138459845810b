package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"p2p-voice/internal/audio/capture"
	"p2p-voice/internal/audio/codec"
	"p2p-voice/internal/audio/codec/iface"
	"p2p-voice/internal/audio/config"
	"p2p-voice/internal/audio/convert"
	"p2p-voice/internal/audio/playback"
	"p2p-voice/internal/audio/resample"
	"p2p-voice/internal/metrics"
	"p2p-voice/internal/transport"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEncoderNil      = errors.New("encoder cannot be nil")
	ErrDecoderNil      = errors.New("decoder cannot be nil")
	ErrTransportNil    = errors.New("transport cannot be nil")
	ErrTransportClosed = errors.New("transport closed")
)

// observeEvery is how many poll ticks pass between backlog gauge updates.
const observeEvery = 10

type Options struct {
	NewPrimitive func() resample.Primitive     // one per peer stream, defaults to resample.Default
	Metrics      *metrics.Metrics              // optional
	Encoder      iface.Encoder                 // defaults to the configured codec
	NewDecoder   func() (iface.Decoder, error) // one decoder is created per peer
}

// AudioPipeline frames captured audio, encodes and sends it to every peer,
// and decodes what peers send into per peer playback streams.
//
// Capture devices push into Append; playback devices pull from Read.
type AudioPipeline struct {
	cfg       config.AudioConfig
	format    config.Format
	transport transport.Transport
	metrics   *metrics.Metrics

	capture *capture.Accumulator
	mixer   *playback.Mixer

	encoder    iface.Encoder
	newDecoder func() (iface.Decoder, error)
	pcm        []int16 // poll goroutine only

	decoders map[string]iface.Decoder // event goroutine only
	floats   []float32                // event goroutine only

	captureMuted  atomic.Bool
	playbackMuted atomic.Bool

	closeOnce sync.Once
}

// NewAudioPipeline creates a pipeline that is not running yet. output is the
// playback device format.
func NewAudioPipeline(cfg config.AudioConfig, tr transport.Transport, output config.Format, opts Options) (*AudioPipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio config: %w", err)
	}
	if tr == nil {
		return nil, ErrTransportNil
	}
	if opts.NewPrimitive == nil {
		opts.NewPrimitive = resample.Default
	}
	if opts.Encoder == nil {
		enc, err := codec.CreateEncoder(cfg)
		if err != nil {
			return nil, err
		}
		opts.Encoder = enc
	}
	if opts.NewDecoder == nil {
		opts.NewDecoder = func() (iface.Decoder, error) { return codec.CreateDecoder(cfg) }
	}

	p := &AudioPipeline{
		cfg:        cfg,
		format:     cfg.Format(),
		transport:  tr,
		metrics:    opts.Metrics,
		encoder:    opts.Encoder,
		newDecoder: opts.NewDecoder,
		pcm:        make([]int16, cfg.FrameSamples),
		decoders:   make(map[string]iface.Decoder),
	}

	acc, err := capture.NewAccumulator(cfg.FrameSamples, cfg.CaptureCapacity, p.sendFrame)
	if err != nil {
		return nil, err
	}
	mixer, err := playback.NewMixer(p.format, output, cfg.PlaybackCapacity, opts.NewPrimitive, cfg.Quality)
	if err != nil {
		return nil, err
	}
	p.capture, p.mixer = acc, mixer

	if p.metrics != nil {
		p.metrics.CounterFunc("capture_frames_total", "Frames cut from the capture buffer, including silent ones",
			func() float64 { return float64(acc.Frames()) })
		p.metrics.CounterFunc("capture_dropped_samples_total", "Captured samples dropped because the buffer was full",
			func() float64 { return float64(acc.Dropped()) })
		p.metrics.CounterFunc("playback_dropped_samples_total", "Received samples dropped because a playback buffer was full",
			func() float64 { return float64(mixer.Dropped()) })
		p.metrics.CounterFunc("playback_underruns_total", "Render callbacks that found too little buffered audio",
			func() float64 { return float64(mixer.Underruns()) })
	}

	log.Info().
		Str("codec", cfg.Type.String()).
		Str("format", p.format.String()).
		Int("frame_samples", cfg.FrameSamples).
		Str("output", output.String()).
		Str("quality", cfg.Quality.String()).
		Str("resampler", resample.Backend).
		Msg("Audio pipeline created")
	return p, nil
}

// Run polls the capture buffer and handles transport events until ctx is
// done or the transport closes.
func (p *AudioPipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.pollLoop(ctx) })
	g.Go(func() error { return p.eventLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrTransportClosed) {
		return nil
	}
	return err
}

func (p *AudioPipeline) pollLoop(ctx context.Context) error {
	defer log.Debug().Msg("Capture poll loop stopped")
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.capture.Poll()
			if tick%observeEvery == 0 {
				p.observe()
			}
		}
	}
}

func (p *AudioPipeline) eventLoop(ctx context.Context) error {
	defer log.Debug().Msg("Transport event loop stopped")
	events := p.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ErrTransportClosed
			}
			p.handleEvent(ev)
		}
	}
}

func (p *AudioPipeline) handleEvent(ev transport.Event) {
	switch ev.Type {
	case transport.PeerConnected:
		if _, err := p.mixer.AddPeer(ev.PeerID); err != nil {
			log.Error().Err(err).Str("peer", ev.PeerID).Msg("Failed to add playback stream")
			return
		}
		if _, err := p.decoderFor(ev.PeerID); err != nil {
			log.Error().Err(err).Str("peer", ev.PeerID).Msg("Failed to create decoder")
		}
		log.Info().Str("peer", ev.PeerID).Msg("Peer joined")
	case transport.PeerDisconnected:
		p.mixer.RemovePeer(ev.PeerID)
		delete(p.decoders, ev.PeerID)
		if p.metrics != nil {
			p.metrics.PeerBacklog.DeleteLabelValues(ev.PeerID)
		}
		log.Info().Str("peer", ev.PeerID).Msg("Peer left")
	case transport.PeerMessage:
		p.receive(ev.PeerID, ev.Data)
	}
	if p.metrics != nil && ev.Type != transport.PeerMessage {
		p.metrics.ActivePeers.Set(float64(len(p.mixer.Peers())))
	}
}

func (p *AudioPipeline) decoderFor(peerID string) (iface.Decoder, error) {
	if dec, ok := p.decoders[peerID]; ok {
		return dec, nil
	}
	dec, err := p.newDecoder()
	if err != nil {
		return nil, err
	}
	if dec == nil {
		return nil, ErrDecoderNil
	}
	p.decoders[peerID] = dec
	return dec, nil
}

// receive decodes one packet from peerID into its playback stream.
func (p *AudioPipeline) receive(peerID string, data []byte) {
	if p.metrics != nil {
		p.metrics.PacketsReceived.Inc()
	}
	pcm, err := p.Decode(peerID, data)
	if err != nil {
		if p.metrics != nil {
			p.metrics.DecodeErrors.Inc()
		}
		log.Debug().Err(err).Str("peer", peerID).Msg("Dropping undecodable packet")
		return
	}
	if cap(p.floats) < len(pcm) {
		p.floats = make([]float32, len(pcm))
	}
	samples := p.floats[:convert.Int16ToFloat32Into(p.floats[:len(pcm)], pcm)]
	if _, err := p.mixer.Write(peerID, samples, p.format); err != nil && !errors.Is(err, playback.ErrClosed) {
		log.Warn().Err(err).Str("peer", peerID).Msg("Failed to buffer received audio")
	}
}

func (p *AudioPipeline) Decode(peerID string, data []byte) ([]int16, error) {
	dec, err := p.decoderFor(peerID)
	if err != nil {
		return nil, err
	}
	decoded, err := dec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data: %w", err)
	}
	return decoded, nil
}

// sendFrame runs on the poll goroutine for every emitted capture frame.
func (p *AudioPipeline) sendFrame(frame []float32) {
	n := convert.Float32ToInt16Into(p.pcm, frame)
	encoded, err := p.Encode(p.pcm[:n])
	if err != nil {
		if p.metrics != nil {
			p.metrics.EncodeErrors.Inc()
		}
		log.Warn().Err(err).Msg("Failed to encode frame")
		return
	}
	if p.metrics != nil {
		p.metrics.FramesEncoded.Inc()
	}
	if len(encoded) == 0 {
		return // suppressed
	}
	p.transport.SendToAll(encoded, p.cfg.Reliable)
	if p.metrics != nil {
		p.metrics.PacketsSent.Inc()
	}
}

func (p *AudioPipeline) Encode(pcm []int16) ([]byte, error) {
	if p.encoder == nil {
		return nil, ErrEncoderNil
	}
	encoded, err := p.encoder.Encode(pcm)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pcm: %w", err)
	}
	return encoded, nil
}

func (p *AudioPipeline) observe() {
	if p.metrics == nil {
		return
	}
	for _, id := range p.mixer.Peers() {
		if backlog, err := p.mixer.Backlog(id); err == nil {
			p.metrics.PeerBacklog.WithLabelValues(id).Set(backlog.Seconds())
		}
	}
}

// Append feeds captured samples in the pipeline format. Muted capture drops
// them.
func (p *AudioPipeline) Append(chunk []float32) int {
	if p.captureMuted.Load() {
		return 0
	}
	return p.capture.Append(chunk)
}

// Poll emits every complete captured frame now instead of on the next tick.
func (p *AudioPipeline) Poll() int {
	return p.capture.Poll()
}

// Read renders the mix of all peers. Muted playback still drains the
// streams so latency does not build up.
func (p *AudioPipeline) Read(out []float32) int {
	n := p.mixer.Read(out)
	if p.playbackMuted.Load() {
		clear(out)
		return 0
	}
	return n
}

func (p *AudioPipeline) SetCaptureMuted(muted bool)  { p.captureMuted.Store(muted) }
func (p *AudioPipeline) SetPlaybackMuted(muted bool) { p.playbackMuted.Store(muted) }
func (p *AudioPipeline) CaptureMuted() bool          { return p.captureMuted.Load() }
func (p *AudioPipeline) PlaybackMuted() bool         { return p.playbackMuted.Load() }

// Format is the pipeline's wire format; capture must be converted to it.
func (p *AudioPipeline) Format() config.Format { return p.format }

func (p *AudioPipeline) Peers() []string { return p.mixer.Peers() }

func (p *AudioPipeline) Backlog(peerID string) (time.Duration, error) {
	return p.mixer.Backlog(peerID)
}

// Captured is the number of samples waiting for the next frame.
func (p *AudioPipeline) Captured() int { return p.capture.Len() }

// Close stops capture and playback buffering. The transport is left to its
// owner.
func (p *AudioPipeline) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = errors.Join(p.capture.Close(), p.mixer.Close())
		log.Info().Msg("Audio pipeline closed")
	})
	return err
}
