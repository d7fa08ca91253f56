package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/core"
	"github.com/artemkas/watchparty/internal/domain"
)

var (
	ErrWrongDirection  = errors.New("wrong transport direction")
	ErrUnknownProducer = errors.New("unknown producer")
)

// transport wraps one PeerConnection. A send transport receives the
// client's tracks and feeds them into relays; a recv transport carries
// the local tracks consumers subscribe to. Negotiation is plain SDP
// offer/answer: Params carries the server's offer, Connect applies the
// client's answer (initial and renegotiated alike).
type transport struct {
	id     core.TransportID
	dir    core.TransportDirection
	rtr    *router
	pc     *webrtc.PeerConnection
	params core.TransportParams

	mu      sync.Mutex
	pending []*producer // produce accepted, track not yet arrived
	closed  bool
}

func newTransport(id core.TransportID, dir core.TransportDirection, rtr *router, pc *webrtc.PeerConnection) (*transport, error) {
	t := &transport{id: id, dir: dir, rtr: rtr, pc: pc}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "engine").Str("transport", string(id)).
			Str("ice_state", s.String()).Msg("ICE state")
	})

	if dir == core.DirectionSend {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				_ = pc.Close()
				return nil, err
			}
		}
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			t.handleTrack(track)
		})
	}

	offer, err := t.localOffer()
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	iceServers, err := json.Marshal(rtr.eng.webrtcCfg.ICEServers)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	t.params = core.TransportParams{
		ID:         id,
		Direction:  string(dir),
		ICEServers: iceServers,
		SDPOffer:   offer,
	}
	return t, nil
}

// localOffer creates an offer, waits for ICE gathering and returns the
// full local description as JSON. Also used for renegotiation after a
// consumer track is added.
func (t *transport) localOffer() (json.RawMessage, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	<-gatherComplete
	return json.Marshal(t.pc.LocalDescription())
}

func (t *transport) ID() core.TransportID               { return t.id }
func (t *transport) Direction() core.TransportDirection { return t.dir }
func (t *transport) Params() core.TransportParams       { return t.params }

// Connect applies the client's SDP answer. The signaling layer hands the
// payload through untouched, so this accepts both the initial answer and
// any renegotiation answer after consume.
func (t *transport) Connect(_ context.Context, dtls core.DtlsParameters) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(dtls, &desc); err != nil {
		return err
	}
	return t.pc.SetRemoteDescription(desc)
}

// Produce registers an inbound track. The producer exists immediately;
// its relay starts pumping when the matching remote track arrives. The
// rtp parameters are accepted for protocol symmetry but the SDP already
// carries everything this engine needs.
func (t *transport) Produce(_ context.Context, kind domain.MediaKind, _ core.RtpParameters) (core.Producer, error) {
	if t.dir != core.DirectionSend {
		return nil, ErrWrongDirection
	}
	rel := newRelay(domain.ProducerID(uuid.NewString()), kind)
	if !t.rtr.registerRelay(rel) {
		return nil, ErrEngineClosed
	}
	p := &producer{rel: rel, rtr: t.rtr}

	t.mu.Lock()
	t.pending = append(t.pending, p)
	t.mu.Unlock()

	log.Info().Str("module", "engine").Str("transport", string(t.id)).
		Str("producer", string(rel.id)).Str("kind", string(kind)).Msg("producer registered")
	return p, nil
}

// handleTrack binds an arriving remote track to the oldest producer of
// the same kind still waiting for one.
func (t *transport) handleTrack(track *webrtc.TrackRemote) {
	kind := kindOf(track.Kind())

	t.mu.Lock()
	var bound *producer
	for _, p := range t.pending {
		if p.rel.kind == kind && !p.rel.started() {
			bound = p
			break
		}
	}
	t.mu.Unlock()

	if bound == nil {
		log.Warn().Str("module", "engine").Str("transport", string(t.id)).
			Str("kind", string(kind)).Msg("track without pending producer, ignoring")
		return
	}
	bound.rel.start(track)
}

// Consume adds a subscriber track for the given producer and returns the
// renegotiated offer the client must answer. The consumer starts paused
// and forwards nothing until Resume.
func (t *transport) Consume(_ context.Context, id domain.ProducerID, _ core.RtpCapabilities) (core.Consumer, error) {
	if t.dir != core.DirectionRecv {
		return nil, ErrWrongDirection
	}
	rel, ok := t.rtr.relayFor(id)
	if !ok {
		return nil, ErrUnknownProducer
	}

	local, err := webrtc.NewTrackLocalStaticRTP(codecCapability(rel.kind), uuid.NewString(), "watchparty")
	if err != nil {
		return nil, err
	}
	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	offer, err := t.localOffer()
	t.mu.Unlock()
	if err != nil {
		_ = t.pc.RemoveTrack(sender)
		return nil, err
	}

	rtpParams, err := json.Marshal(map[string]json.RawMessage{"sdpOffer": offer})
	if err != nil {
		_ = t.pc.RemoveTrack(sender)
		return nil, err
	}

	c := &consumer{
		id:     core.ConsumerID(uuid.NewString()),
		rel:    rel,
		out:    newOutTrack(local),
		sender: sender,
		t:      t,
		params: rtpParams,
	}
	rel.addOut(c.id, c.out)
	log.Info().Str("module", "engine").Str("transport", string(t.id)).
		Str("producer", string(id)).Str("consumer", string(c.id)).Msg("consumer created")
	return c, nil
}

func (t *transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "engine").Str("transport", string(t.id)).Msg("close error")
	} else {
		log.Info().Str("module", "engine").Str("transport", string(t.id)).Msg("closed")
	}
}
