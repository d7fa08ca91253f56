package engine

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/core"
	"github.com/artemkas/watchparty/internal/domain"
)

// router is the per-room media hub: it tracks the relays of every live
// producer so transports can subscribe consumers to them. Transports are
// owned by sessions, not the router; Close here only stops the relays.
type router struct {
	id  string
	eng *Engine

	mu     sync.RWMutex
	relays map[domain.ProducerID]*relay
	closed bool
}

func newRouter(id string, eng *Engine) *router {
	return &router{
		id:     id,
		eng:    eng,
		relays: make(map[domain.ProducerID]*relay),
	}
}

func (r *router) ID() string { return r.id }

func (r *router) CreateTransport(_ context.Context, dir core.TransportDirection) (core.Transport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrEngineClosed
	}

	pc, err := r.eng.api.NewPeerConnection(r.eng.webrtcCfg)
	if err != nil {
		return nil, err
	}
	return newTransport(core.TransportID(uuid.NewString()), dir, r, pc)
}

// CanConsume checks that the producer is alive and the consumer's
// advertised capabilities mention its codec. Payload introspection stops
// at the MIME type; anything subtler is the browser's problem.
func (r *router) CanConsume(id domain.ProducerID, caps core.RtpCapabilities) bool {
	r.mu.RLock()
	rel, ok := r.relays[id]
	r.mu.RUnlock()
	if !ok || len(caps) == 0 {
		return false
	}
	mime := strings.ToLower(codecCapability(rel.kind).MimeType)
	return bytes.Contains(bytes.ToLower(caps), []byte(mime))
}

func (r *router) registerRelay(rel *relay) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.relays[rel.id] = rel
	return true
}

func (r *router) dropRelay(id domain.ProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.relays, id)
}

func (r *router) relayFor(id domain.ProducerID) (*relay, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rel, ok := r.relays[id]
	return rel, ok
}

func (r *router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	relays := make([]*relay, 0, len(r.relays))
	for _, rel := range r.relays {
		relays = append(relays, rel)
	}
	r.relays = make(map[domain.ProducerID]*relay)
	r.mu.Unlock()

	for _, rel := range relays {
		rel.close()
	}
	r.eng.dropRouter(r.id)
	log.Info().Str("module", "engine").Str("router", r.id).Msg("router closed")
}

func kindOf(t webrtc.RTPCodecType) domain.MediaKind {
	if t == webrtc.RTPCodecTypeAudio {
		return domain.MediaAudio
	}
	return domain.MediaVideo
}
