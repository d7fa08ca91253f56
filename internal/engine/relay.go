package engine

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/core"
	"github.com/artemkas/watchparty/internal/domain"
)

// relay pumps RTP packets from one producer's remote track to every
// subscribed out-track. It is created at produce time and starts its
// loop when the remote track actually arrives.
type relay struct {
	id   domain.ProducerID
	kind domain.MediaKind

	mu   sync.RWMutex
	outs map[core.ConsumerID]*outTrack

	running atomic.Bool
	stopped atomic.Bool
}

func newRelay(id domain.ProducerID, kind domain.MediaKind) *relay {
	return &relay{
		id:   id,
		kind: kind,
		outs: make(map[core.ConsumerID]*outTrack),
	}
}

func (r *relay) started() bool { return r.running.Load() }

func (r *relay) start(src *webrtc.TrackRemote) {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	logger := log.With().Str("module", "engine.relay").Str("producer", string(r.id)).Logger()
	logger.Info().Str("kind", string(r.kind)).Msg("relay loop starting")
	go r.loop(src, &logger)
}

func (r *relay) loop(src *webrtc.TrackRemote, logger *zerolog.Logger) {
	for {
		if r.stopped.Load() {
			r.markAllDelete()
			return
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outs)
	r.mu.RUnlock()

	dirty := make([]core.ConsumerID, 0, len(snapshot))
	for cid, ot := range snapshot {
		switch ot.getState() {
		case trackStateDelete:
			dirty = append(dirty, cid)
		case trackStatePaused:
		case trackStateOk:
			if err := ot.track.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("consumer", string(cid)).Msg("relay write error, dropping out track")
				ot.markDelete()
				dirty = append(dirty, cid)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.mu.Lock()
		for _, cid := range dirty {
			delete(r.outs, cid)
		}
		r.mu.Unlock()
	}
}

func (r *relay) addOut(id core.ConsumerID, ot *outTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outs[id] = ot
}

func (r *relay) dropOut(id core.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ot, ok := r.outs[id]; ok {
		ot.markDelete()
		delete(r.outs, id)
	}
}

func (r *relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outs {
		ot.markDelete()
	}
}

// close is terminal: the loop exits on its next iteration and every
// subscriber stops receiving.
func (r *relay) close() {
	r.stopped.Store(true)
	r.markAllDelete()
}
