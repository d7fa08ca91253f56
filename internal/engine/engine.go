// Package engine is the in-process SFU backing core.MediaEngine. It
// forwards RTP between peer connections without touching payloads: one
// router per room, one peer connection per transport, a relay goroutine
// per producer fanning packets out to subscriber tracks.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/config"
	"github.com/artemkas/watchparty/internal/core"
	"github.com/artemkas/watchparty/internal/domain"
)

var ErrEngineClosed = errors.New("engine closed")

type Engine struct {
	api       *webrtc.API
	webrtcCfg webrtc.Configuration
	caps      core.RtpCapabilities

	mu      sync.Mutex
	routers map[string]*router
	closed  bool
}

func New(cfg *config.Config) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: codecCapability(domain.MediaAudio),
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: codecCapability(domain.MediaVideo),
		PayloadType:        96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}

	caps, err := json.Marshal(map[string]any{
		"codecs": []map[string]any{
			{"kind": "audio", "mimeType": webrtc.MimeTypeOpus, "clockRate": 48000, "channels": 2},
			{"kind": "video", "mimeType": webrtc.MimeTypeVP8, "clockRate": 90000},
		},
	})
	if err != nil {
		return nil, err
	}

	// Behind NAT the announced address replaces the private host
	// candidates, the way an SFU advertises its public IP to browsers.
	var se webrtc.SettingEngine
	if cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	return &Engine{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)),
		webrtcCfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: cfg.StunURLs}},
		},
		caps:    caps,
		routers: make(map[string]*router),
	}, nil
}

// codecCapability is the single codec per kind every router accepts:
// opus for audio, VP8 for video.
func codecCapability(kind domain.MediaKind) webrtc.RTPCodecCapability {
	if kind == domain.MediaAudio {
		return webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		}
	}
	return webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}
}

func (e *Engine) RtpCapabilities() core.RtpCapabilities { return e.caps }

func (e *Engine) CreateRouter(_ context.Context) (core.Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	r := newRouter(uuid.NewString(), e)
	e.routers[r.id] = r
	log.Info().Str("module", "engine").Str("router", r.id).Msg("router created")
	return r, nil
}

func (e *Engine) dropRouter(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.routers, id)
}

// Close releases every router still open. Shutdown path only; failures
// are logged by the routers themselves and never block exit.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	routers := make([]*router, 0, len(e.routers))
	for _, r := range e.routers {
		routers = append(routers, r)
	}
	e.routers = make(map[string]*router)
	e.mu.Unlock()

	for _, r := range routers {
		r.Close()
	}
	log.Info().Str("module", "engine").Int("routers", len(routers)).Msg("engine closed")
}
