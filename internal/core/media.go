package core

import (
	"context"
	"encoding/json"

	"github.com/artemkas/watchparty/internal/domain"
)

type (
	TransportID string
	ConsumerID  string
)

type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// Negotiation payloads are opaque to the orchestration layer: they are
// produced by the engine on one side and the browser on the other, and
// pass through signaling untouched.
type (
	DtlsParameters  = json.RawMessage
	RtpParameters   = json.RawMessage
	RtpCapabilities = json.RawMessage
)

// TransportParams is what a client needs to connect one transport.
type TransportParams struct {
	ID         TransportID     `json:"id"`
	Direction  string          `json:"direction"`
	ICEServers json.RawMessage `json:"iceServers,omitempty"`
	SDPOffer   json.RawMessage `json:"sdpOffer,omitempty"`
}

// ConsumerParams is the ack payload of a consume request. RtpParameters
// carries whatever the engine needs the client to apply before media can
// flow (for the pion engine, a renegotiated SDP offer).
type ConsumerParams struct {
	ID            ConsumerID        `json:"id"`
	ProducerID    domain.ProducerID `json:"producerId"`
	Kind          domain.MediaKind  `json:"kind"`
	RtpParameters RtpParameters     `json:"rtpParameters"`
}

// MediaEngine is the process-wide SFU worker. It outlives all rooms; the
// orchestration layer only drives its handle lifecycle and never touches
// packets.
type MediaEngine interface {
	// RtpCapabilities describes what routers created by this engine can
	// receive. Sent to clients in the join ack.
	RtpCapabilities() RtpCapabilities
	CreateRouter(ctx context.Context) (Router, error)
	// Close releases all routers still open. Best effort on shutdown.
	Close()
}

// Router is a room-scoped media hub. Exactly one per room, owned by it.
type Router interface {
	ID() string
	CreateTransport(ctx context.Context, dir TransportDirection) (Transport, error)
	CanConsume(id domain.ProducerID, caps RtpCapabilities) bool
	Close()
}

// Transport is one participant's negotiated media path. A session owns at
// most one send and one recv transport; handles are never shared across
// sessions.
type Transport interface {
	ID() TransportID
	Direction() TransportDirection
	Params() TransportParams
	Connect(ctx context.Context, dtls DtlsParameters) error
	// Produce registers an inbound track on a send transport.
	Produce(ctx context.Context, kind domain.MediaKind, rtp RtpParameters) (Producer, error)
	// Consume attaches an outbound view of a producer to a recv transport.
	// The consumer starts paused; the client resumes it once its playback
	// pipeline is wired up.
	Consume(ctx context.Context, id domain.ProducerID, caps RtpCapabilities) (Consumer, error)
	Close()
}

// Producer is a server-side handle for one outbound participant track.
// Close is idempotent and terminal; consumers of a closed producer stop
// receiving immediately.
type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Close()
}

type Consumer interface {
	ID() ConsumerID
	ProducerID() domain.ProducerID
	Kind() domain.MediaKind
	Params() ConsumerParams
	Resume() error
	Close()
}
