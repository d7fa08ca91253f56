package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/core"
	"github.com/artemkas/watchparty/internal/domain"
)

// Server -> client broadcast payloads. Field names follow the wire
// protocol the browser client listens on.

type participantJoinedEvent struct {
	Type     string               `json:"type"`
	SocketID domain.ParticipantID `json:"socketId"`
	Username string               `json:"username"`
}

type participantLeftEvent struct {
	Type     string               `json:"type"`
	SocketID domain.ParticipantID `json:"socketId"`
}

type newProducerEvent struct {
	Type       string               `json:"type"`
	ProducerID domain.ProducerID    `json:"producerId"`
	SocketID   domain.ParticipantID `json:"socketId"`
	Kind       domain.MediaKind     `json:"kind"`
}

type producerClosedEvent struct {
	Type       string            `json:"type"`
	ProducerID domain.ProducerID `json:"producerId"`
}

type hostChangedEvent struct {
	Type      string               `json:"type"`
	NewHostID domain.ParticipantID `json:"newHostId"`
}

type playbackEvent struct {
	Type string  `json:"type"`
	Time float64 `json:"time"`
}

type toggleEvent struct {
	Type     string               `json:"type"`
	SocketID domain.ParticipantID `json:"socketId"`
	Enabled  bool                 `json:"enabled"`
}

func marshalEvent(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.events").Msg("event marshal")
		return nil
	}
	return b
}
