package app

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/domain"
)

// SetPlayback applies a host play/pause event and relays it verbatim to
// the other members. Events from anyone but the current host are silently
// dropped: a former host's client may still have events in flight, and
// punishing it would only complicate the handover.
func (o *Orchestrator) SetPlayback(sid domain.ParticipantID, roomID domain.RoomID, status domain.PlaybackStatus, position float64) {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return
	}
	if !room.SetPlayback(sid, status, position, time.Now()) {
		log.Warn().Str("module", "app.orch").Str("sid", string(sid)).
			Str("room", string(roomID)).Msg("playback event from non-host ignored")
		return
	}

	eventType := "play-video"
	if status == domain.PlaybackPaused {
		eventType = "pause-video"
	}
	room.Broadcast(sid, marshalEvent(playbackEvent{Type: eventType, Time: position}))
}

// ToggleMedia relays an advisory camera/mic flag change. No ack, no
// enforcement; the flags only inform the other clients' UI.
func (o *Orchestrator) ToggleMedia(sid domain.ParticipantID, roomID domain.RoomID, camera bool, enabled bool) {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return
	}
	room.SetMediaFlag(sid, camera, enabled)

	eventType := "toggle-mic"
	if camera {
		eventType = "toggle-camera"
	}
	room.Broadcast(sid, marshalEvent(toggleEvent{Type: eventType, SocketID: sid, Enabled: enabled}))
}
