package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/domain"
)

// play-video / pause-video are fire-and-forget: no rid, no ack. The
// orchestrator drops events from non-hosts without telling the sender.
func (ctl *Controller) handlePlayback(sid domain.ParticipantID, data []byte, status domain.PlaybackStatus) {
	var p struct {
		RoomID string  `json:"roomId"`
		Time   float64 `json:"time"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad playback payload")
		return
	}
	ctl.Orch.SetPlayback(sid, domain.RoomID(p.RoomID), status, p.Time)
}

// toggle-camera / toggle-mic carry a socketId field, but the sender
// identity always comes from the connection: clients cannot toggle each
// other's flags.
func (ctl *Controller) handleToggle(sid domain.ParticipantID, data []byte, camera bool) {
	var p struct {
		RoomID  string `json:"roomId"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad toggle payload")
		return
	}
	ctl.Orch.ToggleMedia(sid, domain.RoomID(p.RoomID), camera, p.Enabled)
}
