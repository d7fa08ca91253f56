package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/domain"
)

func (ctl *Controller) handleJoinRoom(ctx context.Context, sid domain.ParticipantID, c *Conn, data []byte) {
	var p struct {
		Rid      string `json:"rid"`
		RoomID   string `json:"roomId"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendJSON(c, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}

	if !ctl.joins.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("join rate limited")
		ctl.ackErr(c, p.Rid, domain.ErrNotAuthorized)
		return
	}

	res, err := ctl.Orch.Join(ctx, sid, domain.RoomID(p.RoomID), p.Username)
	if err != nil {
		ctl.ackErr(c, p.Rid, err)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).
		Str("room", p.RoomID).Bool("host", res.IsHost).Msg("joined room")
	ctl.ack(c, p.Rid, res)
}

func (ctl *Controller) handlePing(c *Conn) {
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
	}{Type: "pong"})
}
