package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/core"
	"github.com/artemkas/watchparty/internal/domain"
)

func (ctl *Controller) handleCreateTransport(ctx context.Context, sid domain.ParticipantID, c *Conn, data []byte, producing bool) {
	var p struct {
		Rid    string `json:"rid"`
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad transport payload")
		return
	}

	dir := core.DirectionRecv
	if producing {
		dir = core.DirectionSend
	}
	params, err := ctl.Orch.CreateTransport(ctx, sid, domain.RoomID(p.RoomID), dir)
	if err != nil {
		ctl.ackErr(c, p.Rid, err)
		return
	}
	ctl.ack(c, p.Rid, params)
}

func (ctl *Controller) handleConnectTransport(ctx context.Context, sid domain.ParticipantID, c *Conn, data []byte) {
	var p struct {
		Rid            string          `json:"rid"`
		RoomID         string          `json:"roomId"`
		TransportID    string          `json:"transportId"`
		DtlsParameters json.RawMessage `json:"dtlsParameters"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad connect payload")
		return
	}

	if err := ctl.Orch.ConnectTransport(ctx, sid, core.TransportID(p.TransportID), p.DtlsParameters); err != nil {
		ctl.ackErr(c, p.Rid, err)
		return
	}
	ctl.ack(c, p.Rid, struct{}{})
}

func (ctl *Controller) handleProduce(ctx context.Context, sid domain.ParticipantID, c *Conn, data []byte) {
	var p struct {
		Rid           string          `json:"rid"`
		RoomID        string          `json:"roomId"`
		TransportID   string          `json:"transportId"`
		Kind          string          `json:"kind"`
		RtpParameters json.RawMessage `json:"rtpParameters"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad produce payload")
		return
	}

	kind, err := domain.ParseMediaKind(p.Kind)
	if err != nil {
		ctl.ackErr(c, p.Rid, err)
		return
	}
	id, err := ctl.Orch.Produce(ctx, sid, domain.RoomID(p.RoomID), core.TransportID(p.TransportID), kind, p.RtpParameters)
	if err != nil {
		ctl.ackErr(c, p.Rid, err)
		return
	}
	ctl.ack(c, p.Rid, struct {
		ID domain.ProducerID `json:"id"`
	}{ID: id})
}

func (ctl *Controller) handleConsume(ctx context.Context, sid domain.ParticipantID, c *Conn, data []byte) {
	var p struct {
		Rid             string          `json:"rid"`
		RoomID          string          `json:"roomId"`
		ProducerID      string          `json:"producerId"`
		RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad consume payload")
		return
	}

	params, err := ctl.Orch.Consume(ctx, sid, domain.RoomID(p.RoomID), domain.ProducerID(p.ProducerID), p.RtpCapabilities)
	if err != nil {
		ctl.ackErr(c, p.Rid, err)
		return
	}
	ctl.ack(c, p.Rid, params)
}

func (ctl *Controller) handleResumeConsumer(sid domain.ParticipantID, c *Conn, data []byte) {
	var p struct {
		Rid        string `json:"rid"`
		ConsumerID string `json:"consumerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad resume payload")
		return
	}

	if err := ctl.Orch.ResumeConsumer(sid, core.ConsumerID(p.ConsumerID)); err != nil {
		ctl.ackErr(c, p.Rid, err)
		return
	}
	ctl.ack(c, p.Rid, struct{}{})
}
