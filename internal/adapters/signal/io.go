package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump drives the whole connection lifecycle: when it exits for any
// reason, the session's resources are released through OnDisconnect.
func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sid domain.ParticipantID, c *Conn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(sid)
		ctl.joins.Forget(sid)
		cancel()
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleMessage(ctx, sid, c, data)
		}
	}
}

// Every client message is a JSON envelope with a type. Requests carry a
// rid the ack echoes back; fire-and-forget events have none.
func (ctl *Controller) handleMessage(ctx context.Context, sid domain.ParticipantID, c *Conn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "join-room":
		ctl.handleJoinRoom(ctx, sid, c, data)
	case "create-producer-transport":
		ctl.handleCreateTransport(ctx, sid, c, data, true)
	case "create-consumer-transport":
		ctl.handleCreateTransport(ctx, sid, c, data, false)
	case "connect-transport":
		ctl.handleConnectTransport(ctx, sid, c, data)
	case "produce":
		ctl.handleProduce(ctx, sid, c, data)
	case "consume":
		ctl.handleConsume(ctx, sid, c, data)
	case "resume-consumer":
		ctl.handleResumeConsumer(sid, c, data)
	case "play-video":
		ctl.handlePlayback(sid, data, domain.PlaybackPlaying)
	case "pause-video":
		ctl.handlePlayback(sid, data, domain.PlaybackPaused)
	case "toggle-camera":
		ctl.handleToggle(sid, data, true)
	case "toggle-mic":
		ctl.handleToggle(sid, data, false)
	case "ping":
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) sendJSON(c *Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

type ackEnvelope struct {
	Type  string `json:"type"`
	Rid   string `json:"rid"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func (ctl *Controller) ack(c *Conn, rid string, data any) {
	ctl.sendJSON(c, ackEnvelope{Type: "ack", Rid: rid, Data: data})
}

func (ctl *Controller) ackErr(c *Conn, rid string, err error) {
	ctl.sendJSON(c, ackEnvelope{Type: "ack", Rid: rid, Error: errReason(err)})
}

// errReason maps operation errors to the stable reason strings clients
// switch on. A failed client operation never costs the connection.
func errReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return "room-not-found"
	case errors.Is(err, domain.ErrRoomAlreadyExists):
		return "room-already-exists"
	case errors.Is(err, domain.ErrEngineUnavailable):
		return "engine-unavailable"
	case errors.Is(err, domain.ErrTransportNotFound):
		return "transport-not-found"
	case errors.Is(err, domain.ErrTransportAlreadyExists):
		return "transport-already-exists"
	case errors.Is(err, domain.ErrProducerNotFound):
		return "producer-not-found"
	case errors.Is(err, domain.ErrConsumerNotFound):
		return "consumer-not-found"
	case errors.Is(err, domain.ErrIncompatibleCapabilities):
		return "incompatible-capabilities"
	case errors.Is(err, domain.ErrNotAuthorized):
		return "not-authorized"
	case errors.Is(err, domain.ErrDisplayNameEmpty),
		errors.Is(err, domain.ErrDisplayNameTooLong),
		errors.Is(err, domain.ErrRoomIDEmpty),
		errors.Is(err, domain.ErrRoomIDTooLong),
		errors.Is(err, domain.ErrInvalidMediaKind):
		return err.Error()
	default:
		return "internal-error"
	}
}
