package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/core"
	"github.com/artemkas/watchparty/internal/domain"
)

// Orchestrator glues the session registry, the room registry and the
// media engine. It owns every ordering guarantee the protocol makes:
// producer teardown before participant-left, host-changed after the host
// mutation is committed, router release exactly once per room lifetime.
type Orchestrator struct {
	Engine   core.MediaEngine
	Rooms    *RoomRegistry
	Sessions *SessionRegistry
}

func NewOrchestrator(engine core.MediaEngine) *Orchestrator {
	return &Orchestrator{
		Engine:   engine,
		Rooms:    NewRoomRegistry(engine),
		Sessions: NewSessionRegistry(),
	}
}

// JoinResult is the join-room ack payload.
type JoinResult struct {
	RtpCapabilities   core.RtpCapabilities   `json:"rtpCapabilities"`
	ExistingProducers []ParticipantProducers `json:"existingProducers"`
	ContentRef        domain.ContentRef      `json:"contentRef"`
	IsHost            bool                   `json:"isHost"`
	HostID            domain.ParticipantID   `json:"hostId"`
	VideoState        domain.PlaybackStatus  `json:"videoState"`
	VideoTime         float64                `json:"videoTime"`
}

// Join places the session's participant into the room, creating the room
// on demand. The first joiner becomes host. Everyone else in the room is
// told about the newcomer after the join is committed.
func (o *Orchestrator) Join(ctx context.Context, sid domain.ParticipantID, roomID domain.RoomID, username string) (*JoinResult, error) {
	sess, ok := o.Sessions.Get(sid)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	p, err := domain.NewParticipant(username)
	if err != nil {
		return nil, err
	}
	p.ID = sid // participant identity is the connection identity

	// A second join from the same connection moves it: leave first, the
	// same way a disconnect would, then join fresh.
	if prev, ok := sess.RoomID(); ok {
		log.Info().Str("module", "app.orch").Str("sid", string(sid)).
			Str("from_room", string(prev)).Str("to_room", string(roomID)).Msg("rejoin, leaving previous room")
		o.leaveRoom(sess)
	}

	// A room can empty out and close between lookup and join; GetOrCreate
	// then supplies a fresh replacement, so joining a dying room retries
	// instead of landing members in a room whose router is being released.
	var (
		room *Room
		snap JoinSnapshot
	)
	for {
		room, err = o.Rooms.GetOrCreate(ctx, roomID, "")
		if err != nil {
			return nil, err
		}
		var ok bool
		if snap, ok = room.AddParticipant(p, sess.Conn()); ok {
			break
		}
	}
	sess.SetParticipant(p)
	sess.SetRoom(roomID)

	room.Broadcast(sid, marshalEvent(participantJoinedEvent{
		Type:     "new-participant",
		SocketID: sid,
		Username: p.DisplayName,
	}))

	return &JoinResult{
		RtpCapabilities:   o.Engine.RtpCapabilities(),
		ExistingProducers: snap.Others,
		ContentRef:        room.ContentRef(),
		IsHost:            snap.IsHost,
		HostID:            snap.HostID,
		VideoState:        snap.Playback.Status,
		VideoTime:         snap.Playback.PositionAt(time.Now()),
	}, nil
}

// OnDisconnect is the universal cancellation signal: it releases every
// resource the session owns regardless of how far any handshake got.
// Calling it more than once is safe.
func (o *Orchestrator) OnDisconnect(sid domain.ParticipantID) {
	sess, ok := o.Sessions.Get(sid)
	if !ok {
		return
	}
	o.leaveRoom(sess)
	sess.Teardown()
	o.Sessions.Unbind(sid)
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Msg("disconnected")
}

// leaveRoom removes the session's participant from its room. The order is
// load-bearing:
//
//  1. close the participant's producers and cascade producerClosed to
//     each member consuming them, then release the session's remaining
//     consumers and transports (they belong to this room's router),
//  2. remove the participant and broadcast participant-left,
//  3. broadcast host-changed if succession happened,
//  4. release the router and drop the room if it emptied.
//
// Remaining members therefore never see participant-left before the
// matching producerClosed.
func (o *Orchestrator) leaveRoom(sess *Session) {
	roomID, ok := sess.RoomID()
	if !ok {
		return
	}
	sess.ClearRoom()
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return
	}
	sid := sess.ID()

	for _, producer := range sess.TakeProducers() {
		o.closeProducer(room, producer)
	}
	// The session's consumers and transports belong to this room's router
	// and must not survive the move: stale slots would block transport
	// creation in the next room.
	sess.ReleaseMedia()

	res := room.RemoveParticipant(sid)
	if !res.Removed {
		return
	}

	room.Broadcast(sid, marshalEvent(participantLeftEvent{
		Type:     "participant-left",
		SocketID: sid,
	}))

	if res.WasHost && !res.Empty {
		room.Broadcast("", marshalEvent(hostChangedEvent{
			Type:      "host-changed",
			NewHostID: res.NewHostID,
		}))
		log.Info().Str("module", "app.orch").Str("room", string(roomID)).
			Str("new_host", string(res.NewHostID)).Msg("host changed")
	}

	if res.Empty {
		room.Router().Close()
		o.Rooms.Remove(room)
	}
}

// closeProducer closes a producer handle and tears down every consumer of
// it across the room, notifying each consuming client so it can drop its
// media element. Engine failures here are logged and swallowed; teardown
// never escalates.
func (o *Orchestrator) closeProducer(room *Room, producer core.Producer) {
	producer.Close()
	closed := marshalEvent(producerClosedEvent{
		Type:       "producerClosed",
		ProducerID: producer.ID(),
	})
	for _, memberID := range room.ParticipantIDs() {
		member, ok := o.Sessions.Get(memberID)
		if !ok {
			continue
		}
		consumers := member.TakeConsumersOf(producer.ID())
		if len(consumers) == 0 {
			continue
		}
		for _, c := range consumers {
			c.Close()
		}
		if err := member.Conn().TrySend(closed); err != nil {
			log.Debug().Err(err).Str("module", "app.orch").
				Str("sid", string(memberID)).Msg("producerClosed notify dropped")
		}
	}
}
