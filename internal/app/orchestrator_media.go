package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/core"
	"github.com/artemkas/watchparty/internal/domain"
)

// Transport, produce and consume orchestration. The common shape of every
// operation here: validate against current state, release all locks, make
// the engine call, then re-validate before committing the result. A
// session or room that vanished mid-flight gets the fresh handle closed,
// never registered.

func (o *Orchestrator) CreateTransport(ctx context.Context, sid domain.ParticipantID, roomID domain.RoomID, dir core.TransportDirection) (*core.TransportParams, error) {
	sess, ok := o.Sessions.Get(sid)
	if !ok {
		return nil, domain.ErrTransportNotFound
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if sess.HasTransport(dir) {
		return nil, domain.ErrTransportAlreadyExists
	}

	transport, err := room.Router().CreateTransport(ctx, dir)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("sid", string(sid)).
			Str("direction", string(dir)).Msg("transport create failed")
		return nil, domain.ErrEngineUnavailable
	}

	// Commit. The slot may have been filled or the session torn down
	// while the engine call ran.
	if err := sess.SetTransport(dir, transport); err != nil {
		transport.Close()
		return nil, err
	}
	if current, ok := sess.RoomID(); !ok || current != roomID {
		transport.Close()
		return nil, domain.ErrRoomNotFound
	}

	params := transport.Params()
	return &params, nil
}

// ConnectTransport finishes DTLS negotiation for one of the session's own
// transports. Connecting someone else's transport is indistinguishable
// from connecting a nonexistent one.
func (o *Orchestrator) ConnectTransport(ctx context.Context, sid domain.ParticipantID, id core.TransportID, dtls core.DtlsParameters) error {
	sess, ok := o.Sessions.Get(sid)
	if !ok {
		return domain.ErrTransportNotFound
	}
	transport, ok := sess.TransportByID(id)
	if !ok {
		return domain.ErrTransportNotFound
	}
	return transport.Connect(ctx, dtls)
}

// Produce creates a producer on the session's send transport, records it
// in the room's producer index and announces it to the other members so
// they can opportunistically consume it.
func (o *Orchestrator) Produce(ctx context.Context, sid domain.ParticipantID, roomID domain.RoomID, transportID core.TransportID, kind domain.MediaKind, rtp core.RtpParameters) (domain.ProducerID, error) {
	sess, ok := o.Sessions.Get(sid)
	if !ok {
		return "", domain.ErrTransportNotFound
	}
	transport, ok := sess.TransportByID(transportID)
	if !ok || transport.Direction() != core.DirectionSend {
		return "", domain.ErrTransportNotFound
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return "", domain.ErrRoomNotFound
	}

	producer, err := transport.Produce(ctx, kind, rtp)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("sid", string(sid)).Msg("produce failed")
		return "", err
	}

	if !sess.AddProducer(producer) {
		producer.Close()
		return "", domain.ErrTransportNotFound
	}
	info := domain.ProducerInfo{ID: producer.ID(), Kind: producer.Kind()}
	if !room.RegisterProducer(sid, info) {
		// The participant left the room while produce was in flight.
		sess.RemoveProducer(producer.ID())
		producer.Close()
		return "", domain.ErrRoomNotFound
	}

	room.Broadcast(sid, marshalEvent(newProducerEvent{
		Type:       "new-producer",
		ProducerID: producer.ID(),
		SocketID:   sid,
		Kind:       producer.Kind(),
	}))
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).
		Str("producer", string(producer.ID())).Str("kind", string(producer.Kind())).Msg("producer created")
	return producer.ID(), nil
}

// Consume attaches a paused consumer of someone else's producer to the
// session's recv transport. The client resumes it once its playback
// pipeline is ready, so no frames are lost to a half-wired element.
func (o *Orchestrator) Consume(ctx context.Context, sid domain.ParticipantID, roomID domain.RoomID, producerID domain.ProducerID, caps core.RtpCapabilities) (*core.ConsumerParams, error) {
	sess, ok := o.Sessions.Get(sid)
	if !ok {
		return nil, domain.ErrTransportNotFound
	}
	transport, ok := sess.RecvTransport()
	if !ok {
		return nil, domain.ErrTransportNotFound
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if _, _, ok := room.FindProducer(producerID); !ok {
		return nil, domain.ErrProducerNotFound
	}
	if !room.Router().CanConsume(producerID, caps) {
		return nil, domain.ErrIncompatibleCapabilities
	}

	consumer, err := transport.Consume(ctx, producerID, caps)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("sid", string(sid)).
			Str("producer", string(producerID)).Msg("consume failed")
		return nil, err
	}

	if !sess.AddConsumer(consumer) {
		consumer.Close()
		return nil, domain.ErrConsumerNotFound
	}
	if _, _, ok := room.FindProducer(producerID); !ok {
		// Producer closed while consume was in flight.
		for _, c := range sess.TakeConsumersOf(producerID) {
			c.Close()
		}
		return nil, domain.ErrProducerNotFound
	}

	params := consumer.Params()
	return &params, nil
}

func (o *Orchestrator) ResumeConsumer(sid domain.ParticipantID, id core.ConsumerID) error {
	sess, ok := o.Sessions.Get(sid)
	if !ok {
		return domain.ErrConsumerNotFound
	}
	consumer, ok := sess.ConsumerByID(id)
	if !ok {
		return domain.ErrConsumerNotFound
	}
	return consumer.Resume()
}
