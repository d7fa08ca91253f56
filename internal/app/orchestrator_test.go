package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artemkas/watchparty/internal/core"
	"github.com/artemkas/watchparty/internal/domain"
)

func TestJoinAckContents(t *testing.T) {
	o, _, conns := newTestOrchestrator("A", "B")
	ctx := context.Background()

	resA, err := o.Join(ctx, "A", "r1", "alice")
	if err != nil {
		t.Fatalf("join A: %v", err)
	}
	if !resA.IsHost || resA.HostID != "A" {
		t.Fatalf("first joiner must be host, got %+v", resA)
	}
	if resA.VideoState != domain.PlaybackPaused || resA.VideoTime != 0 {
		t.Fatalf("fresh room must start paused at 0, got %+v", resA)
	}
	if len(resA.RtpCapabilities) == 0 {
		t.Fatal("join ack must carry engine capabilities")
	}

	resB, err := o.Join(ctx, "B", "r1", "bob")
	if err != nil {
		t.Fatalf("join B: %v", err)
	}
	if resB.IsHost || resB.HostID != "A" {
		t.Fatalf("second joiner ack wrong: %+v", resB)
	}
	if len(resB.ExistingProducers) != 1 || resB.ExistingProducers[0].ParticipantID != "A" {
		t.Fatalf("existing participants missing from ack: %+v", resB.ExistingProducers)
	}

	if got := conns["A"].eventTypes(); len(got) != 1 || got[0] != "new-participant" {
		t.Fatalf("A must be told about B, got %v", got)
	}
	if got := conns["B"].eventTypes(); len(got) != 0 {
		t.Fatalf("B must not be told about its own join, got %v", got)
	}
}

func TestProduceBroadcastsAndRegisters(t *testing.T) {
	o, _, conns := newTestOrchestrator("A", "B")
	ctx := context.Background()
	mustJoin(t, o, "A", "r1", "alice")
	mustJoin(t, o, "B", "r1", "bob")

	params, err := o.CreateTransport(ctx, "A", "r1", core.DirectionSend)
	if err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	pid, err := o.Produce(ctx, "A", "r1", params.ID, domain.MediaVideo, core.RtpParameters(`{}`))
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}

	room, _ := o.Rooms.Get("r1")
	owner, info, ok := room.FindProducer(pid)
	if !ok || owner != "A" || info.Kind != domain.MediaVideo {
		t.Fatalf("producer not indexed: owner=%q info=%+v ok=%v", owner, info, ok)
	}

	ev := conns["B"].lastEvent()
	if ev["type"] != "new-producer" || ev["producerId"] != string(pid) || ev["socketId"] != "A" {
		t.Fatalf("unexpected new-producer event %v", ev)
	}
}

func TestProduceOnForeignOrRecvTransportFails(t *testing.T) {
	o, _, _ := newTestOrchestrator("A")
	ctx := context.Background()
	mustJoin(t, o, "A", "r1", "alice")

	if _, err := o.Produce(ctx, "A", "r1", "no-such-transport", domain.MediaVideo, nil); !errors.Is(err, domain.ErrTransportNotFound) {
		t.Fatalf("expected ErrTransportNotFound, got %v", err)
	}

	recv, err := o.CreateTransport(ctx, "A", "r1", core.DirectionRecv)
	if err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	if _, err := o.Produce(ctx, "A", "r1", recv.ID, domain.MediaVideo, nil); !errors.Is(err, domain.ErrTransportNotFound) {
		t.Fatalf("produce on recv transport must fail with ErrTransportNotFound, got %v", err)
	}

	// Room state must be untouched by the failures.
	room, _ := o.Rooms.Get("r1")
	if rows := room.ParticipantIDs(); len(rows) != 1 {
		t.Fatalf("membership mutated: %v", rows)
	}
	if _, _, ok := room.FindProducer("no-such-transport"); ok {
		t.Fatal("failed produce must not register anything")
	}
}

func TestTransportSlotConflict(t *testing.T) {
	o, _, _ := newTestOrchestrator("A")
	ctx := context.Background()
	mustJoin(t, o, "A", "r1", "alice")

	if _, err := o.CreateTransport(ctx, "A", "r1", core.DirectionSend); err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	if _, err := o.CreateTransport(ctx, "A", "r1", core.DirectionSend); !errors.Is(err, domain.ErrTransportAlreadyExists) {
		t.Fatalf("expected ErrTransportAlreadyExists, got %v", err)
	}
	// The other direction is still free.
	if _, err := o.CreateTransport(ctx, "A", "r1", core.DirectionRecv); err != nil {
		t.Fatalf("CreateTransport recv: %v", err)
	}
}

func TestConsumeLifecycle(t *testing.T) {
	o, _, _ := newTestOrchestrator("A", "B")
	ctx := context.Background()
	mustJoin(t, o, "A", "r1", "alice")
	mustJoin(t, o, "B", "r1", "bob")

	sendParams, _ := o.CreateTransport(ctx, "A", "r1", core.DirectionSend)
	pid, _ := o.Produce(ctx, "A", "r1", sendParams.ID, domain.MediaVideo, core.RtpParameters(`{}`))

	// No recv transport yet.
	caps := core.RtpCapabilities(`{"codecs":["video/VP8"]}`)
	if _, err := o.Consume(ctx, "B", "r1", pid, caps); !errors.Is(err, domain.ErrTransportNotFound) {
		t.Fatalf("consume without recv transport: got %v", err)
	}

	if _, err := o.CreateTransport(ctx, "B", "r1", core.DirectionRecv); err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}

	if _, err := o.Consume(ctx, "B", "r1", "ghost", caps); !errors.Is(err, domain.ErrProducerNotFound) {
		t.Fatalf("consume unknown producer: got %v", err)
	}
	if _, err := o.Consume(ctx, "B", "r1", pid, nil); !errors.Is(err, domain.ErrIncompatibleCapabilities) {
		t.Fatalf("consume with no capabilities: got %v", err)
	}

	params, err := o.Consume(ctx, "B", "r1", pid, caps)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if params.ProducerID != pid || params.Kind != domain.MediaVideo {
		t.Fatalf("unexpected consumer params %+v", params)
	}

	if err := o.ResumeConsumer("B", params.ID); err != nil {
		t.Fatalf("ResumeConsumer: %v", err)
	}
	if err := o.ResumeConsumer("B", "ghost"); !errors.Is(err, domain.ErrConsumerNotFound) {
		t.Fatalf("resume unknown consumer: got %v", err)
	}
}

func TestDisconnectCascadeOrdering(t *testing.T) {
	o, _, conns := newTestOrchestrator("A", "B")
	ctx := context.Background()
	mustJoin(t, o, "A", "r1", "alice")
	mustJoin(t, o, "B", "r1", "bob")

	sendParams, _ := o.CreateTransport(ctx, "A", "r1", core.DirectionSend)
	pid, _ := o.Produce(ctx, "A", "r1", sendParams.ID, domain.MediaVideo, core.RtpParameters(`{}`))
	o.CreateTransport(ctx, "B", "r1", core.DirectionRecv)
	consParams, err := o.Consume(ctx, "B", "r1", pid, core.RtpCapabilities(`{"codecs":["video/VP8"]}`))
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	sessB, _ := o.Sessions.Get("B")
	consumer, _ := sessB.ConsumerByID(consParams.ID)

	o.OnDisconnect("A")

	types := conns["B"].eventTypes()
	closedIdx, leftIdx := -1, -1
	for i, typ := range types {
		switch typ {
		case "producerClosed":
			closedIdx = i
		case "participant-left":
			leftIdx = i
		}
	}
	if closedIdx == -1 || leftIdx == -1 {
		t.Fatalf("missing cascade events, got %v", types)
	}
	if closedIdx > leftIdx {
		t.Fatalf("producerClosed must precede participant-left, got %v", types)
	}
	if !consumer.(*fakeConsumer).closed.Load() {
		t.Fatal("B's consumer of A's producer must be closed")
	}
	if _, ok := sessB.ConsumerByID(consParams.ID); ok {
		t.Fatal("closed consumer must be deregistered from B's session")
	}
}

func TestDisconnectHostHandover(t *testing.T) {
	o, _, conns := newTestOrchestrator("A", "B", "C")
	mustJoin(t, o, "A", "r1", "alice")
	mustJoin(t, o, "B", "r1", "bob")
	mustJoin(t, o, "C", "r1", "carol")

	o.OnDisconnect("A")

	room, ok := o.Rooms.Get("r1")
	if !ok {
		t.Fatal("room must survive with members left")
	}
	if room.HostID() != "B" {
		t.Fatalf("host must pass to B, got %q", room.HostID())
	}
	ev := conns["C"].lastEvent()
	if ev["type"] != "host-changed" || ev["newHostId"] != "B" {
		t.Fatalf("expected host-changed to B, got %v", ev)
	}
}

func TestLastLeaveDestroysRoomOnce(t *testing.T) {
	o, eng, _ := newTestOrchestrator("A")
	mustJoin(t, o, "A", "r1", "alice")

	o.OnDisconnect("A")
	if _, ok := o.Rooms.Get("r1"); ok {
		t.Fatal("empty room must be removed from the registry")
	}
	if !eng.routers[0].isClosed() {
		t.Fatal("router must be released before registry removal")
	}

	// A second disconnect for the same session is a safe no-op.
	o.OnDisconnect("A")
}

func TestPlaybackHostGateAndHandover(t *testing.T) {
	o, _, conns := newTestOrchestrator("A", "B", "C")
	mustJoin(t, o, "A", "r1", "alice")
	mustJoin(t, o, "B", "r1", "bob")
	mustJoin(t, o, "C", "r1", "carol")

	o.SetPlayback("A", "r1", domain.PlaybackPlaying, 10)
	ev := conns["B"].lastEvent()
	if ev["type"] != "play-video" || ev["time"] != float64(10) {
		t.Fatalf("B must receive host's play event, got %v", ev)
	}

	// A non-host event is dropped without any broadcast.
	before := len(conns["A"].eventTypes())
	o.SetPlayback("B", "r1", domain.PlaybackPlaying, 999)
	if got := len(conns["A"].eventTypes()); got != before {
		t.Fatal("non-host playback event must not be broadcast")
	}
	room, _ := o.Rooms.Get("r1")
	if room.Playback().PositionSeconds != 10 {
		t.Fatal("non-host playback event must not mutate state")
	}

	// After the host leaves, the new host's events are accepted.
	o.OnDisconnect("A")
	if room.HostID() != "B" {
		t.Fatalf("expected B as new host, got %q", room.HostID())
	}
	o.SetPlayback("B", "r1", domain.PlaybackPaused, 42)
	if room.Playback().PositionSeconds != 42 {
		t.Fatal("new host's playback event must be accepted")
	}
	ev = conns["C"].lastEvent()
	if ev["type"] != "pause-video" || ev["time"] != float64(42) {
		t.Fatalf("C must receive new host's event, got %v", ev)
	}
}

func TestJoinReconstructsPlayingPosition(t *testing.T) {
	o, _, _ := newTestOrchestrator("A", "B")
	mustJoin(t, o, "A", "r1", "alice")

	room, _ := o.Rooms.Get("r1")
	room.SetPlayback("A", domain.PlaybackPlaying, 10, time.Now().Add(-2*time.Second))

	res, err := o.Join(context.Background(), "B", "r1", "bob")
	if err != nil {
		t.Fatalf("join B: %v", err)
	}
	if res.VideoState != domain.PlaybackPlaying {
		t.Fatalf("expected playing state, got %v", res.VideoState)
	}
	if res.VideoTime < 11.5 || res.VideoTime > 13 {
		t.Fatalf("expected reconstructed position near 12s, got %v", res.VideoTime)
	}
}

func TestToggleMediaBroadcast(t *testing.T) {
	o, _, conns := newTestOrchestrator("A", "B")
	mustJoin(t, o, "A", "r1", "alice")
	mustJoin(t, o, "B", "r1", "bob")

	o.ToggleMedia("A", "r1", true, false)
	ev := conns["B"].lastEvent()
	if ev["type"] != "toggle-camera" || ev["socketId"] != "A" || ev["enabled"] != false {
		t.Fatalf("unexpected toggle event %v", ev)
	}
}

func TestRejoinFreesMediaSlots(t *testing.T) {
	o, _, _ := newTestOrchestrator("A", "B")
	ctx := context.Background()
	mustJoin(t, o, "A", "r1", "alice")
	mustJoin(t, o, "B", "r1", "bob")

	sendParams, err := o.CreateTransport(ctx, "A", "r1", core.DirectionSend)
	if err != nil {
		t.Fatalf("CreateTransport send: %v", err)
	}
	recvParams, err := o.CreateTransport(ctx, "A", "r1", core.DirectionRecv)
	if err != nil {
		t.Fatalf("CreateTransport recv: %v", err)
	}
	pid, _ := o.Produce(ctx, "A", "r1", sendParams.ID, domain.MediaVideo, core.RtpParameters(`{}`))

	bSend, _ := o.CreateTransport(ctx, "B", "r1", core.DirectionSend)
	bPid, _ := o.Produce(ctx, "B", "r1", bSend.ID, domain.MediaAudio, core.RtpParameters(`{}`))
	consParams, err := o.Consume(ctx, "A", "r1", bPid, core.RtpCapabilities(`{"codecs":["audio/opus"]}`))
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	sessA, _ := o.Sessions.Get("A")
	oldSend, _ := sessA.TransportByID(sendParams.ID)
	oldRecv, _ := sessA.TransportByID(recvParams.ID)
	oldConsumer, _ := sessA.ConsumerByID(consParams.ID)

	mustJoin(t, o, "A", "r2", "alice")

	// Everything bound to r1's router must be gone from the session.
	if !oldSend.(*fakeTransport).closed || !oldRecv.(*fakeTransport).closed {
		t.Fatal("old room's transports must be closed on rejoin")
	}
	if !oldConsumer.(*fakeConsumer).closed.Load() {
		t.Fatal("old room's consumer must be closed on rejoin")
	}
	if _, _, ok := mustRoom(t, o, "r1").FindProducer(pid); ok {
		t.Fatal("the mover's producer must be dropped from the old room")
	}

	// Both slots are free again in the new room.
	if _, err := o.CreateTransport(ctx, "A", "r2", core.DirectionSend); err != nil {
		t.Fatalf("send transport in new room: %v", err)
	}
	if _, err := o.CreateTransport(ctx, "A", "r2", core.DirectionRecv); err != nil {
		t.Fatalf("recv transport in new room: %v", err)
	}
}

func mustRoom(t *testing.T, o *Orchestrator, id domain.RoomID) *Room {
	t.Helper()
	room, ok := o.Rooms.Get(id)
	if !ok {
		t.Fatalf("room %s not found", id)
	}
	return room
}

func TestRejoinMovesParticipant(t *testing.T) {
	o, _, _ := newTestOrchestrator("A")
	mustJoin(t, o, "A", "r1", "alice")
	mustJoin(t, o, "A", "r2", "alice")

	if _, ok := o.Rooms.Get("r1"); ok {
		t.Fatal("r1 must be destroyed after its only member moved away")
	}
	room, ok := o.Rooms.Get("r2")
	if !ok || room.HostID() != "A" {
		t.Fatal("A must be host of the new room")
	}
}

func mustJoin(t *testing.T, o *Orchestrator, sid domain.ParticipantID, roomID domain.RoomID, name string) *JoinResult {
	t.Helper()
	res, err := o.Join(context.Background(), sid, roomID, name)
	if err != nil {
		t.Fatalf("join %s: %v", sid, err)
	}
	return res
}
