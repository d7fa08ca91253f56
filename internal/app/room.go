package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/core"
	"github.com/artemkas/watchparty/internal/domain"
)

// memberEntry pairs a participant with its signaling endpoint. The room
// fans out to these but never closes them; connections belong to the
// adapter.
type memberEntry struct {
	participant *domain.Participant
	conn        core.SignalConnection
}

// Room is the aggregate for one watch party: ordered membership, the
// producer index, the current host and the shared playback timeline.
// All mutations go through its single mutex; engine calls never happen
// while it is held.
type Room struct {
	id         domain.RoomID
	contentRef domain.ContentRef
	router     core.Router

	mu           sync.Mutex
	participants []*memberEntry // insertion order = join order
	producers    map[domain.ParticipantID][]domain.ProducerInfo
	hostID       domain.ParticipantID
	playback     domain.PlaybackState
	closed       bool // set when the last participant leaves; terminal
}

func NewRoom(id domain.RoomID, contentRef domain.ContentRef, router core.Router) *Room {
	return &Room{
		id:         id,
		contentRef: contentRef,
		router:     router,
		producers:  make(map[domain.ParticipantID][]domain.ProducerInfo),
		playback:   domain.PlaybackState{Status: domain.PlaybackPaused},
	}
}

func (r *Room) ID() domain.RoomID             { return r.id }
func (r *Room) ContentRef() domain.ContentRef { return r.contentRef }
func (r *Room) Router() core.Router           { return r.router }

// ParticipantProducers is one row of the producer index snapshot handed
// to late joiners.
type ParticipantProducers struct {
	ParticipantID domain.ParticipantID  `json:"socketId"`
	Username      string                `json:"username"`
	Producers     []domain.ProducerInfo `json:"producers"`
}

// JoinSnapshot is everything a joiner learns about the room, captured
// atomically at join time.
type JoinSnapshot struct {
	IsHost   bool
	HostID   domain.ParticipantID
	Playback domain.PlaybackState
	Others   []ParticipantProducers
}

// AddParticipant appends to the ordered member list. The first joiner
// becomes host. The returned snapshot describes the room as the joiner
// found it, without the joiner itself. Returns false once the room has
// emptied and is being torn down; the caller must resolve a fresh room
// instead of reviving a dying one.
func (r *Room) AddParticipant(p *domain.Participant, conn core.SignalConnection) (JoinSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return JoinSnapshot{}, false
	}
	others := r.producerSnapshotLocked()
	r.participants = append(r.participants, &memberEntry{participant: p, conn: conn})
	if len(r.participants) == 1 {
		r.hostID = p.ID
	}
	log.Info().Str("module", "app.room").Str("room", string(r.id)).
		Str("participant", string(p.ID)).Bool("host", r.hostID == p.ID).Msg("participant added")

	return JoinSnapshot{
		IsHost:   r.hostID == p.ID,
		HostID:   r.hostID,
		Playback: r.playback,
		Others:   others,
	}, true
}

// LeaveResult reports what a removal changed, so the orchestrator can
// order the follow-up broadcasts and teardown.
type LeaveResult struct {
	Removed   bool
	WasHost   bool
	NewHostID domain.ParticipantID
	Empty     bool
}

// RemoveParticipant drops the participant and its producer index entries.
// If the host leaves and members remain, the earliest remaining joiner
// becomes host before the method returns, so the hostID invariant never
// observes a dangling id.
func (r *Room) RemoveParticipant(id domain.ParticipantID) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, e := range r.participants {
		if e.participant.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return LeaveResult{}
	}
	r.participants = append(r.participants[:idx], r.participants[idx+1:]...)
	delete(r.producers, id)

	res := LeaveResult{Removed: true, Empty: len(r.participants) == 0}
	if res.Empty {
		// Closing under the same lock makes "empty" terminal: no joiner
		// can slip in between this transition and the router release.
		r.closed = true
	}
	if r.hostID == id {
		res.WasHost = true
		r.hostID = ""
		if !res.Empty {
			r.hostID = r.participants[0].participant.ID
			res.NewHostID = r.hostID
		}
	}
	log.Info().Str("module", "app.room").Str("room", string(r.id)).
		Str("participant", string(id)).Bool("was_host", res.WasHost).Msg("participant removed")
	return res
}

// RegisterProducer records a producer under its owner. Returns false when
// the owner is no longer a member, which tells the caller to close the
// freshly created handle instead of leaking it.
func (r *Room) RegisterProducer(owner domain.ParticipantID, info domain.ProducerInfo) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasParticipantLocked(owner) {
		return false
	}
	r.producers[owner] = append(r.producers[owner], info)
	return true
}

// FindProducer resolves a producer id to its owner.
func (r *Room) FindProducer(id domain.ProducerID) (domain.ParticipantID, domain.ProducerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for owner, infos := range r.producers {
		for _, info := range infos {
			if info.ID == id {
				return owner, info, true
			}
		}
	}
	return "", domain.ProducerInfo{}, false
}

func (r *Room) hasParticipantLocked(id domain.ParticipantID) bool {
	for _, e := range r.participants {
		if e.participant.ID == id {
			return true
		}
	}
	return false
}

func (r *Room) HostID() domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID
}

func (r *Room) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

func (r *Room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// ParticipantIDs returns member ids in join order.
func (r *Room) ParticipantIDs() []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ParticipantID, 0, len(r.participants))
	for _, e := range r.participants {
		out = append(out, e.participant.ID)
	}
	return out
}

func (r *Room) producerSnapshotLocked() []ParticipantProducers {
	out := make([]ParticipantProducers, 0, len(r.participants))
	for _, e := range r.participants {
		infos := r.producers[e.participant.ID]
		row := ParticipantProducers{
			ParticipantID: e.participant.ID,
			Username:      e.participant.DisplayName,
			Producers:     make([]domain.ProducerInfo, len(infos)),
		}
		copy(row.Producers, infos)
		out = append(out, row)
	}
	return out
}

// SetPlayback applies a play/pause event if and only if the sender is the
// current host. A stale host's events are dropped, not errors: its client
// may legitimately still have them in flight.
func (r *Room) SetPlayback(sender domain.ParticipantID, status domain.PlaybackStatus, position float64, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sender != r.hostID {
		return false
	}
	r.playback = domain.PlaybackState{Status: status, PositionSeconds: position, RecordedAt: now}
	return true
}

func (r *Room) Playback() domain.PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playback
}

// SetMediaFlag updates the advisory camera/mic state for a member.
func (r *Room) SetMediaFlag(id domain.ParticipantID, camera bool, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.participants {
		if e.participant.ID == id {
			if camera {
				e.participant.CameraEnabled = enabled
			} else {
				e.participant.MicEnabled = enabled
			}
			return
		}
	}
}

// PublishResult reports delivery stats to the caller.
type PublishResult struct {
	SentTo  int
	Dropped []domain.ParticipantID
}

// Broadcast fans a frame out to every member except from. Per-peer send
// failures drop only that peer's frame.
func (r *Room) Broadcast(from domain.ParticipantID, data core.Frame) PublishResult {
	r.mu.Lock()
	targets := make([]*memberEntry, 0, len(r.participants))
	for _, e := range r.participants {
		if e.participant.ID != from {
			targets = append(targets, e)
		}
	}
	r.mu.Unlock()

	res := PublishResult{}
	for _, e := range targets {
		if err := e.conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, e.participant.ID)
			continue
		}
		res.SentTo++
	}
	if len(res.Dropped) > 0 {
		log.Debug().Str("module", "app.room").Str("room", string(r.id)).
			Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	}
	return res
}
