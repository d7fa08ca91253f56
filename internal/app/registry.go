package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/core"
	"github.com/artemkas/watchparty/internal/domain"
)

// RoomRegistry is the process-wide room id -> Room mapping. Creation is
// atomic with respect to lookup: the write lock is held across the
// check-then-act, so two concurrent joins for the same id always converge
// on one Room and one router.
type RoomRegistry struct {
	engine core.MediaEngine

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRoomRegistry(engine core.MediaEngine) *RoomRegistry {
	return &RoomRegistry{
		engine: engine,
		rooms:  make(map[domain.RoomID]*Room),
	}
}

// GetOrCreate is idempotent. For an existing room the stored content ref
// is authoritative and the supplied one is ignored. Router allocation
// failure surfaces as ErrEngineUnavailable and leaves no partial room
// behind.
func (f *RoomRegistry) GetOrCreate(ctx context.Context, id domain.RoomID, contentRef domain.ContentRef) (*Room, error) {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok && !room.isClosed() {
		return room, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[id]; ok && !room.isClosed() {
		return room, nil
	}
	// Either absent, or present but emptied and awaiting teardown. A
	// closed room is replaced here; its late Remove is identity-checked
	// and will not touch the replacement.
	router, err := f.engine.CreateRouter(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("room", string(id)).Msg("router allocation failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
	}
	room = NewRoom(id, contentRef, router)
	f.rooms[id] = room
	log.Info().Str("module", "app.registry").Str("room", string(id)).
		Str("router", router.ID()).Msg("room created")
	return room, nil
}

func (f *RoomRegistry) Get(id domain.RoomID) (*Room, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

// Remove deletes the given room only when it is empty and still the one
// registered under its id. Removing twice, removing a room that picked up
// a member, or removing a closed room already replaced by a fresh one for
// the same id, are all no-ops.
func (f *RoomRegistry) Remove(room *Room) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := room.ID()
	if current, ok := f.rooms[id]; !ok || current != room || room.Count() != 0 {
		return false
	}
	delete(f.rooms, id)
	log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("room removed")
	return true
}

type RoomInfo struct {
	ID         domain.RoomID     `json:"roomId"`
	ContentRef domain.ContentRef `json:"contentRef"`
	Members    int               `json:"memberCount"`
}

func (f *RoomRegistry) List() []RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, RoomInfo{ID: id, ContentRef: r.ContentRef(), Members: r.Count()})
	}
	return out
}
