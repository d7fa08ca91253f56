package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/core"
	"github.com/artemkas/watchparty/internal/domain"
)

// Session is the per-connection state: the participant identity, the
// signaling endpoint and every engine handle this connection owns. Handles
// are never shared across sessions; Teardown closes all of them exactly
// once. After teardown, attempts to register in-flight engine results fail
// so the caller can close the orphaned handle instead.
type Session struct {
	id   domain.ParticipantID
	conn core.SignalConnection

	mu            sync.Mutex
	participant   *domain.Participant
	roomID        domain.RoomID
	sendTransport core.Transport
	recvTransport core.Transport
	producers     map[domain.ProducerID]core.Producer
	consumers     map[core.ConsumerID]core.Consumer
	closed        bool

	teardown sync.Once
}

func NewSession(id domain.ParticipantID, conn core.SignalConnection) *Session {
	return &Session{
		id:        id,
		conn:      conn,
		producers: make(map[domain.ProducerID]core.Producer),
		consumers: make(map[core.ConsumerID]core.Consumer),
	}
}

func (s *Session) ID() domain.ParticipantID    { return s.id }
func (s *Session) Conn() core.SignalConnection { return s.conn }

func (s *Session) SetParticipant(p *domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participant = p
}

func (s *Session) Participant() *domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participant
}

func (s *Session) SetRoom(id domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = id
}

func (s *Session) RoomID() (domain.RoomID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID, s.roomID != ""
}

func (s *Session) ClearRoom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = ""
}

// SetTransport fills the send or recv slot. A slot still holding an open
// transport is not overwritten; the client must close the old one first.
func (s *Session) SetTransport(dir core.TransportDirection, t core.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrTransportNotFound
	}
	switch dir {
	case core.DirectionSend:
		if s.sendTransport != nil {
			return domain.ErrTransportAlreadyExists
		}
		s.sendTransport = t
	case core.DirectionRecv:
		if s.recvTransport != nil {
			return domain.ErrTransportAlreadyExists
		}
		s.recvTransport = t
	}
	return nil
}

func (s *Session) HasTransport(dir core.TransportDirection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir == core.DirectionSend {
		return s.sendTransport != nil
	}
	return s.recvTransport != nil
}

// TransportByID resolves a transport among this session's own slots only.
// A session can never reach another session's transport through here.
func (s *Session) TransportByID(id core.TransportID) (core.Transport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendTransport != nil && s.sendTransport.ID() == id {
		return s.sendTransport, true
	}
	if s.recvTransport != nil && s.recvTransport.ID() == id {
		return s.recvTransport, true
	}
	return nil, false
}

func (s *Session) RecvTransport() (core.Transport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvTransport, s.recvTransport != nil
}

// AddProducer registers a producer handle. Returns false when the session
// was torn down while the engine call was in flight.
func (s *Session) AddProducer(p core.Producer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.producers[p.ID()] = p
	return true
}

func (s *Session) RemoveProducer(id domain.ProducerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.producers, id)
}

// TakeProducers removes and returns all producer handles; the caller is
// responsible for closing them. Used on leave so that room-side and
// session-side teardown converge on one close per handle.
func (s *Session) TakeProducers() []core.Producer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Producer, 0, len(s.producers))
	for _, p := range s.producers {
		out = append(out, p)
	}
	s.producers = make(map[domain.ProducerID]core.Producer)
	return out
}

func (s *Session) AddConsumer(c core.Consumer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.consumers[c.ID()] = c
	return true
}

func (s *Session) ConsumerByID(id core.ConsumerID) (core.Consumer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consumers[id]
	return c, ok
}

// TakeConsumersOf removes and returns this session's consumers of the
// given producer, for the producer-close cascade.
func (s *Session) TakeConsumersOf(id domain.ProducerID) []core.Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Consumer, 0, 1)
	for cid, c := range s.consumers {
		if c.ProducerID() == id {
			out = append(out, c)
			delete(s.consumers, cid)
		}
	}
	return out
}

// ReleaseMedia closes and clears every media handle this session holds:
// consumers, any producers not already taken, and both transports. Unlike
// Teardown the session stays usable afterwards, so a connection that moves
// to another room starts with free transport slots against the new room's
// router.
func (s *Session) ReleaseMedia() {
	s.mu.Lock()
	consumers := s.consumers
	producers := s.producers
	send, recv := s.sendTransport, s.recvTransport
	s.consumers = make(map[core.ConsumerID]core.Consumer)
	s.producers = make(map[domain.ProducerID]core.Producer)
	s.sendTransport, s.recvTransport = nil, nil
	s.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, p := range producers {
		p.Close()
	}
	if send != nil {
		send.Close()
	}
	if recv != nil {
		recv.Close()
	}
}

// Teardown closes everything this session owns: consumers, producers and
// both transports, in that order. Safe to call from both the leave path
// and the disconnect path; only the first call does work.
func (s *Session) Teardown() {
	s.teardown.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.ReleaseMedia()
		log.Info().Str("module", "app.session").Str("sid", string(s.id)).Msg("session torn down")
	})
}

// SessionRegistry maps connection identity to live sessions.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[domain.ParticipantID]*Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[domain.ParticipantID]*Session)}
}

func (r *SessionRegistry) Bind(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
	log.Info().Str("module", "app.sessions").Str("sid", string(s.ID())).Msg("session bound")
}

func (r *SessionRegistry) Get(id domain.ParticipantID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *SessionRegistry) Unbind(id domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	log.Info().Str("module", "app.sessions").Str("sid", string(id)).Msg("session unbound")
}
