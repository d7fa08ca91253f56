package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/artemkas/watchparty/internal/core"
	"github.com/artemkas/watchparty/internal/domain"
)

var idSeq atomic.Int64

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idSeq.Add(1))
}

// fakeConn records every frame broadcast to it.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("unreachable peer")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

// eventTypes returns the "type" field of every received frame, in order.
func (c *fakeConn) eventTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(f, &env); err == nil {
			out = append(out, env.Type)
		}
	}
	return out
}

func (c *fakeConn) lastEvent() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(c.frames[len(c.frames)-1], &m)
	return m
}

type fakeEngine struct {
	failRouter bool

	mu      sync.Mutex
	routers []*fakeRouter
}

func (e *fakeEngine) RtpCapabilities() core.RtpCapabilities {
	return core.RtpCapabilities(`{"codecs":["opus","vp8"]}`)
}

func (e *fakeEngine) CreateRouter(context.Context) (core.Router, error) {
	if e.failRouter {
		return nil, errors.New("worker down")
	}
	r := &fakeRouter{
		id:        nextID("router"),
		producers: make(map[domain.ProducerID]domain.MediaKind),
	}
	e.mu.Lock()
	e.routers = append(e.routers, r)
	e.mu.Unlock()
	return r, nil
}

func (e *fakeEngine) Close() {}

func (e *fakeEngine) routerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.routers)
}

type fakeRouter struct {
	id           string
	incompatible bool

	mu        sync.Mutex
	producers map[domain.ProducerID]domain.MediaKind
	closed    bool
}

func (r *fakeRouter) ID() string { return r.id }

func (r *fakeRouter) CreateTransport(_ context.Context, dir core.TransportDirection) (core.Transport, error) {
	return &fakeTransport{
		id:  core.TransportID(nextID("transport")),
		dir: dir,
		rtr: r,
	}, nil
}

func (r *fakeRouter) CanConsume(id domain.ProducerID, caps core.RtpCapabilities) bool {
	if r.incompatible || len(caps) == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.producers[id]
	return ok
}

func (r *fakeRouter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *fakeRouter) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type fakeTransport struct {
	id        core.TransportID
	dir       core.TransportDirection
	rtr       *fakeRouter
	connected bool
	closed    bool
}

func (t *fakeTransport) ID() core.TransportID               { return t.id }
func (t *fakeTransport) Direction() core.TransportDirection { return t.dir }

func (t *fakeTransport) Params() core.TransportParams {
	return core.TransportParams{ID: t.id, Direction: string(t.dir)}
}

func (t *fakeTransport) Connect(context.Context, core.DtlsParameters) error {
	t.connected = true
	return nil
}

func (t *fakeTransport) Produce(_ context.Context, kind domain.MediaKind, _ core.RtpParameters) (core.Producer, error) {
	p := &fakeProducer{
		id:   domain.ProducerID(nextID("producer")),
		kind: kind,
		rtr:  t.rtr,
	}
	t.rtr.mu.Lock()
	t.rtr.producers[p.id] = kind
	t.rtr.mu.Unlock()
	return p, nil
}

func (t *fakeTransport) Consume(_ context.Context, id domain.ProducerID, _ core.RtpCapabilities) (core.Consumer, error) {
	t.rtr.mu.Lock()
	kind, ok := t.rtr.producers[id]
	t.rtr.mu.Unlock()
	if !ok {
		return nil, domain.ErrProducerNotFound
	}
	return &fakeConsumer{
		id:         core.ConsumerID(nextID("consumer")),
		producerID: id,
		kind:       kind,
	}, nil
}

func (t *fakeTransport) Close() { t.closed = true }

type fakeProducer struct {
	id   domain.ProducerID
	kind domain.MediaKind
	rtr  *fakeRouter

	closeCount atomic.Int32
}

func (p *fakeProducer) ID() domain.ProducerID  { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }

func (p *fakeProducer) Close() {
	if p.closeCount.Add(1) == 1 {
		p.rtr.mu.Lock()
		delete(p.rtr.producers, p.id)
		p.rtr.mu.Unlock()
	}
}

type fakeConsumer struct {
	id         core.ConsumerID
	producerID domain.ProducerID
	kind       domain.MediaKind

	resumed atomic.Bool
	closed  atomic.Bool
}

func (c *fakeConsumer) ID() core.ConsumerID           { return c.id }
func (c *fakeConsumer) ProducerID() domain.ProducerID { return c.producerID }
func (c *fakeConsumer) Kind() domain.MediaKind        { return c.kind }

func (c *fakeConsumer) Params() core.ConsumerParams {
	return core.ConsumerParams{
		ID:            c.id,
		ProducerID:    c.producerID,
		Kind:          c.kind,
		RtpParameters: core.RtpParameters(`{}`),
	}
}

func (c *fakeConsumer) Resume() error {
	c.resumed.Store(true)
	return nil
}

func (c *fakeConsumer) Close() { c.closed.Store(true) }

// newTestOrchestrator wires an orchestrator against the fake engine and
// binds one session per given participant id.
func newTestOrchestrator(ids ...domain.ParticipantID) (*Orchestrator, *fakeEngine, map[domain.ParticipantID]*fakeConn) {
	eng := &fakeEngine{}
	o := NewOrchestrator(eng)
	conns := make(map[domain.ParticipantID]*fakeConn, len(ids))
	for _, id := range ids {
		conn := &fakeConn{}
		conns[id] = conn
		o.Sessions.Bind(NewSession(id, conn))
	}
	return o, eng, conns
}
