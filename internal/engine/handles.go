package engine

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/artemkas/watchparty/internal/core"
	"github.com/artemkas/watchparty/internal/domain"
)

// producer is the handle the orchestration layer owns for one inbound
// track. Closing it stops the relay and unhooks it from the router;
// every consumer of it stops receiving on the relay's next packet.
type producer struct {
	rel *relay
	rtr *router

	once sync.Once
}

func (p *producer) ID() domain.ProducerID  { return p.rel.id }
func (p *producer) Kind() domain.MediaKind { return p.rel.kind }

func (p *producer) Close() {
	p.once.Do(func() {
		p.rel.close()
		p.rtr.dropRelay(p.rel.id)
		log.Info().Str("module", "engine").Str("producer", string(p.rel.id)).Msg("producer closed")
	})
}

type consumer struct {
	id     core.ConsumerID
	rel    *relay
	out    *outTrack
	sender *webrtc.RTPSender
	t      *transport
	params core.RtpParameters

	once sync.Once
}

func (c *consumer) ID() core.ConsumerID           { return c.id }
func (c *consumer) ProducerID() domain.ProducerID { return c.rel.id }
func (c *consumer) Kind() domain.MediaKind        { return c.rel.kind }

func (c *consumer) Params() core.ConsumerParams {
	return core.ConsumerParams{
		ID:            c.id,
		ProducerID:    c.rel.id,
		Kind:          c.rel.kind,
		RtpParameters: c.params,
	}
}

// Resume unpauses forwarding. The client calls this once its playback
// element is wired up, so the first frames it receives are ones it can
// render.
func (c *consumer) Resume() error {
	c.out.markOk()
	return nil
}

func (c *consumer) Close() {
	c.once.Do(func() {
		c.rel.dropOut(c.id)
		if err := c.t.pc.RemoveTrack(c.sender); err != nil {
			log.Debug().Err(err).Str("module", "engine").
				Str("consumer", string(c.id)).Msg("remove track on close")
		}
	})
}
