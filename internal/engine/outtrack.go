package engine

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

type trackState int32

const (
	trackStatePaused trackState = iota // consumers start paused
	trackStateOk
	trackStateDelete
)

// outTrack is a single outgoing track to one consumer, with an atomic
// state so the relay loop never blocks on subscriber bookkeeping.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32 // zero value is trackStatePaused
}

func newOutTrack(track *webrtc.TrackLocalStaticRTP) *outTrack {
	return &outTrack{track: track}
}

func (ot *outTrack) getState() trackState {
	return trackState(ot.state.Load())
}

func (ot *outTrack) markOk() {
	ot.state.Store(int32(trackStateOk))
}

func (ot *outTrack) markDelete() {
	ot.state.Store(int32(trackStateDelete))
}
