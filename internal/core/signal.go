package core

// Frame is a raw outbound payload (marshaled signaling JSON).
type Frame []byte

// SignalConnection abstracts the control-message transport for one
// participant. Owned by the adapter; the adapter must Close() it.
// TrySend never blocks: a full send buffer is reported as an error and
// the frame is dropped for that peer only.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
