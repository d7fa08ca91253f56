package domain

import "errors"

// Operation errors returned to clients through the signaling ack channel.
// The signal adapter maps these to `{error: reason}` payloads; none of them
// ever terminates a connection.
var (
	ErrRoomNotFound             = errors.New("room not found")
	ErrRoomAlreadyExists        = errors.New("room already exists")
	ErrEngineUnavailable        = errors.New("media engine unavailable")
	ErrTransportNotFound        = errors.New("transport not found")
	ErrTransportAlreadyExists   = errors.New("transport already exists")
	ErrProducerNotFound         = errors.New("producer not found")
	ErrConsumerNotFound         = errors.New("consumer not found")
	ErrIncompatibleCapabilities = errors.New("incompatible rtp capabilities")
	ErrNotAuthorized            = errors.New("not authorized")
)
