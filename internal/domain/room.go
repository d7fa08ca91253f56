package domain

import "errors"

type (
	RoomID string

	// ContentRef is an opaque reference to the shared content (a video
	// URL or catalog id). Set at room creation, immutable afterwards.
	ContentRef string
)

const MaxRoomIDLen = 64

var (
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
)

func ValidateRoomID(id RoomID) error {
	if len(id) == 0 {
		return ErrRoomIDEmpty
	}
	if len(id) > MaxRoomIDLen {
		return ErrRoomIDTooLong
	}
	return nil
}

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

var ErrInvalidMediaKind = errors.New("invalid media kind")

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case MediaAudio, MediaVideo:
		return MediaKind(s), nil
	}
	return "", ErrInvalidMediaKind
}

type ProducerID string

// ProducerInfo is what a room remembers about a participant's producer:
// enough for late joiners to start consuming it.
type ProducerInfo struct {
	ID   ProducerID `json:"producerId"`
	Kind MediaKind  `json:"kind"`
}
