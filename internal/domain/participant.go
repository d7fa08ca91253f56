// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

// ParticipantID is a connection identity, not a user identity. A user
// opening two tabs is two participants.
type ParticipantID string

type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"username"`
	JoinedAt    time.Time     `json:"-"`

	// Client-reported, advisory only. The server relays toggle events but
	// never enforces these against actual media flow.
	CameraEnabled bool `json:"cameraEnabled"`
	MicEnabled    bool `json:"micEnabled"`
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(displayName string) (*Participant, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Participant{
		ID:          ParticipantID(uuid.NewString()),
		DisplayName: displayName,
		JoinedAt:    time.Now(),
	}, nil
}
