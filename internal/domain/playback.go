package domain

import "time"

type PlaybackStatus string

const (
	PlaybackPlaying PlaybackStatus = "playing"
	PlaybackPaused  PlaybackStatus = "paused"
)

// PlaybackState records the shared timeline at one instant. The server
// never ticks it forward; the current position is reconstructed from
// RecordedAt on demand.
type PlaybackState struct {
	Status          PlaybackStatus
	PositionSeconds float64
	RecordedAt      time.Time
}

// PositionAt reconstructs the playhead for a given wall-clock instant.
// While playing, the position advances linearly from the last recorded
// event; while paused it stays put. Late joiners get a monotonic timeline
// without any server-side ticker.
func (s PlaybackState) PositionAt(now time.Time) float64 {
	if s.Status != PlaybackPlaying || s.RecordedAt.IsZero() {
		return s.PositionSeconds
	}
	return s.PositionSeconds + now.Sub(s.RecordedAt).Seconds()
}
