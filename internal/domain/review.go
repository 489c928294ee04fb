package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReviewLog records a single answer. Append-only; rows are removed only when
// the answer they record is undone.
//
// Interval fields use the revlog convention: positive values are days,
// negative values are seconds (intraday learning steps).
type ReviewLog struct {
	ID     uuid.UUID
	CardID uuid.UUID
	Ease   Ease
	// Interval is the interval granted by this answer.
	Interval int
	// LastInterval is the interval before this answer.
	LastInterval int
	// Factor is the ease factor after this answer, permille.
	Factor      int
	TimeTakenMs int
	Kind        ReviewKind
	// PrevState is the pre-answer snapshot used by undo.
	PrevState  *CardSnapshot
	ReviewedAt time.Time
}

// StudiedToday aggregates today's revlog rows for display.
type StudiedToday struct {
	Cards       int
	TimeTakenMs int64
}
