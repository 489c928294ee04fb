package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepsLeft tracks progress through a learn/relearn episode. It replaces the
// packed two-in-one counter the revlog format historically used.
type StepsLeft struct {
	// Remaining is the number of steps left until graduation.
	Remaining int
	// Today is how many of those steps can still happen before the day
	// cutoff.
	Today int
}

func (s StepsLeft) IsZero() bool { return s.Remaining == 0 && s.Today == 0 }

// Card is the unit of study.
type Card struct {
	ID     uuid.UUID
	NoteID uuid.UUID
	// DeckID is the deck the card currently lives in; while the card is
	// temporarily homed in a filtered deck this is the filtered deck.
	DeckID uuid.UUID
	// HomeDeckID is the original deck while filtered, uuid.Nil otherwise.
	HomeDeckID uuid.UUID
	Queue      Queue
	Type       CardType
	Due        DueValue
	// HomeDue is the due value to restore when a filtered-deck stay ends.
	HomeDue    DueValue
	HasHomeDue bool
	// FilteredPos is the card's gather slot within its filtered deck; it
	// orders the stay and is meaningless outside one.
	FilteredPos  int
	IntervalDays int
	// Factor is the ease factor in permille (2500 = 250%).
	Factor int
	Reps   int
	Lapses int
	Left   StepsLeft
	// Position is the card's slot in the new-card ordering. Mirrors
	// Due.Pos while the card is new; kept so review cards can be forgotten
	// back into a stable order.
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InFilteredDeck reports whether the card is currently homed in a filtered
// deck.
func (c *Card) InFilteredDeck() bool { return c.HomeDeckID != uuid.Nil }

// CurrentDeckID returns the deck whose configuration governs this card's
// formulas: the home deck while filtered, otherwise the deck it lives in.
func (c *Card) CurrentDeckID() uuid.UUID {
	if c.InFilteredDeck() {
		return c.HomeDeckID
	}
	return c.DeckID
}

// Snapshot captures the full scheduling tuple for undo.
func (c *Card) Snapshot() CardSnapshot {
	return CardSnapshot{
		DeckID:       c.DeckID,
		HomeDeckID:   c.HomeDeckID,
		Queue:        c.Queue,
		Type:         c.Type,
		Due:          c.Due,
		HomeDue:      c.HomeDue,
		HasHomeDue:   c.HasHomeDue,
		FilteredPos:  c.FilteredPos,
		IntervalDays: c.IntervalDays,
		Factor:       c.Factor,
		Reps:         c.Reps,
		Lapses:       c.Lapses,
		Left:         c.Left,
		Position:     c.Position,
	}
}

// Restore overwrites the scheduling tuple from a snapshot. Identity fields
// are untouched.
func (c *Card) Restore(s CardSnapshot) {
	c.DeckID = s.DeckID
	c.HomeDeckID = s.HomeDeckID
	c.Queue = s.Queue
	c.Type = s.Type
	c.Due = s.Due
	c.HomeDue = s.HomeDue
	c.HasHomeDue = s.HasHomeDue
	c.FilteredPos = s.FilteredPos
	c.IntervalDays = s.IntervalDays
	c.Factor = s.Factor
	c.Reps = s.Reps
	c.Lapses = s.Lapses
	c.Left = s.Left
	c.Position = s.Position
}

// CardSnapshot is the pre-answer scheduling state stored on each revlog row.
type CardSnapshot struct {
	DeckID       uuid.UUID
	HomeDeckID   uuid.UUID
	Queue        Queue
	Type         CardType
	Due          DueValue
	HomeDue      DueValue
	HasHomeDue   bool
	FilteredPos  int
	IntervalDays int
	Factor       int
	Reps         int
	Lapses       int
	Left         StepsLeft
	Position     int
}
