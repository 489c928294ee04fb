package domain

import (
	"fmt"
	"time"
)

// DueKind discriminates the three meanings a card's due value can carry.
type DueKind int

const (
	// DueDay: day index relative to the collection epoch. Review and
	// day-learning cards.
	DueDay DueKind = iota
	// DueStamp: absolute wall-clock moment. Intraday learning and preview
	// cards.
	DueStamp
	// DuePosition: ordering slot in the new-card queue.
	DuePosition
)

// DueValue is the due field as a tagged union instead of one overloaded
// integer. The kind must match the card's queue; repositories store it as a
// (kind, int64) pair.
type DueValue struct {
	Kind DueKind
	Day  int       // DueDay
	At   time.Time // DueStamp
	Pos  int       // DuePosition
}

func DueOnDay(day int) DueValue      { return DueValue{Kind: DueDay, Day: day} }
func DueAt(at time.Time) DueValue    { return DueValue{Kind: DueStamp, At: at.UTC()} }
func DueAtPosition(pos int) DueValue { return DueValue{Kind: DuePosition, Pos: pos} }

// Raw flattens the union back into the single integer the storage layer and
// the revlog keep: day number, epoch seconds, or position.
func (d DueValue) Raw() int64 {
	switch d.Kind {
	case DueStamp:
		return d.At.Unix()
	case DuePosition:
		return int64(d.Pos)
	default:
		return int64(d.Day)
	}
}

// DueFromRaw interprets a stored integer according to the queue the card is
// in, the reverse of Raw.
func DueFromRaw(raw int64, queue Queue, typ CardType) DueValue {
	switch queue {
	case QueueLearning, QueuePreview:
		return DueValue{Kind: DueStamp, At: time.Unix(raw, 0).UTC()}
	case QueueNew:
		return DueValue{Kind: DuePosition, Pos: int(raw)}
	case QueueSuspended, QueueSchedBuried, QueueUserBuried:
		// buried/suspended cards keep whatever meaning their type implies
		switch typ {
		case CardTypeNew:
			return DueValue{Kind: DuePosition, Pos: int(raw)}
		case CardTypeLearning, CardTypeRelearning:
			if raw > 1_000_000 { // a timestamp, not a day number
				return DueValue{Kind: DueStamp, At: time.Unix(raw, 0).UTC()}
			}
			return DueValue{Kind: DueDay, Day: int(raw)}
		default:
			return DueValue{Kind: DueDay, Day: int(raw)}
		}
	default:
		return DueValue{Kind: DueDay, Day: int(raw)}
	}
}

func (d DueValue) String() string {
	switch d.Kind {
	case DueStamp:
		return fmt.Sprintf("at %s", d.At.Format(time.RFC3339))
	case DuePosition:
		return fmt.Sprintf("pos %d", d.Pos)
	default:
		return fmt.Sprintf("day %d", d.Day)
	}
}
