package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeckPathSeparator splits a deck name into its ancestry path.
const DeckPathSeparator = "::"

// Deck is consumed, not owned, by the scheduling core.
type Deck struct {
	ID       uuid.UUID
	Name     string
	ConfigID uuid.UUID
	// Filtered decks carry inline parameters instead of a config group.
	Filtered       bool
	SearchTerms    []SearchTerm
	Resched        bool
	PreviewDelay   time.Duration
	CollapsedToday bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SearchTerm is one (search, limit, order) tuple of a filtered deck. Only
// the first term is currently honored when rebuilding.
type SearchTerm struct {
	Search string
	Limit  int
	Order  FilteredOrder
}

// FilteredOrder selects how a filtered deck sorts the cards it gathers.
type FilteredOrder string

const (
	FilteredOrderOldestSeen FilteredOrder = "OLDEST_SEEN"
	FilteredOrderRandom     FilteredOrder = "RANDOM"
	FilteredOrderAdded      FilteredOrder = "ADDED"
	FilteredOrderDue        FilteredOrder = "DUE"
)

// PathParts returns the ancestry components of the deck name, e.g.
// "Default::foo::bar" -> ["Default", "foo", "bar"].
func (d *Deck) PathParts() []string {
	return strings.Split(d.Name, DeckPathSeparator)
}

// IsParentOf reports whether d is a strict ancestor of other by name.
func (d *Deck) IsParentOf(other *Deck) bool {
	return strings.HasPrefix(other.Name, d.Name+DeckPathSeparator)
}

// DeckConfig is a per-deck configuration group: limits and formula
// parameters for each of the three card classes.
type DeckConfig struct {
	ID     uuid.UUID
	Name   string
	New    NewConfig
	Lapse  LapseConfig
	Review ReviewConfig
}

// NewConfig governs new cards and the initial learning episode.
type NewConfig struct {
	// Steps are the intraday learning delays, in order.
	Steps []time.Duration
	// GraduatingIntervalDays is granted when the last step is passed.
	GraduatingIntervalDays int
	// EasyIntervalDays is granted on an Easy answer from learning.
	EasyIntervalDays int
	// InitialFactor is the ease factor in permille given at graduation.
	InitialFactor int
	PerDay        int
	Order         NewCardOrder
	// Bury hides siblings of an answered new card for the rest of the day.
	Bury bool
}

// LapseConfig governs failed review cards.
type LapseConfig struct {
	// Steps are the relearning delays; empty means lapsed cards stay in
	// the review queue.
	Steps []time.Duration
	// Mult scales the pre-lapse interval (0 resets it).
	Mult float64
	// MinIntervalDays floors the post-lapse interval.
	MinIntervalDays int
	LeechThreshold  int
	LeechAction     LeechAction
}

// ReviewConfig governs cards in the steady review state.
type ReviewConfig struct {
	PerDay int
	// Ease4Bonus is the extra multiplier on an Easy answer.
	Ease4Bonus float64
	// Fuzz is the base fraction of the interval used for randomization.
	Fuzz float64
	// IntervalMultiplier scales every computed review interval.
	IntervalMultiplier float64
	MaxIntervalDays    int
	// HardFactor multiplies the previous interval on a Hard answer.
	// Values <= 1 mean Hard never grows the interval.
	HardFactor float64
	// Bury hides review siblings of an answered card for the day.
	Bury bool
}

// DefaultDeckConfig mirrors the stock configuration group.
func DefaultDeckConfig() DeckConfig {
	return DeckConfig{
		Name: "Default",
		New: NewConfig{
			Steps:                  []time.Duration{time.Minute, 10 * time.Minute},
			GraduatingIntervalDays: 1,
			EasyIntervalDays:       4,
			InitialFactor:          StartingFactor,
			PerDay:                 20,
			Order:                  NewCardOrderDue,
		},
		Lapse: LapseConfig{
			Steps:           []time.Duration{10 * time.Minute},
			Mult:            0,
			MinIntervalDays: 1,
			LeechThreshold:  8,
			LeechAction:     LeechActionSuspend,
		},
		Review: ReviewConfig{
			PerDay:             200,
			Ease4Bonus:         1.3,
			Fuzz:               0.05,
			IntervalMultiplier: 1,
			MaxIntervalDays:    36500,
			HardFactor:         1.2,
		},
	}
}

// StartingFactor is the default ease factor in permille.
const StartingFactor = 2500

// MinFactor is the floor the ease factor never drops below.
const MinFactor = 1300

// DeckUsage records how much of a deck's daily quota was consumed on one
// day. Stale rows (Day != today) count as zero usage.
type DeckUsage struct {
	Day    int
	New    int
	Review int
}

// DeckCounts are the three displayable counts for one deck.
type DeckCounts struct {
	New      int
	Learning int
	Review   int
}

func (c DeckCounts) Total() int { return c.New + c.Learning + c.Review }

// DeckDue pairs the ancestor-capped counts with the deck's own uncapped
// ones. Due aggregates the subtree; SingleDue is this deck alone.
type DeckDue struct {
	Due       DeckCounts
	SingleDue DeckCounts
}
