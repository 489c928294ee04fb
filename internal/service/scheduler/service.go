// Package scheduler implements the spaced-repetition scheduling core: the
// per-card state machine, the due queues with hierarchical daily limits, the
// filtered-deck overlay, and snapshot undo.
//
// The package follows a single-writer model: one Service per open
// collection, no internal parallelism. Reset must run after any mutation
// that changes card eligibility before the next GetCard/Counts is trusted.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

// ---------------------------------------------------------------------------
// Consumer-defined interfaces (private)
// ---------------------------------------------------------------------------

type cardStore interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Card, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]domain.Card, error)
	Save(ctx context.Context, card *domain.Card) error
	SaveAll(ctx context.Context, cards []*domain.Card) error
	// DueLearning returns intraday learning and preview cards with a due
	// timestamp before the given cutoff, soonest first.
	DueLearning(ctx context.Context, deckIDs []uuid.UUID, before time.Time, limit int) ([]domain.Card, error)
	// DueDayLearning returns day-learning cards due on or before day.
	DueDayLearning(ctx context.Context, deckIDs []uuid.UUID, day int, limit int) ([]domain.Card, error)
	// DueReviews returns review cards due on or before day, plus review
	// cards resident in a filtered deck regardless of due; filtered
	// residents first by their gather position, then by due.
	DueReviews(ctx context.Context, deckIDs []uuid.UUID, day int, limit int) ([]domain.Card, error)
	// NewByDeck returns new cards of one deck ordered by gather position
	// then position.
	NewByDeck(ctx context.Context, deckID uuid.UUID, limit int) ([]domain.Card, error)
	CountNewByDeck(ctx context.Context, deckID uuid.UUID, cap int) (int, error)
	CountDueReviews(ctx context.Context, deckIDs []uuid.UUID, day int) (int, error)
	CountDueReviewsByDeck(ctx context.Context, deckID uuid.UUID, day int, cap int) (int, error)
	CountDueLearning(ctx context.Context, deckIDs []uuid.UUID, before time.Time, day int) (int, error)
	CountLearningByDeck(ctx context.Context, deckID uuid.UUID, before time.Time, day int) (int, error)
	// Siblings returns the other cards of a note.
	Siblings(ctx context.Context, noteID, exceptCardID uuid.UUID) ([]domain.Card, error)
	// ByQueue returns cards of the given decks sitting in any of the
	// queues.
	ByQueue(ctx context.Context, deckIDs []uuid.UUID, queues []domain.Queue) ([]domain.Card, error)
	// InDeck returns all cards living in the deck (filtered residents).
	InDeck(ctx context.Context, deckID uuid.UUID) ([]domain.Card, error)
	MaxPosition(ctx context.Context) (int, error)
	// ShiftPositions makes room for inserted new-card positions: every
	// card with Position >= start (not in except) moves up by amount.
	ShiftPositions(ctx context.Context, start, amount int, except []uuid.UUID) error
}

type revlogStore interface {
	Append(ctx context.Context, entry *domain.ReviewLog) error
	DeleteByID(ctx context.Context, id uuid.UUID) error
	LastForCard(ctx context.Context, cardID uuid.UUID) (domain.ReviewLog, error)
	StudiedToday(ctx context.Context, since time.Time) (domain.StudiedToday, error)
}

type deckRegistry interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Deck, error)
	All(ctx context.Context) ([]domain.Deck, error)
	Config(ctx context.Context, deckID uuid.UUID) (domain.DeckConfig, error)
	Ancestors(ctx context.Context, id uuid.UUID) ([]domain.Deck, error)
	Descendants(ctx context.Context, id uuid.UUID) ([]domain.Deck, error)
	UsageToday(ctx context.Context, deckID uuid.UUID, day int) (domain.DeckUsage, error)
	BumpUsage(ctx context.Context, deckID uuid.UUID, day int, newDelta, reviewDelta int) error
}

type cardFinder interface {
	// FindCardIDs evaluates a search expression and returns matching card
	// ids in the requested order.
	FindCardIDs(ctx context.Context, search string, order domain.FilteredOrder, limit int) ([]uuid.UUID, error)
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// LeechHook is invoked when a card trips the leech threshold. It runs after
// the leech action has been applied.
type LeechHook func(card domain.Card)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// NewSpread controls how new cards mix with reviews during a session.
type NewSpread int

const (
	NewSpreadDistribute NewSpread = iota
	NewSpreadLast
	NewSpreadFirst
)

// Config holds collection-level scheduler settings.
type Config struct {
	// CreatedAt is the collection epoch; day numbers count from it.
	CreatedAt time.Time
	// RolloverHour is the local hour at which "today" ends (0..23).
	RolloverHour int
	// CollapseWindow is how far ahead a learning card may be shown once
	// nothing else is due.
	CollapseWindow time.Duration
	NewSpread      NewSpread
	// QueueBatch caps how many cards each working queue holds per fill.
	QueueBatch int
	Version    domain.SchedulerVersion
}

// DefaultConfig returns the stock collection settings.
func DefaultConfig(createdAt time.Time) Config {
	return Config{
		CreatedAt:      createdAt,
		RolloverHour:   4,
		CollapseWindow: 20 * time.Minute,
		NewSpread:      NewSpreadDistribute,
		QueueBatch:     50,
		Version:        domain.SchedulerV2,
	}
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service is the scheduling core for one open collection.
type Service struct {
	cards   cardStore
	revlogs revlogStore
	decks   deckRegistry
	finder  cardFinder
	tx      txManager
	log     *slog.Logger

	cfg  Config
	now  func() time.Time
	fuzz FuzzPick

	leechHooks []LeechHook

	// queue state, valid between Reset and the next invalidating mutation
	clock      Clock
	activeDeck uuid.UUID
	active     []domain.Deck // pre-order: ancestors before descendants
	haveQueues bool

	newCount int
	lrnCount int
	revCount int

	lrnQueue    []domain.Card // intraday + preview, due-sorted
	lrnDayQueue []domain.Card
	revQueue    []domain.Card
	newQueue    []domain.Card
	newDeckIdx  int // index into active for per-deck new fills

	repsToday      int
	newCardModulus int
	// lastUnburied is the last day burials were lifted; -1 until the
	// first Reset of this process.
	lastUnburied int
}

// FuzzPick selects an interval from an inclusive range. The default draws
// uniformly; tests inject the midpoint for determinism.
type FuzzPick func(lo, hi int) int

func randomFuzz(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.Intn(hi-lo+1)
}

// Option customizes a Service.
type Option func(*Service)

// WithNow injects the time source.
func WithNow(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithFuzz injects the fuzz range selector.
func WithFuzz(pick FuzzPick) Option { return func(s *Service) { s.fuzz = pick } }

// NewService creates the scheduling core for one collection.
func NewService(
	log *slog.Logger,
	cards cardStore,
	revlogs revlogStore,
	decks deckRegistry,
	finder cardFinder,
	tx txManager,
	cfg Config,
	opts ...Option,
) (*Service, error) {
	if !cfg.Version.IsValid() {
		return nil, fmt.Errorf("scheduler version %d: %w", cfg.Version, domain.ErrValidation)
	}
	if cfg.RolloverHour < 0 || cfg.RolloverHour > 23 {
		return nil, domain.NewValidationError("rollover_hour", "must be between 0 and 23")
	}
	if cfg.QueueBatch <= 0 {
		cfg.QueueBatch = 50
	}

	s := &Service{
		lastUnburied: -1,

		cards:   cards,
		revlogs: revlogs,
		decks:   decks,
		finder:  finder,
		tx:      tx,
		log:     log.With("service", "scheduler"),
		cfg:     cfg,
		now:     time.Now,
		fuzz:    randomFuzz,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddLeechHook registers a callback for leech events.
func (s *Service) AddLeechHook(hook LeechHook) {
	s.leechHooks = append(s.leechHooks, hook)
}

// Version returns the queue semantics the collection was opened with.
func (s *Service) Version() domain.SchedulerVersion { return s.cfg.Version }

// Today returns the current day index.
func (s *Service) Today() int { return s.clockNow().Today }

// DayCutoff returns the moment the current day ends.
func (s *Service) DayCutoff() time.Time { return s.clockNow().DayCutoff }

// clockNow derives the scheduling clock from the wall clock without touching
// queue state.
func (s *Service) clockNow() Clock {
	return NewClock(s.now(), s.cfg.CreatedAt, s.cfg.RolloverHour)
}

// checkDay re-derives the queues if the day rolled over since the last
// Reset.
func (s *Service) checkDay(ctx context.Context) error {
	if !s.haveQueues || s.now().After(s.clock.DayCutoff) {
		return s.Reset(ctx)
	}
	return nil
}

// activeIDs returns the ids of the active deck set in pre-order.
func (s *Service) activeIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(s.active))
	for i := range s.active {
		ids[i] = s.active[i].ID
	}
	return ids
}
