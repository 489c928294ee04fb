package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

// fakeStore is an in-memory implementation of every store interface the
// service consumes, so scenario tests can run whole study sessions without
// a database.
type fakeStore struct {
	cards  map[uuid.UUID]*domain.Card
	decks  map[uuid.UUID]*domain.Deck
	cfgs   map[uuid.UUID]*domain.DeckConfig // keyed by deck id
	usage  map[uuid.UUID]domain.DeckUsage
	revlog []domain.ReviewLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cards: make(map[uuid.UUID]*domain.Card),
		decks: make(map[uuid.UUID]*domain.Deck),
		cfgs:  make(map[uuid.UUID]*domain.DeckConfig),
		usage: make(map[uuid.UUID]domain.DeckUsage),
	}
}

// --- cardStore -------------------------------------------------------------

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (domain.Card, error) {
	c, ok := f.cards[id]
	if !ok {
		return domain.Card{}, domain.ErrNotFound
	}
	return *c, nil
}

func (f *fakeStore) GetMany(_ context.Context, ids []uuid.UUID) ([]domain.Card, error) {
	out := make([]domain.Card, 0, len(ids))
	for _, id := range ids {
		if c, ok := f.cards[id]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) Save(_ context.Context, card *domain.Card) error {
	cp := *card
	f.cards[card.ID] = &cp
	return nil
}

func (f *fakeStore) SaveAll(_ context.Context, cards []*domain.Card) error {
	for _, c := range cards {
		cp := *c
		f.cards[c.ID] = &cp
	}
	return nil
}

func (f *fakeStore) inDecks(id uuid.UUID, deckIDs []uuid.UUID) bool {
	for _, d := range deckIDs {
		if f.cards[id].DeckID == d {
			return true
		}
	}
	return false
}

func (f *fakeStore) DueLearning(_ context.Context, deckIDs []uuid.UUID, before time.Time, limit int) ([]domain.Card, error) {
	var out []domain.Card
	for id, c := range f.cards {
		if !f.inDecks(id, deckIDs) {
			continue
		}
		if c.Queue != domain.QueueLearning && c.Queue != domain.QueuePreview {
			continue
		}
		if c.Due.Kind == domain.DueStamp && c.Due.At.Before(before) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Due.At.Before(out[j].Due.At) })
	return clip(out, limit), nil
}

func (f *fakeStore) DueDayLearning(_ context.Context, deckIDs []uuid.UUID, day int, limit int) ([]domain.Card, error) {
	var out []domain.Card
	for id, c := range f.cards {
		if !f.inDecks(id, deckIDs) {
			continue
		}
		if c.Queue == domain.QueueDayLearning && c.Due.Kind == domain.DueDay && c.Due.Day <= day {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Due.Day < out[j].Due.Day })
	return clip(out, limit), nil
}

func (f *fakeStore) reviewDue(c *domain.Card, day int) bool {
	if c.Queue != domain.QueueReview {
		return false
	}
	if c.InFilteredDeck() {
		return true
	}
	return c.Due.Kind == domain.DueDay && c.Due.Day <= day
}

func (f *fakeStore) DueReviews(_ context.Context, deckIDs []uuid.UUID, day int, limit int) ([]domain.Card, error) {
	var out []domain.Card
	for id, c := range f.cards {
		if f.inDecks(id, deckIDs) && f.reviewDue(c, day) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.InFilteredDeck() != b.InFilteredDeck() {
			return a.InFilteredDeck()
		}
		if a.InFilteredDeck() {
			return a.FilteredPos < b.FilteredPos
		}
		if a.Due.Day != b.Due.Day {
			return a.Due.Day < b.Due.Day
		}
		return a.Position < b.Position
	})
	return clip(out, limit), nil
}

func (f *fakeStore) NewByDeck(_ context.Context, deckID uuid.UUID, limit int) ([]domain.Card, error) {
	var out []domain.Card
	for _, c := range f.cards {
		if c.DeckID == deckID && c.Queue == domain.QueueNew {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FilteredPos != out[j].FilteredPos {
			return out[i].FilteredPos < out[j].FilteredPos
		}
		return out[i].Position < out[j].Position
	})
	return clip(out, limit), nil
}

func (f *fakeStore) CountNewByDeck(ctx context.Context, deckID uuid.UUID, cap int) (int, error) {
	cards, _ := f.NewByDeck(ctx, deckID, cap)
	return len(cards), nil
}

func (f *fakeStore) CountDueReviews(_ context.Context, deckIDs []uuid.UUID, day int) (int, error) {
	n := 0
	for id, c := range f.cards {
		if f.inDecks(id, deckIDs) && f.reviewDue(c, day) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountDueReviewsByDeck(_ context.Context, deckID uuid.UUID, day int, cap int) (int, error) {
	n := 0
	for _, c := range f.cards {
		if c.DeckID == deckID && f.reviewDue(c, day) {
			n++
		}
	}
	return min(n, cap), nil
}

func (f *fakeStore) learning(c *domain.Card, before time.Time, day int) bool {
	switch c.Queue {
	case domain.QueueLearning, domain.QueuePreview:
		return c.Due.Kind == domain.DueStamp && c.Due.At.Before(before)
	case domain.QueueDayLearning:
		return c.Due.Kind == domain.DueDay && c.Due.Day <= day
	default:
		return false
	}
}

func (f *fakeStore) CountDueLearning(_ context.Context, deckIDs []uuid.UUID, before time.Time, day int) (int, error) {
	n := 0
	for id, c := range f.cards {
		if f.inDecks(id, deckIDs) && f.learning(c, before, day) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountLearningByDeck(_ context.Context, deckID uuid.UUID, before time.Time, day int) (int, error) {
	n := 0
	for _, c := range f.cards {
		if c.DeckID == deckID && f.learning(c, before, day) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Siblings(_ context.Context, noteID, except uuid.UUID) ([]domain.Card, error) {
	var out []domain.Card
	for _, c := range f.cards {
		if c.NoteID == noteID && c.ID != except {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) ByQueue(_ context.Context, deckIDs []uuid.UUID, queues []domain.Queue) ([]domain.Card, error) {
	var out []domain.Card
	for id, c := range f.cards {
		if !f.inDecks(id, deckIDs) {
			continue
		}
		for _, q := range queues {
			if c.Queue == q {
				out = append(out, *c)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) InDeck(_ context.Context, deckID uuid.UUID) ([]domain.Card, error) {
	var out []domain.Card
	for _, c := range f.cards {
		if c.DeckID == deckID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) MaxPosition(_ context.Context) (int, error) {
	maxPos := 0
	for _, c := range f.cards {
		maxPos = max(maxPos, c.Position)
	}
	return maxPos, nil
}

func (f *fakeStore) ShiftPositions(_ context.Context, start, amount int, except []uuid.UUID) error {
	skip := make(map[uuid.UUID]bool, len(except))
	for _, id := range except {
		skip[id] = true
	}
	for _, c := range f.cards {
		if skip[c.ID] || c.Position < start {
			continue
		}
		c.Position += amount
		if c.Queue == domain.QueueNew {
			c.Due = domain.DueAtPosition(c.Position)
		}
	}
	return nil
}

// --- revlogStore -----------------------------------------------------------

func (f *fakeStore) Append(_ context.Context, entry *domain.ReviewLog) error {
	f.revlog = append(f.revlog, *entry)
	return nil
}

func (f *fakeStore) DeleteByID(_ context.Context, id uuid.UUID) error {
	for i := range f.revlog {
		if f.revlog[i].ID == id {
			f.revlog = append(f.revlog[:i], f.revlog[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) LastForCard(_ context.Context, cardID uuid.UUID) (domain.ReviewLog, error) {
	for i := len(f.revlog) - 1; i >= 0; i-- {
		if f.revlog[i].CardID == cardID {
			return f.revlog[i], nil
		}
	}
	return domain.ReviewLog{}, domain.ErrNotFound
}

func (f *fakeStore) StudiedToday(_ context.Context, since time.Time) (domain.StudiedToday, error) {
	var out domain.StudiedToday
	for _, e := range f.revlog {
		if !e.ReviewedAt.Before(since) {
			out.Cards++
			out.TimeTakenMs += int64(e.TimeTakenMs)
		}
	}
	return out, nil
}

// --- deckRegistry ----------------------------------------------------------

func (f *fakeStore) GetDeck(_ context.Context, id uuid.UUID) (domain.Deck, error) {
	d, ok := f.decks[id]
	if !ok {
		return domain.Deck{}, domain.ErrNotFound
	}
	return *d, nil
}

func (f *fakeStore) All(_ context.Context) ([]domain.Deck, error) {
	out := make([]domain.Deck, 0, len(f.decks))
	for _, d := range f.decks {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) Config(_ context.Context, deckID uuid.UUID) (domain.DeckConfig, error) {
	cfg, ok := f.cfgs[deckID]
	if !ok {
		return domain.DeckConfig{}, domain.ErrNotFound
	}
	return *cfg, nil
}

func (f *fakeStore) Ancestors(_ context.Context, id uuid.UUID) ([]domain.Deck, error) {
	self, ok := f.decks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	var out []domain.Deck
	for _, d := range f.decks {
		if d.IsParentOf(self) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeStore) Descendants(_ context.Context, id uuid.UUID) ([]domain.Deck, error) {
	self, ok := f.decks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	var out []domain.Deck
	for _, d := range f.decks {
		if self.IsParentOf(d) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeStore) UsageToday(_ context.Context, deckID uuid.UUID, day int) (domain.DeckUsage, error) {
	u := f.usage[deckID]
	if u.Day != day {
		return domain.DeckUsage{Day: day}, nil
	}
	return u, nil
}

func (f *fakeStore) BumpUsage(_ context.Context, deckID uuid.UUID, day int, newDelta, reviewDelta int) error {
	u := f.usage[deckID]
	if u.Day != day {
		u = domain.DeckUsage{Day: day}
	}
	u.New += newDelta
	u.Review += reviewDelta
	f.usage[deckID] = u
	return nil
}

// --- cardFinder ------------------------------------------------------------

// FindCardIDs understands just enough of the search syntax for filtered-deck
// tests: bare deck names, is:due, and the standing exclusions.
func (f *fakeStore) FindCardIDs(_ context.Context, search string, order domain.FilteredOrder, limit int) ([]uuid.UUID, error) {
	wantDue := strings.Contains(search, "is:due")
	var out []domain.Card
	for _, c := range f.cards {
		if c.Queue == domain.QueueSuspended || c.Queue.Buried() {
			continue
		}
		if c.InFilteredDeck() || f.decks[c.DeckID].Filtered {
			continue
		}
		if wantDue && c.Queue == domain.QueueNew {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if order == domain.FilteredOrderDue {
			return out[i].Due.Raw() < out[j].Due.Raw()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	ids := make([]uuid.UUID, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	return ids, nil
}

// --- txManager -------------------------------------------------------------

func (f *fakeStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func clip(cards []domain.Card, limit int) []domain.Card {
	if limit > 0 && len(cards) > limit {
		return cards[:limit]
	}
	return cards
}

// deckRegistry adapter: the fake names its Get differently to avoid
// clashing with cardStore.Get.
type fakeRegistry struct{ *fakeStore }

func (r fakeRegistry) Get(ctx context.Context, id uuid.UUID) (domain.Deck, error) {
	return r.GetDeck(ctx, id)
}

// ---------------------------------------------------------------------------
// test environment
// ---------------------------------------------------------------------------

// testEnv bundles a service over the fake store with a controllable clock.
type testEnv struct {
	svc     *Service
	store   *fakeStore
	now     time.Time
	deck    uuid.UUID // default deck
	cardSeq int
}

// midpointFuzz makes fuzzed intervals deterministic.
func midpointFuzz(lo, hi int) int { return (lo + hi) / 2 }

// lowFuzz picks the bottom of every range; learning-step fudge becomes zero.
func lowFuzz(lo, hi int) int { return lo }

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	store := newFakeStore()
	env := &testEnv{
		store: store,
		// mid-morning, well clear of the rollover hour
		now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	env.deck = env.addDeck(t, "Default")

	cfg := DefaultConfig(env.now.Add(-time.Hour))
	all := append([]Option{
		WithNow(func() time.Time { return env.now }),
		WithFuzz(midpointFuzz),
	}, opts...)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewService(log, store, store, fakeRegistry{store}, store, store, cfg, all...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	env.svc = svc
	if err := svc.SelectDeck(context.Background(), env.deck); err != nil {
		t.Fatalf("SelectDeck: %v", err)
	}
	return env
}

func (e *testEnv) addDeck(t *testing.T, name string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	cfg := domain.DefaultDeckConfig()
	cfg.ID = uuid.New()
	e.store.decks[id] = &domain.Deck{ID: id, Name: name, ConfigID: cfg.ID, CreatedAt: e.now}
	e.store.cfgs[id] = &cfg
	return id
}

func (e *testEnv) addFilteredDeck(t *testing.T, name, search string, resched bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	e.store.decks[id] = &domain.Deck{
		ID:           id,
		Name:         name,
		Filtered:     true,
		SearchTerms:  []domain.SearchTerm{{Search: search, Limit: 100, Order: domain.FilteredOrderDue}},
		Resched:      resched,
		PreviewDelay: 10 * time.Minute,
		CreatedAt:    e.now,
	}
	// Formula parameters for resident cards come from the home deck; a
	// config here only backs direct lookups.
	cfg := domain.DefaultDeckConfig()
	cfg.ID = uuid.New()
	e.store.cfgs[id] = &cfg
	return id
}

// config returns the mutable config of a deck so tests can tweak limits and
// steps in place.
func (e *testEnv) config(deckID uuid.UUID) *domain.DeckConfig {
	return e.store.cfgs[deckID]
}

func (e *testEnv) addCard(t *testing.T, deckID uuid.UUID, mut ...func(*domain.Card)) *domain.Card {
	t.Helper()
	e.cardSeq++
	card := &domain.Card{
		ID:        uuid.New(),
		NoteID:    uuid.New(),
		DeckID:    deckID,
		Queue:     domain.QueueNew,
		Type:      domain.CardTypeNew,
		Position:  e.cardSeq,
		Due:       domain.DueAtPosition(e.cardSeq),
		Factor:    domain.StartingFactor,
		CreatedAt: e.now,
	}
	for _, m := range mut {
		m(card)
	}
	e.store.cards[card.ID] = card
	return card
}

// reviewCard makes the card a review card due on the given day.
func reviewCard(ivl, dueDay int) func(*domain.Card) {
	return func(c *domain.Card) {
		c.Queue = domain.QueueReview
		c.Type = domain.CardTypeReview
		c.IntervalDays = ivl
		c.Due = domain.DueOnDay(dueDay)
	}
}

// card reloads the stored copy.
func (e *testEnv) card(t *testing.T, id uuid.UUID) *domain.Card {
	t.Helper()
	c, ok := e.store.cards[id]
	if !ok {
		t.Fatalf("card %s not in store", id)
	}
	return c
}

func (e *testEnv) reset(t *testing.T) {
	t.Helper()
	if err := e.svc.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
}

func (e *testEnv) counts(t *testing.T) domain.DeckCounts {
	t.Helper()
	c, err := e.svc.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	return c
}

func (e *testEnv) getCard(t *testing.T) *domain.Card {
	t.Helper()
	c, err := e.svc.GetCard(context.Background())
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	return c
}

func (e *testEnv) answer(t *testing.T, card *domain.Card, ease domain.Ease) {
	t.Helper()
	if err := e.svc.AnswerCard(context.Background(), card, ease, 3*time.Second); err != nil {
		t.Fatalf("AnswerCard: %v", err)
	}
}

// advanceDays moves the wall clock forward across day boundaries.
func (e *testEnv) advanceDays(days int) {
	e.now = e.now.AddDate(0, 0, days)
}
