package domain

// Queue governs a card's eligibility for the working queues.
type Queue string

const (
	QueueNew         Queue = "NEW"
	QueueLearning    Queue = "LEARN"     // intraday learning, due is a timestamp
	QueueDayLearning Queue = "DAY_LEARN" // learning step crossed the day cutoff
	QueueReview      Queue = "REVIEW"
	QueuePreview     Queue = "PREVIEW" // non-rescheduling filtered deck only
	QueueSuspended   Queue = "SUSPENDED"
	QueueSchedBuried Queue = "SCHED_BURIED"
	QueueUserBuried  Queue = "USER_BURIED"
)

func (q Queue) String() string { return string(q) }

func (q Queue) IsValid() bool {
	switch q {
	case QueueNew, QueueLearning, QueueDayLearning, QueueReview, QueuePreview,
		QueueSuspended, QueueSchedBuried, QueueUserBuried:
		return true
	}
	return false
}

// Buried reports whether the queue is one of the two buried states.
func (q Queue) Buried() bool {
	return q == QueueSchedBuried || q == QueueUserBuried
}

// CardType governs which interval/ease formula applies. It may lag Queue
// transiently: a lapsed review card is Type RELEARNING while sitting in the
// learning queue.
type CardType string

const (
	CardTypeNew        CardType = "NEW"
	CardTypeLearning   CardType = "LEARNING"
	CardTypeReview     CardType = "REVIEW"
	CardTypeRelearning CardType = "RELEARNING"
)

func (t CardType) String() string { return string(t) }

func (t CardType) IsValid() bool {
	switch t {
	case CardTypeNew, CardTypeLearning, CardTypeReview, CardTypeRelearning:
		return true
	}
	return false
}

// Ease is the 1..4 answer button (Again/Hard/Good/Easy).
type Ease int

const (
	EaseAgain Ease = 1
	EaseHard  Ease = 2
	EaseGood  Ease = 3
	EaseEasy  Ease = 4
)

func (e Ease) IsValid() bool { return e >= EaseAgain && e <= EaseEasy }

// ReviewKind tags a revlog row with the episode it belongs to.
type ReviewKind string

const (
	ReviewKindLearn    ReviewKind = "LEARN"
	ReviewKindReview   ReviewKind = "REVIEW"
	ReviewKindRelearn  ReviewKind = "RELEARN"
	ReviewKindFiltered ReviewKind = "FILTERED"
)

func (k ReviewKind) String() string { return string(k) }

func (k ReviewKind) IsValid() bool {
	switch k {
	case ReviewKindLearn, ReviewKindReview, ReviewKindRelearn, ReviewKindFiltered:
		return true
	}
	return false
}

// LeechAction is what happens to a card when it trips the leech threshold.
type LeechAction string

const (
	LeechActionSuspend LeechAction = "SUSPEND"
	LeechActionTagOnly LeechAction = "TAG_ONLY"
)

func (a LeechAction) IsValid() bool {
	return a == LeechActionSuspend || a == LeechActionTagOnly
}

// NewCardOrder controls how new cards are drawn within a deck.
type NewCardOrder string

const (
	NewCardOrderDue    NewCardOrder = "DUE"    // by position
	NewCardOrderRandom NewCardOrder = "RANDOM" // positions shuffled on sort
)

// UnburyScope selects which buried cards an unbury operation touches.
type UnburyScope string

const (
	UnburyScopeAll       UnburyScope = "ALL"
	UnburyScopeManual    UnburyScope = "MANUAL"    // user-buried only
	UnburyScopeScheduler UnburyScope = "SCHEDULER" // sibling/sched-buried only
)

func (s UnburyScope) IsValid() bool {
	switch s {
	case UnburyScopeAll, UnburyScopeManual, UnburyScopeScheduler:
		return true
	}
	return false
}

// SchedulerVersion selects the queue semantics a collection was opened with.
// It is fixed at service construction; moving between versions is the
// explicit ChangeSchedulerVersion batch transform.
type SchedulerVersion int

const (
	SchedulerV1 SchedulerVersion = 1
	SchedulerV2 SchedulerVersion = 2
)

func (v SchedulerVersion) IsValid() bool {
	return v == SchedulerV1 || v == SchedulerV2
}
