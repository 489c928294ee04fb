package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if err := c.Scheduler.validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	return nil
}

func (s *SchedulerConfig) validate() error {
	epoch, err := time.Parse(time.RFC3339, s.CollectionEpochRaw)
	if err != nil {
		return fmt.Errorf("collection_epoch: %w", err)
	}
	s.CollectionEpoch = epoch

	if s.RolloverHour < 0 || s.RolloverHour > 23 {
		return fmt.Errorf("rollover_hour must be 0..23 (got %d)", s.RolloverHour)
	}
	if s.CollapseWindow < 0 {
		return fmt.Errorf("collapse_window must be >= 0 (got %v)", s.CollapseWindow)
	}
	if s.QueueBatch <= 0 {
		return fmt.Errorf("queue_batch must be > 0 (got %d)", s.QueueBatch)
	}
	if s.Version != 1 && s.Version != 2 {
		return fmt.Errorf("version must be 1 or 2 (got %d)", s.Version)
	}

	switch s.NewSpread {
	case "distribute", "last", "first":
	default:
		return fmt.Errorf("new_spread must be distribute, last or first (got %q)", s.NewSpread)
	}

	steps, err := ParseSteps(s.NewStepsRaw)
	if err != nil {
		return fmt.Errorf("new_steps: %w", err)
	}
	s.NewSteps = steps

	steps, err = ParseSteps(s.LapseStepsRaw)
	if err != nil {
		return fmt.Errorf("lapse_steps: %w", err)
	}
	s.LapseSteps = steps

	return nil
}

// ParseSteps parses a comma-separated string of durations (e.g. "1m,10m")
// into a slice of time.Duration. An empty string returns a nil slice.
func ParseSteps(raw string) ([]time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	steps := make([]time.Duration, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", p, err)
		}
		steps = append(steps, d)
	}

	return steps, nil
}
