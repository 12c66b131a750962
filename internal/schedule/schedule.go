// Package schedule fires window rotations at fixed times of day.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// ClockTime is a time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

func (t ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimes parses a comma separated list of HH:MM times.
func ParseTimes(s string) ([]ClockTime, error) {
	var out []ClockTime
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, err := time.Parse("15:04", part)
		if err != nil {
			return nil, fmt.Errorf("invalid time of day %q: want HH:MM", part)
		}
		out = append(out, ClockTime{Hour: parsed.Hour(), Minute: parsed.Minute()})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no rotation times given")
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hour != out[j].Hour {
			return out[i].Hour < out[j].Hour
		}
		return out[i].Minute < out[j].Minute
	})
	return out, nil
}

// Next returns the first occurrence of any of times strictly after now, read in loc.
func Next(now time.Time, times []ClockTime, loc *time.Location) time.Time {
	local := now.In(loc)
	for day := 0; day <= 1; day++ {
		y, m, d := local.AddDate(0, 0, day).Date()
		for _, t := range times {
			at := time.Date(y, m, d, t.Hour, t.Minute, 0, 0, loc)
			if at.After(local) {
				return at
			}
		}
	}
	// Unreachable with a non-empty times slice.
	return local.Add(24 * time.Hour)
}

// Scheduler runs fn at every configured time of day.
type Scheduler struct {
	times    []ClockTime
	loc      *time.Location
	fn       func(context.Context) error
	maxTries uint
	now      func() time.Time
}

// New creates a scheduler. fn is retried with exponential backoff when it fails.
func New(times []ClockTime, loc *time.Location, fn func(context.Context) error) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{times: times, loc: loc, fn: fn, maxTries: 8, now: time.Now}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := Next(s.now(), s.times, s.loc)
		log.Info().Time("next_run", next).Msg("Waiting for next rotation")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Scheduled rotation failed after retries")
		}
	}
}

// RunOnce calls fn, retrying failures with exponential backoff.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.fn(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn().Err(err).Dur("retry_in", wait).Msg("Rotation failed, retrying")
		}),
	)
	return err
}
