// Package gate decides whether a capsule's content may be revealed.
package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Countdown is the time left until release, floored per unit.
type Countdown struct {
	Days    int64 `json:"days"`
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
	Seconds int64 `json:"seconds"`
}

// Status is the gate verdict at one instant.
type Status struct {
	Released  bool      `json:"released"`
	UnlockAt  time.Time `json:"unlock_at"`
	Countdown Countdown `json:"countdown"`
}

// Evaluate returns Released when now is at or after unlockAt.
func Evaluate(now, unlockAt time.Time) Status {
	if !now.Before(unlockAt) {
		return Status{Released: true, UnlockAt: unlockAt}
	}
	left := int64(unlockAt.Sub(now) / time.Second)
	return Status{
		UnlockAt: unlockAt,
		Countdown: Countdown{
			Days:    left / 86400,
			Hours:   left % 86400 / 3600,
			Minutes: left % 3600 / 60,
			Seconds: left % 60,
		},
	}
}

// Session drives the countdown of one view.  Each session owns its ticker;
// nothing is shared between viewers.
type Session struct {
	UnlockAt time.Time
	Interval time.Duration // defaults to one second
	// OnRelease runs once, on the first emission that observes Released.
	OnRelease func(ctx context.Context)
	Now       func() time.Time
	Logger    *slog.Logger

	once sync.Once
}

// Run emits the current status immediately and then on every tick until
// the capsule releases or ctx is done.  It returns ctx.Err() on
// cancellation and nil after the release emission.
func (s *Session) Run(ctx context.Context, emit func(Status) error) error {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}

	step := func() (bool, error) {
		st := Evaluate(now(), s.UnlockAt)
		if err := emit(st); err != nil {
			return true, err
		}
		if st.Released {
			s.release(ctx)
			return true, nil
		}
		return false, nil
	}

	if done, err := step(); done {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if done, err := step(); done {
				return err
			}
		}
	}
}

func (s *Session) release(ctx context.Context) {
	s.once.Do(func() {
		if s.OnRelease == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				logger := s.Logger
				if logger == nil {
					logger = slog.Default()
				}
				logger.Warn("release action panicked", "panic", r)
			}
		}()
		s.OnRelease(ctx)
	})
}
