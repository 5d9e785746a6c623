package event

import (
	"time"

	"barrage/internal/domain"
	"barrage/internal/fault"
)

// StartAutomatic arms the periodic trigger: a fixed interval, or a fresh
// random delay in [RandomMin, RandomMax] whole minutes after every fire.
// Calling it again replaces the previous timer.
func (s *Scheduler) StartAutomatic() {
	s.StopAutomatic()
	if s.closed {
		return
	}
	if s.opts.RandomTimer {
		s.armRandom()
		return
	}
	if s.opts.Interval <= 0 {
		s.deps.Logger.Warn("automatic events disabled: interval is not positive")
		return
	}
	s.automatic = s.deps.Loop.Repeat(s.opts.Interval, 0, s.fireAutomatic)
	s.deps.Logger.Info("automatic events armed", "interval", s.opts.Interval.String())
}

// StopAutomatic cancels the periodic trigger; live events are unaffected.
func (s *Scheduler) StopAutomatic() {
	s.automatic.Cancel()
	s.automatic = nil
}

// AutomaticArmed reports whether the periodic trigger is pending.
func (s *Scheduler) AutomaticArmed() bool {
	return s.automatic.Active()
}

func (s *Scheduler) armRandom() {
	delay := s.randomDelay()
	s.automatic = s.deps.Loop.After(delay, func() {
		s.fireAutomatic()
		if !s.closed && s.opts.RandomTimer && s.automatic != nil {
			s.armRandom()
		}
	})
	s.deps.Logger.Info("automatic events armed", "next_in", delay.String())
}

// randomDelay draws whole minutes uniformly from the inclusive range.
func (s *Scheduler) randomDelay() time.Duration {
	low := int(s.opts.RandomMin / time.Minute)
	high := int(s.opts.RandomMax / time.Minute)
	if low < 1 {
		low = 1
	}
	if high < low {
		high = low
	}
	return time.Duration(low+s.rng.IntN(high-low+1)) * time.Minute
}

func (s *Scheduler) fireAutomatic() {
	ev := s.newInstance(domain.TriggerAutomatic, s.randomOrigin())
	ev.profile = s.deps.Selector.Select(domain.TriggerAutomatic, "")
	ev.planned = ev.profile.RocketCount
	ev.interval = ev.profile.SpawnInterval()
	ev.length = ev.profile.Duration
	if _, err := s.begin(ev); err != nil && !fault.Is(err, fault.Precondition) {
		s.deps.Logger.Error("automatic event failed", "error", err.Error())
	}
}
