// Package ratelimit gates outbound completion-API calls process-wide: a daily
// ceiling that resets on the UTC date boundary and a rolling per-minute
// ceiling. It returns rejection kinds only; decline text is the caller's
// concern, which keeps policy and persona separated.
package ratelimit

import (
	"sync"
	"time"
)

// Outcome is the result of one acquisition attempt.
type Outcome int

const (
	Allowed Outcome = iota
	DailyLimitExceeded
	MinuteLimitExceeded
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case DailyLimitExceeded:
		return "daily_limit"
	case MinuteLimitExceeded:
		return "minute_limit"
	}
	return "unknown"
}

// Limiter is the process-wide rate window. One instance is constructed at
// startup and passed by handle to the orchestrator; it is not ambient global
// state. All methods are safe for concurrent use.
type Limiter struct {
	mu sync.Mutex

	dailyLimit  int
	minuteLimit int

	dailyCount int
	dailyDate  time.Time // UTC midnight of the date being counted
	stamps     []time.Time

	now func() time.Time // injectable for tests
}

// New builds a limiter with the given ceilings.
func New(dailyLimit, minuteLimit int) *Limiter {
	return &Limiter{
		dailyLimit:  dailyLimit,
		minuteLimit: minuteLimit,
		now:         time.Now,
	}
}

// TryAcquire reserves one completion-API call. The daily check runs before the
// minute check so a day-exhausted caller does not also burn a minute slot, and
// a rejection of either kind consumes nothing.
func (l *Limiter) TryAcquire() Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	today := now.Truncate(24 * time.Hour)
	if today.After(l.dailyDate) {
		l.dailyCount = 0
		l.dailyDate = today
	}

	if l.dailyCount >= l.dailyLimit {
		return DailyLimitExceeded
	}

	cutoff := now.Add(-time.Minute)
	keep := l.stamps[:0]
	for _, t := range l.stamps {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	l.stamps = keep
	if len(l.stamps) >= l.minuteLimit {
		return MinuteLimitExceeded
	}

	l.dailyCount++
	l.stamps = append(l.stamps, now)
	return Allowed
}

// Snapshot reports current usage for the status endpoint and the limits command.
type Snapshot struct {
	DailyUsed   int `json:"daily_used"`
	DailyLimit  int `json:"daily_limit"`
	MinuteUsed  int `json:"minute_used"`
	MinuteLimit int `json:"minute_limit"`
}

// Snapshot returns the current window counts without consuming anything.
func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()
	if today := now.Truncate(24 * time.Hour); today.After(l.dailyDate) {
		l.dailyCount = 0
		l.dailyDate = today
	}
	cutoff := now.Add(-time.Minute)
	used := 0
	for _, t := range l.stamps {
		if t.After(cutoff) {
			used++
		}
	}
	return Snapshot{
		DailyUsed:   l.dailyCount,
		DailyLimit:  l.dailyLimit,
		MinuteUsed:  used,
		MinuteLimit: l.minuteLimit,
	}
}
