// Package usage tracks daily LLM call volume and enforces the configured
// daily call limit.
package usage

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Tracker counts LLM calls and characters per calendar day. Counters reset
// at local midnight. Safe for concurrent use.
type Tracker struct {
	mu             sync.Mutex
	dailyCallLimit int
	alertThreshold float64

	calls           int
	promptChars     int64
	completionChars int64
	byProvider      map[string]*ProviderUsage
	resetAt         time.Time
	alerted         bool

	now func() time.Time
}

// ProviderUsage tallies calls and characters for one provider.
type ProviderUsage struct {
	Calls           int   `json:"calls"`
	PromptChars     int64 `json:"prompt_chars"`
	CompletionChars int64 `json:"completion_chars"`
}

// Stats is a point-in-time snapshot of today's usage.
type Stats struct {
	Calls           int                      `json:"calls"`
	CallLimit       int                      `json:"call_limit"`
	PromptChars     int64                    `json:"prompt_chars"`
	CompletionChars int64                    `json:"completion_chars"`
	Providers       map[string]ProviderUsage `json:"providers"`
	NextReset       time.Time                `json:"next_reset"`
}

// LimitError reports that the daily call limit is exhausted.
type LimitError struct {
	Limit int
	Calls int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("daily LLM call limit reached: %d calls today (limit %d)", e.Calls, e.Limit)
}

// NewTracker creates a tracker. A dailyCallLimit of 0 disables the limit.
// alertThreshold is the fraction of the limit (0..1) at which one warning is
// logged per day.
func NewTracker(dailyCallLimit int, alertThreshold float64) *Tracker {
	t := &Tracker{
		dailyCallLimit: dailyCallLimit,
		alertThreshold: alertThreshold,
		byProvider:     make(map[string]*ProviderUsage),
		now:            time.Now,
	}
	t.resetAt = nextMidnight(t.now())
	return t
}

// CheckLimit returns a *LimitError when today's call count has reached the
// daily limit, nil otherwise.
func (t *Tracker) CheckLimit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfNeeded()
	if t.dailyCallLimit > 0 && t.calls >= t.dailyCallLimit {
		return &LimitError{Limit: t.dailyCallLimit, Calls: t.calls}
	}
	return nil
}

// Record adds one completed call to today's tallies.
func (t *Tracker) Record(provider string, promptChars, completionChars int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfNeeded()

	t.calls++
	t.promptChars += int64(promptChars)
	t.completionChars += int64(completionChars)

	pu := t.byProvider[provider]
	if pu == nil {
		pu = &ProviderUsage{}
		t.byProvider[provider] = pu
	}
	pu.Calls++
	pu.PromptChars += int64(promptChars)
	pu.CompletionChars += int64(completionChars)

	if !t.alerted && t.dailyCallLimit > 0 && t.alertThreshold > 0 {
		if float64(t.calls) >= t.alertThreshold*float64(t.dailyCallLimit) {
			t.alerted = true
			log.Printf("[Usage] Daily call volume at %d of %d (threshold %.0f%%)",
				t.calls, t.dailyCallLimit, t.alertThreshold*100)
		}
	}
}

// Snapshot returns a copy of today's usage.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfNeeded()

	providers := make(map[string]ProviderUsage, len(t.byProvider))
	for name, pu := range t.byProvider {
		providers[name] = *pu
	}
	return Stats{
		Calls:           t.calls,
		CallLimit:       t.dailyCallLimit,
		PromptChars:     t.promptChars,
		CompletionChars: t.completionChars,
		Providers:       providers,
		NextReset:       t.resetAt,
	}
}

// resetIfNeeded zeroes the counters once a new day has started. Callers must
// hold t.mu.
func (t *Tracker) resetIfNeeded() {
	now := t.now()
	if now.Before(t.resetAt) {
		return
	}
	t.calls = 0
	t.promptChars = 0
	t.completionChars = 0
	t.byProvider = make(map[string]*ProviderUsage)
	t.alerted = false
	t.resetAt = nextMidnight(now)
	log.Printf("[Usage] Daily counters reset (next reset %s)", t.resetAt.Format("2006-01-02 15:04:05"))
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}
