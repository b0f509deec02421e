// Package schedule decides whether a datasource may sample an instrument at
// a given frequency right now, driven entirely by the per-source config
// block.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"pricewarden/internal/config"
	"pricewarden/internal/domain"
)

// Checker evaluates one datasource's eligibility rules.
type Checker struct {
	rules config.SourceRules

	// now is swappable for tests.
	now func() time.Time
}

// New builds a Checker for one source's rules.
func New(rules config.SourceRules) *Checker {
	return &Checker{rules: rules, now: time.Now}
}

// Allowed reports whether the instrument may be sampled at the frequency at
// the current moment. Precedence: the omit list always wins; named schedules,
// when present, are default-deny and the instrument must match at least one;
// otherwise the simple include/exclude/frequency rules apply, defaulting to
// allow.
func (c *Checker) Allowed(instrument string, freq domain.Frequency) (bool, error) {
	if matchesAny(c.rules.OmitInstruments, instrument) {
		return false, nil
	}

	if len(c.rules.Schedule) > 0 {
		return c.anyScheduleMatches(instrument, freq)
	}

	return simpleRulesAllow(c.rules.IncludeInstruments, c.rules.ExcludeInstruments,
		c.rules.Frequency, instrument, freq), nil
}

// anyScheduleMatches walks the named schedules. A schedule whose filters do
// not cover the instrument and frequency is skipped entirely; one that does
// cover them but has no days configured is a configuration error, not an
// implicit always-on entry.
func (c *Checker) anyScheduleMatches(instrument string, freq domain.Frequency) (bool, error) {
	weekday := mondayBasedWeekday(c.now())
	for name, sched := range c.rules.Schedule {
		if !simpleRulesAllow(sched.IncludeInstruments, sched.ExcludeInstruments,
			sched.Frequency, instrument, freq) {
			continue
		}
		if sched.Days == nil {
			return false, fmt.Errorf("schedule %q has no days configured", name)
		}
		if sched.Days.Contains(weekday) {
			return true, nil
		}
	}
	return false, nil
}

// matchAll is the list entry meaning "everything"; accepted in instrument
// and frequency lists alike.
const matchAll = "ALL"

// simpleRulesAllow applies the flat include/exclude/frequency filters. Empty
// lists mean no restriction.
func simpleRulesAllow(include, exclude, freqs config.StringList, instrument string, freq domain.Frequency) bool {
	if len(include) > 0 && !matchesAny(include, instrument) {
		return false
	}
	if matchesAny(exclude, instrument) {
		return false
	}
	if len(freqs) > 0 && !frequencyListed(freqs, freq) {
		return false
	}
	return true
}

// matchesAny matches an instrument against list entries; a trailing "*"
// makes an entry a prefix pattern, and matchAll matches anything.
func matchesAny(list config.StringList, instrument string) bool {
	for _, entry := range list {
		if entry == matchAll {
			return true
		}
		if prefix, ok := strings.CutSuffix(entry, "*"); ok {
			if strings.HasPrefix(instrument, prefix) {
				return true
			}
			continue
		}
		if entry == instrument {
			return true
		}
	}
	return false
}

func frequencyListed(list config.StringList, freq domain.Frequency) bool {
	for _, entry := range list {
		if entry == matchAll || entry == freq.String() {
			return true
		}
	}
	return false
}

// mondayBasedWeekday converts Go's Sunday-based weekday to the 0=Monday
// numbering used in the config.
func mondayBasedWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
