package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron accepts only 5-field expressions; descriptors such as @every are
// refused because their next fire depends on when they were first scheduled.
func ParseCron(expr string) (cron.Schedule, error) {
	if strings.HasPrefix(strings.TrimSpace(expr), "@") {
		return nil, fmt.Errorf("%w: only 5-field cron expressions are supported", ErrInvalidInterval)
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: cron %q: %v", ErrInvalidInterval, expr, err)
	}
	return schedule, nil
}

// NextOccurrences returns the next n fire times after base, in UTC.
func NextOccurrences(schedule cron.Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base.UTC()
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		if next.IsZero() {
			break
		}
		times = append(times, next)
	}
	return times
}

// PreviewCronSlots lists the next n time slots expr would occupy, starting
// from nowNanos and quantized to granularity.
func PreviewCronSlots(expr string, nowNanos, granularity uint64, n int) ([]uint64, error) {
	interval := CronInterval(expr)
	out := make([]uint64, 0, n)
	now := nowNanos
	for len(out) < n {
		slot, ok, err := NextSlot(interval, BoundaryValidated{Start: now}, 0, now, granularity)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, slot.Key)
		now = slot.Key
	}
	return out, nil
}
