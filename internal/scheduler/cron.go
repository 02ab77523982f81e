package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultMinInterval is the smallest minute step a schedule may use.
const DefaultMinInterval = 5

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron checks that expr is a five-field cron expression that
// fires no more often than every minInterval minutes. A bare "*" minute
// field and any "*/N" or "a-b/N" minute step with N < minInterval are
// rejected. Timezone prefixes are not accepted; schedules run in UTC.
func ValidateCron(expr string, minInterval int) error {
	expr = strings.TrimSpace(expr)
	fields := strings.Fields(expr)
	if len(fields) > 0 && strings.Contains(fields[0], "=") {
		return fmt.Errorf("%w: %q: timezone prefixes are not supported, schedules always run in UTC", ErrInvalidCron, expr)
	}
	if len(fields) != 5 {
		return fmt.Errorf("%w: %q: expected 5 fields (minute hour day-of-month month day-of-week), got %d",
			ErrInvalidCron, expr, len(fields))
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %q: %v. Examples: \"*/15 * * * *\" (every 15 min), \"0 * * * *\" (hourly), \"0 9 * * *\" (daily 9am UTC), \"0 9 * * 1\" (Mon 9am UTC)",
			ErrInvalidCron, expr, err)
	}
	if minInterval <= 1 {
		return nil
	}

	minute := fields[0]
	for _, term := range strings.Split(minute, ",") {
		if term == "*" {
			return fmt.Errorf("%w: minimum schedule interval is %d minutes", ErrInvalidCron, minInterval)
		}
		_, step, ok := strings.Cut(term, "/")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(step)
		if err == nil && n < minInterval {
			return fmt.Errorf("%w: minimum schedule interval is %d minutes", ErrInvalidCron, minInterval)
		}
	}
	return nil
}

// NextFire returns the first fire time of expr strictly after t, in UTC.
// Expressions carrying a timezone prefix are rejected.
func NextFire(expr string, t time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if f := strings.Fields(expr); len(f) > 0 && strings.Contains(f[0], "=") {
		return time.Time{}, fmt.Errorf("%w: %q: timezone prefixes are not supported", ErrInvalidCron, expr)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return sched.Next(t.UTC()), nil
}
