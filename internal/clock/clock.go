// Package clock wraps the wall-clock "now" and cron scheduling primitives
// (C1). Cron expressions are validated at registration time, not at tick
// time, per §4.1.
package clock

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Clock provides the orchestrator's notion of "now". A real clock is used
// in production; tests substitute a fixed or steppable implementation.
type Clock interface {
	Now() time.Time
}

// System is the production Clock backed by time.Now.
type System struct{}

// Now returns the current wall-clock time.
func (System) Now() time.Time { return time.Now() }

// Parser parses standard 5-field cron expressions (minute, hour,
// day-of-month, month, day-of-week), matching §4.1's "standard 5-field
// cron with ranges, lists, steps".
type Parser struct {
	inner cron.Parser
}

// NewParser builds the 5-field cron parser.
func NewParser() Parser {
	return Parser{
		inner: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Schedule is a parsed cron expression capable of computing its next
// firing time.
type Schedule struct {
	expr cron.Schedule
	raw  string
}

// String returns the original cron expression text.
func (s Schedule) String() string { return s.raw }

// Next returns the next instant at which the expression fires strictly
// after `after`.
func (s Schedule) Next(after time.Time) time.Time {
	return s.expr.Next(after)
}

// Parse validates and parses a cron expression. Malformed expressions
// fail here, not at tick time.
func (p Parser) Parse(expr string) (Schedule, error) {
	sched, err := p.inner.Parse(expr)
	if err != nil {
		return Schedule{}, err
	}
	return Schedule{expr: sched, raw: expr}, nil
}
