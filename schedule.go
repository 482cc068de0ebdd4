package relay

import (
	"fmt"
	"time"

	"github.com/relaymq/relay-go/jetstream"
)

// ScheduleAt builds a Nats-Schedule header value for a single delivery at
// t. A past instant means immediate delivery; the broker, not this
// function, is responsible for that clamping.
func ScheduleAt(t time.Time) string {
	return "@at " + t.UTC().Format(time.RFC3339)
}

// ScheduleEvery builds a Nats-Schedule header value for a repeating
// interval. d is rounded down to whole seconds; durations under a
// second are not representable in the broker's grammar.
func ScheduleEvery(d time.Duration) string {
	return "@every " + formatScheduleDuration(d)
}

func formatScheduleDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", int64(d/time.Hour))
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", int64(d/time.Minute))
	default:
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
}

// Predefined schedule intervals for SchedulePredefined.
const (
	ScheduleHourly  = "@hourly"
	ScheduleDaily   = "@daily"
	ScheduleWeekly  = "@weekly"
	ScheduleMonthly = "@monthly"
	ScheduleYearly  = "@yearly"
)

// SchedulePredefined returns one of the @hourly/@daily/@weekly/@monthly/
// @yearly constants unchanged, for use as a Nats-Schedule header value.
func SchedulePredefined(name string) string {
	return name
}

// ScheduleCron builds a 6-field "sec min hour dom mon dow" cron
// expression for Nats-Schedule.
func ScheduleCron(sec, min, hour, dom, mon, dow string) string {
	return sec + " " + min + " " + hour + " " + dom + " " + mon + " " + dow
}

// ParseScheduleTarget reads the Nats-Scheduler header the broker sets on
// a message produced by a schedule, identifying the schedule's origin
// subject. The second return is false if the message carries no such
// header.
func (p *Payload) ParseScheduleTarget() (string, bool) {
	if p.Header == nil {
		return _EMPTY_, false
	}
	v := p.Header.Get(jetstream.SchedulerOriginHeader)
	return v, v != _EMPTY_
}
