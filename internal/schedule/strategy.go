// Package schedule turns recurrence rules into concrete due dates.
//
// This file implements the Strategy Pattern for stepping a date forward by one
// recurrence period. Each recurrence type (daily, weekly, monthly, yearly) has
// its own stepper; unknown types step monthly.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"paytrack/internal/core"
)

// OverflowPolicy decides what happens when a rule asks for a day the month
// does not have (day 31 in April, February 29 in a common year).
type OverflowPolicy string

const (
	// Clamp moves the date to the last day of the month.
	Clamp OverflowPolicy = "clamp"
	// Roll lets the surplus days spill into the next month, as time.Date does.
	Roll OverflowPolicy = "roll"
)

// ParseOverflowPolicy parses a policy name; the empty string means Clamp.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Clamp:
		return Clamp, nil
	case Roll:
		return Roll, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q: must be one of [clamp roll]", s)
	}
}

// Stepper is the strategy interface for advancing a date by one period.
type Stepper interface {
	// Next returns the date exactly one recurrence period after from.
	Next(from core.Date, def core.PaymentDefinition, policy OverflowPolicy) core.Date
}

// DailyStepper implements Stepper for daily rules.
type DailyStepper struct{}

// Next returns the following day.
func (DailyStepper) Next(from core.Date, _ core.PaymentDefinition, _ OverflowPolicy) core.Date {
	return from.AddDays(1)
}

// WeeklyStepper implements Stepper for weekly rules.
type WeeklyStepper struct{}

// Next returns the same weekday one week later.
func (WeeklyStepper) Next(from core.Date, _ core.PaymentDefinition, _ OverflowPolicy) core.Date {
	return from.AddDays(7)
}

// MonthlyStepper implements Stepper for monthly rules and for every
// recurrence type without a registered stepper.
type MonthlyStepper struct{}

// Next returns the rule's day in the following month. Under Clamp the target
// day comes from the rule, so a rule on the 31st does not drift after a
// short month.
func (MonthlyStepper) Next(from core.Date, def core.PaymentDefinition, policy OverflowPolicy) core.Date {
	if policy == Roll {
		return core.Date{Time: from.AddDate(0, 1, 0)}
	}
	day := from.Day()
	if def.RecurrenceType == core.Monthly && validMonthDay(def.RecurrenceDay) {
		day = def.RecurrenceDay
	}
	return dateIn(from.Year(), from.Time.Month()+1, day, Clamp)
}

// YearlyStepper implements Stepper for yearly rules.
type YearlyStepper struct{}

// Next returns the rule's month and day in the following year.
func (YearlyStepper) Next(from core.Date, def core.PaymentDefinition, policy OverflowPolicy) core.Date {
	if policy == Roll {
		return core.Date{Time: from.AddDate(1, 0, 0)}
	}
	month := from.Time.Month()
	if def.RecurrenceMonth != nil && validMonthIndex(*def.RecurrenceMonth) {
		month = time.Month(*def.RecurrenceMonth + 1)
	}
	day := from.Day()
	if validMonthDay(def.RecurrenceDay) {
		day = def.RecurrenceDay
	}
	return dateIn(from.Year()+1, month, day, Clamp)
}

// steppers maps recurrence types to their stepping strategy.
var steppers = map[core.RecurrenceType]Stepper{
	core.Daily:   DailyStepper{},
	core.Weekly:  WeeklyStepper{},
	core.Monthly: MonthlyStepper{},
	core.Yearly:  YearlyStepper{},
}

// StepperFor returns the stepper registered for t, or the monthly stepper
// when t is unknown.
func StepperFor(t core.RecurrenceType) Stepper {
	if s, ok := steppers[t]; ok {
		return s
	}
	return MonthlyStepper{}
}

// RegisterStepper registers a stepper for a new recurrence type.
// Not safe for use concurrently with planning.
func RegisterStepper(t core.RecurrenceType, s Stepper) {
	steppers[t] = s
}

// dateIn builds year/month/day, resolving days past the end of the month
// with policy. Month overflow (13, 14, ...) always normalizes into the next
// year.
func dateIn(year int, month time.Month, day int, policy OverflowPolicy) core.Date {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	if policy == Clamp {
		if last := core.DaysIn(first.Year(), first.Month()); day > last {
			day = last
		}
	}
	return core.NewDate(first.Year(), int(first.Month()), day)
}

// AddMonths adds n calendar months to d, clamping to the end of the target
// month. Used for the generation horizon regardless of the overflow policy.
func AddMonths(d core.Date, n int) core.Date {
	return dateIn(d.Year(), d.Time.Month()+time.Month(n), d.Day(), Clamp)
}

func validMonthDay(day int) bool {
	return day >= 1 && day <= 31
}

func validMonthIndex(m int) bool {
	return m >= 0 && m <= 11
}
