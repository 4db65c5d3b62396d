package schedule

import (
	"time"

	"paytrack/internal/core"
)

// maxSteps bounds every stepping loop. A daily rule needs a few hundred steps
// to cross a year; anything beyond this is a broken stepper.
const maxSteps = 100000

// Anchor returns the first occurrence date of a rule that has never been
// materialized. The naive anchor is built from the rule fields alone in the
// current period and then stepped forward until it is not before today.
func Anchor(def core.PaymentDefinition, today core.Date, policy OverflowPolicy) core.Date {
	next := naiveAnchor(def, today, policy)
	return rollForward(next, def, today, policy)
}

func naiveAnchor(def core.PaymentDefinition, today core.Date, policy OverflowPolicy) core.Date {
	switch def.RecurrenceType {
	case core.Monthly:
		return dateIn(today.Year(), today.Time.Month(), def.RecurrenceDay, policy)
	case core.Yearly:
		month := today.Time.Month()
		if def.RecurrenceMonth != nil {
			month = time.Month(*def.RecurrenceMonth + 1)
		}
		return dateIn(today.Year(), month, def.RecurrenceDay, policy)
	case core.Weekly:
		// weeks start on Sunday, weekday 0
		return today.AddDays(def.RecurrenceDay - int(today.Weekday()))
	default:
		return today
	}
}

// rollForward steps d by whole periods until it is on or after today.
func rollForward(d core.Date, def core.PaymentDefinition, today core.Date, policy OverflowPolicy) core.Date {
	step := StepperFor(def.RecurrenceType)
	for i := 0; d.Before(today) && i < maxSteps; i++ {
		next := step.Next(d, def, policy)
		if !next.After(d) {
			break
		}
		d = next
	}
	return d
}
