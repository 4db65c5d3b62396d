package schedule

import (
	"paytrack/internal/core"
)

// DefaultHorizonMonths is how far ahead occurrences are materialized.
const DefaultHorizonMonths = 6

// Planner computes the candidate due dates of a rule inside the generation
// window. It holds no state between calls.
type Planner struct {
	Policy        OverflowPolicy
	HorizonMonths int
}

// NewPlanner returns a planner with the given policy and horizon. A
// non-positive horizon falls back to DefaultHorizonMonths.
func NewPlanner(policy OverflowPolicy, horizonMonths int) Planner {
	if policy == "" {
		policy = Clamp
	}
	if horizonMonths <= 0 {
		horizonMonths = DefaultHorizonMonths
	}
	return Planner{Policy: policy, HorizonMonths: horizonMonths}
}

// Window is the inclusive date range generation covers.
type Window struct {
	Today   core.Date
	Horizon core.Date
}

// Contains reports whether d falls inside the window.
func (w Window) Contains(d core.Date) bool {
	return !d.Before(w.Today) && !d.After(w.Horizon)
}

// Plan is the outcome of planning one rule.
type Plan struct {
	Window     Window
	Candidates []core.Date
}

// LastConsidered returns the last candidate of the plan, the value the
// rule's cursor advances to.
func (p Plan) LastConsidered() (core.Date, bool) {
	if len(p.Candidates) == 0 {
		return core.Date{}, false
	}
	return p.Candidates[len(p.Candidates)-1], true
}

// Window returns the generation window for today.
func (p Planner) Window(today core.Date) Window {
	months := p.HorizonMonths
	if months <= 0 {
		months = DefaultHorizonMonths
	}
	return Window{Today: today, Horizon: AddMonths(today, months)}
}

// Plan returns the ordered candidate dates of def from its next due date
// through the horizon. With a cursor the sequence resumes one period after
// it, skipping periods that already lie before today; without one it starts
// at the rule's anchor.
func (p Planner) Plan(def core.PaymentDefinition, today core.Date) Plan {
	policy := p.Policy
	if policy == "" {
		policy = Clamp
	}
	window := p.Window(today)
	step := StepperFor(def.RecurrenceType)

	var next core.Date
	if def.LastGeneratedDate != nil && !def.LastGeneratedDate.IsZero() {
		next = step.Next(*def.LastGeneratedDate, def, policy)
		next = rollForward(next, def, today, policy)
	} else {
		next = Anchor(def, today, policy)
	}

	var candidates []core.Date
	for i := 0; !next.After(window.Horizon) && i < maxSteps; i++ {
		candidates = append(candidates, next)
		following := step.Next(next, def, policy)
		if !following.After(next) {
			break
		}
		next = following
	}

	return Plan{Window: window, Candidates: candidates}
}

// FilterExisting drops the candidates already materialized. existing is the
// authoritative list of stored due dates for the rule; the cursor only
// shrinks the window that has to be planned.
func FilterExisting(candidates, existing []core.Date) []core.Date {
	if len(existing) == 0 {
		return append([]core.Date(nil), candidates...)
	}
	seen := make(map[string]struct{}, len(existing))
	for _, d := range existing {
		seen[d.String()] = struct{}{}
	}
	out := make([]core.Date, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.String()]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}
