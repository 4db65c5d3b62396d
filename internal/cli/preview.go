package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"paytrack/internal/config"
	"paytrack/internal/core"
	"paytrack/internal/schedule"
)

type previewOptions struct {
	recurrence string
	day        int
	month      int
	cursor     string
	today      string
	overflow   string
	horizon    int
}

// PreviewResult is the json output of the preview command.
type PreviewResult struct {
	Rule     string      `json:"rule"`
	Overflow string      `json:"overflow"`
	Today    core.Date   `json:"today"`
	Horizon  core.Date   `json:"horizon"`
	Dates    []core.Date `json:"dates"`
}

// NewPreviewCommand creates the preview command.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &previewOptions{}

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the due dates a rule would produce",
		Long: `Print the candidate due dates of a recurrence rule inside the generation
window, without touching storage. Useful to check month-end and leap-day
behaviour of a rule before importing it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.recurrence, "type", "monthly", "recurrence type (daily|weekly|monthly|yearly)")
	cmd.Flags().IntVar(&opts.day, "day", 1, "day of month, or weekday 0-6 (Sunday first) for weekly")
	cmd.Flags().IntVar(&opts.month, "month", 0, "month 1-12 for yearly rules")
	cmd.Flags().StringVar(&opts.cursor, "cursor", "", "last generated date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.today, "today", "", "today (YYYY-MM-DD), defaults to the current day")
	cmd.Flags().StringVar(&opts.overflow, "overflow", "clamp", "month overflow policy (clamp|roll)")
	cmd.Flags().IntVar(&opts.horizon, "horizon", schedule.DefaultHorizonMonths, "horizon in months")

	return cmd
}

func runPreview(cmd *cobra.Command, rootOpts *RootOptions, opts *previewOptions) error {
	def, err := opts.definition()
	if err != nil {
		return err
	}

	policy, err := schedule.ParseOverflowPolicy(opts.overflow)
	if err != nil {
		return err
	}

	today, err := opts.todayDate()
	if err != nil {
		return err
	}

	plan := schedule.NewPlanner(policy, opts.horizon).Plan(def, today)
	result := PreviewResult{
		Rule:     describeRule(def),
		Overflow: string(policy),
		Today:    plan.Window.Today,
		Horizon:  plan.Window.Horizon,
		Dates:    plan.Candidates,
	}
	if result.Dates == nil {
		result.Dates = []core.Date{}
	}

	if rootOpts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	printPreview(cmd.OutOrStdout(), result)
	return nil
}

func (o *previewOptions) definition() (core.PaymentDefinition, error) {
	def := core.PaymentDefinition{
		ID:             "preview",
		Title:          "preview",
		RecurrenceType: core.RecurrenceType(o.recurrence),
		RecurrenceDay:  o.day,
	}
	if !def.RecurrenceType.IsKnown() {
		return def, fmt.Errorf("%w: %q", core.ErrInvalidRecurrence, o.recurrence)
	}
	if o.month != 0 {
		if o.month < 1 || o.month > 12 {
			return def, fmt.Errorf("%w: %d (use 1-12)", core.ErrInvalidMonth, o.month)
		}
		m := o.month - 1
		def.RecurrenceMonth = &m
	}
	if o.cursor != "" {
		cursor, err := core.ParseDate(o.cursor)
		if err != nil {
			return def, fmt.Errorf("invalid --cursor: %w", err)
		}
		def.LastGeneratedDate = &cursor
	}
	if err := def.Validate(); err != nil {
		return def, err
	}
	return def, nil
}

func (o *previewOptions) todayDate() (core.Date, error) {
	if o.today != "" {
		d, err := core.ParseDate(o.today)
		if err != nil {
			return core.Date{}, fmt.Errorf("invalid --today: %w", err)
		}
		return d, nil
	}
	loc, err := config.Load().Location()
	if err != nil {
		return core.Date{}, err
	}
	return core.Today(time.Now(), loc), nil
}

func describeRule(def core.PaymentDefinition) string {
	switch def.RecurrenceType {
	case core.Weekly:
		return fmt.Sprintf("weekly on %s", time.Weekday(def.RecurrenceDay))
	case core.Yearly:
		if def.RecurrenceMonth != nil {
			return fmt.Sprintf("yearly on %s %d", time.Month(*def.RecurrenceMonth+1), def.RecurrenceDay)
		}
		return fmt.Sprintf("yearly on day %d", def.RecurrenceDay)
	case core.Daily:
		return "daily"
	default:
		return fmt.Sprintf("monthly on day %d", def.RecurrenceDay)
	}
}

func printPreview(w io.Writer, r PreviewResult) {
	fmt.Fprintf(w, "rule:     %s\n", r.Rule)
	fmt.Fprintf(w, "overflow: %s\n", r.Overflow)
	fmt.Fprintf(w, "window:   %s .. %s\n", r.Today, r.Horizon)
	fmt.Fprintln(w)
	for _, d := range r.Dates {
		fmt.Fprintf(w, "%s  %s\n", d, d.Weekday().String()[:3])
	}
	fmt.Fprintf(w, "\n%d occurrence(s)\n", len(r.Dates))
}
