package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"paytrack/internal/backend"
	"paytrack/internal/core"
	"paytrack/internal/services"
)

type generateOptions struct {
	userID  string
	all     bool
	today   string
	enqueue bool
}

// EnqueueResult is the JSON output of generate --enqueue.
type EnqueueResult struct {
	Queue   string   `json:"queue"`
	UserIDs []string `json:"user_ids"`
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Materialize upcoming occurrences",
		Long: `Run one generation pass for a user (--user) or for every user that owns
a definition (--all). Occurrences already stored are never duplicated.

With --enqueue the pass is not run here: a generation request is published
to the trigger queue for the recurring worker to pick up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.userID, "user", "", "user to generate for")
	cmd.Flags().BoolVar(&opts.all, "all", false, "generate for every user")
	cmd.Flags().StringVar(&opts.today, "today", "", "override today (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&opts.enqueue, "enqueue", false, "publish generation requests instead of running the pass")
	cmd.MarkFlagsMutuallyExclusive("user", "all")
	cmd.MarkFlagsMutuallyExclusive("enqueue", "today")
	cmd.MarkFlagsOneRequired("user", "all")

	return cmd
}

func runGenerate(cmd *cobra.Command, rootOpts *RootOptions, opts *generateOptions) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	logger := commandLogger(cmd)
	result, err := OpenBackend(cmd.Context(), logger, cfg)
	if err != nil {
		return err
	}
	defer result.Cleanup()

	if opts.enqueue {
		return runEnqueue(cmd, rootOpts, opts, cfg.AMQPTriggerQueue, result)
	}

	pc, err := ProcessorConfig(cfg)
	if err != nil {
		return err
	}
	if opts.today != "" {
		today, err := core.ParseDate(opts.today)
		if err != nil {
			return fmt.Errorf("invalid --today: %w", err)
		}
		// noon keeps the calendar day stable in any configured zone
		fixed := time.Date(today.Year(), today.Time.Month(), today.Day(), 12, 0, 0, 0, pc.Location)
		pc.Now = func() time.Time { return fixed }
	}
	processor := services.NewRecurringProcessor(result.Backend, nil, result.Notifier, pc)

	var reports []services.GenerationReport
	if opts.all {
		reports, err = processor.GenerateAll(cmd.Context())
		if err != nil {
			return err
		}
	} else {
		userID := strings.TrimSpace(opts.userID)
		if userID == "" {
			return errors.New("--user must not be empty")
		}
		reports = []services.GenerationReport{processor.Generate(cmd.Context(), userID)}
	}

	if rootOpts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), reports)
	}
	printReports(cmd.OutOrStdout(), reports)
	return nil
}

func runEnqueue(cmd *cobra.Command, rootOpts *RootOptions, opts *generateOptions, queue string, result *backend.BackendResult) error {
	if result.AMQP == nil {
		return errors.New("--enqueue requires a reachable broker (AMQP_URL)")
	}

	var userIDs []string
	if opts.all {
		ids, err := result.Backend.ListUserIDs(cmd.Context())
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		userIDs = ids
	} else {
		userID := strings.TrimSpace(opts.userID)
		if userID == "" {
			return errors.New("--user must not be empty")
		}
		userIDs = []string{userID}
	}

	for _, id := range userIDs {
		if err := result.AMQP.PublishGenerationRequest(cmd.Context(), queue, id); err != nil {
			return fmt.Errorf("enqueue %s: %w", id, err)
		}
	}

	if rootOpts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), EnqueueResult{Queue: queue, UserIDs: userIDs})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %d generation request(s) on %s\n", len(userIDs), queue)
	return nil
}

func printReports(w io.Writer, reports []services.GenerationReport) {
	if len(reports) == 0 {
		fmt.Fprintln(w, "no users with definitions")
		return
	}
	for _, r := range reports {
		switch {
		case !r.Ran():
			fmt.Fprintf(w, "%s: skipped (%s)\n", r.UserID, r.Skipped)
		case r.Aborted:
			fmt.Fprintf(w, "%s: aborted, definitions could not be read\n", r.UserID)
		default:
			fmt.Fprintf(w, "%s: %d definition(s), %d occurrence(s) inserted, %d cursor(s) advanced\n",
				r.UserID, r.Definitions, r.Inserted, r.CursorsAdvanced)
		}
		for _, id := range r.FailedDefinitions {
			fmt.Fprintf(w, "  failed: %s\n", id)
		}
	}
}
