package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"paytrack/internal/core"
)

// DefinitionSeed is one entry of a definitions YAML file.
type DefinitionSeed struct {
	// ID is optional; re-importing a file with IDs updates in place.
	ID             string      `yaml:"id"`
	Title          string      `yaml:"title"`
	Category       string      `yaml:"category"`
	Amount         *seedAmount `yaml:"amount"`
	RecurrenceType string      `yaml:"recurrence_type"`
	RecurrenceDay  int         `yaml:"recurrence_day"`
	// RecurrenceMonth is 1-12 like on a calendar.
	RecurrenceMonth *int `yaml:"recurrence_month"`
}

// seedAmount accepts 850, 850.00 or "850,00".
type seedAmount struct {
	decimal.Decimal
}

func (a *seedAmount) UnmarshalYAML(node *yaml.Node) error {
	d, err := core.ParseAmount(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: amount %q: %w", node.Line, node.Value, err)
	}
	a.Decimal = d
	return nil
}

// ParseDefinitionSeeds decodes a YAML list of definitions for userID.
// Every entry is validated; the first invalid one fails the whole file.
func ParseDefinitionSeeds(data []byte, userID string) ([]core.PaymentDefinition, error) {
	var seeds []DefinitionSeed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seeds); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse definitions: %w", err)
	}

	defs := make([]core.PaymentDefinition, 0, len(seeds))
	for i, s := range seeds {
		def := core.PaymentDefinition{
			ID:             strings.TrimSpace(s.ID),
			UserID:         userID,
			Title:          strings.TrimSpace(s.Title),
			Category:       strings.TrimSpace(s.Category),
			RecurrenceType: core.RecurrenceType(strings.ToLower(strings.TrimSpace(s.RecurrenceType))),
			RecurrenceDay:  s.RecurrenceDay,
		}
		if def.ID == "" {
			def.ID = uuid.NewString()
		}
		if s.Amount != nil {
			amount := s.Amount.Decimal
			def.Amount = &amount
		}
		if s.RecurrenceMonth != nil {
			if *s.RecurrenceMonth < 1 || *s.RecurrenceMonth > 12 {
				return nil, fmt.Errorf("definition %d (%s): %w: %d (use 1-12)", i+1, def.Title, core.ErrInvalidMonth, *s.RecurrenceMonth)
			}
			m := *s.RecurrenceMonth - 1
			def.RecurrenceMonth = &m
		}
		if !def.RecurrenceType.IsKnown() {
			return nil, fmt.Errorf("definition %d (%s): %w: %q", i+1, def.Title, core.ErrInvalidRecurrence, s.RecurrenceType)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("definition %d (%s): %w", i+1, def.Title, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

type importOptions struct {
	userID string
}

// ImportResult is the json output of the import command.
type ImportResult struct {
	UserID      string   `json:"user_id"`
	Definitions []string `json:"definitions"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import <definitions.yaml>",
		Short: "Import recurring payment definitions from YAML",
		Long: `Load a YAML list of recurring payment definitions for a user:

  - title: Rent
    category: home
    amount: 850
    recurrence_type: monthly
    recurrence_day: 1
  - title: Car insurance
    amount: "412,30"
    recurrence_type: yearly
    recurrence_day: 15
    recurrence_month: 3

Omit amount for variable payments.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.userID, "user", "", "owner of the imported definitions")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runImport(cmd *cobra.Command, rootOpts *RootOptions, opts *importOptions, path string) error {
	userID := strings.TrimSpace(opts.userID)
	if userID == "" {
		return errors.New("--user must not be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	defs, err := ParseDefinitionSeeds(data, userID)
	if err != nil {
		return err
	}

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	result, err := OpenBackend(cmd.Context(), commandLogger(cmd), cfg)
	if err != nil {
		return err
	}
	defer result.Cleanup()

	out := ImportResult{UserID: userID, Definitions: make([]string, 0, len(defs))}
	for _, def := range defs {
		if err := result.Backend.InsertDefinition(cmd.Context(), def); err != nil {
			return fmt.Errorf("import %q: %w", def.Title, err)
		}
		out.Definitions = append(out.Definitions, def.ID)
	}

	if rootOpts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d definition(s) for %s\n", len(defs), userID)
	for i, def := range defs {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s (%s)\n", out.Definitions[i], def.Title, describeRule(def))
	}
	return nil
}
