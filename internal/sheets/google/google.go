package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"paytrack/internal/core"
	ports "paytrack/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// header is written to a freshly created year sheet.
var header = []any{"Due date", "Title", "Amount", "Category", "Status", "Occurrence ID", "Definition ID"}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base sheet name without year (e.g. "Occurrences"); the due date's year
	// is prefixed per row.
	sheetBase string

	mu    sync.Mutex
	known map[string]bool
}

// Ensure interface conformance
var _ ports.OccurrenceWriter = (*Client)(nil)

// NewFromEnv creates a Sheets client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID
// Optional: GOOGLE_SHEET_NAME (default "Occurrences")
// Credentials: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	base := strings.TrimSpace(os.Getenv("GOOGLE_SHEET_NAME"))
	if base == "" {
		base = "Occurrences"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return NewClient(svc, spreadsheetID, base), nil
}

// NewClient wraps an existing Sheets service.
func NewClient(svc *gsheet.Service, spreadsheetID, sheetBase string) *Client {
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     sheetBase,
		known:         map[string]bool{},
	}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context, opts ...goption.ClientOption) (*gsheet.Service, error) {
	credentialsJSON, err := serviceAccountJSON()
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	opts = append([]goption.ClientOption{
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
	}, opts...)

	service, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func serviceAccountJSON() ([]byte, error) {
	inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	file := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		return []byte(inline), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// Append writes o as one row of the sheet for its due year. A row already
// carrying o's ID is returned instead of writing a new one.
func (c *Client) Append(ctx context.Context, o core.Occurrence) (string, error) {
	if err := o.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheet := yearPrefixedName(c.sheetBase, o.DueDate.Year())
	if err := c.ensureSheet(ctx, sheet); err != nil {
		return "", err
	}

	// Column F holds occurrence IDs
	rng := fmt.Sprintf("'%s'!F:F", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("read occurrence ids from %s: %w", sheet, err)
	}
	if row := indexOf(firstColumn(resp.Values), o.ID); row >= 0 {
		return fmt.Sprintf("'%s'!A%d:G%d", sheet, row+1, row+1), nil
	}

	vr := &gsheet.ValueRange{Values: [][]any{occurrenceRow(o)}}
	appended, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, fmt.Sprintf("'%s'!A:G", sheet), vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	if appended.Updates != nil && appended.Updates.UpdatedRange != "" {
		return appended.Updates.UpdatedRange, nil
	}
	return fmt.Sprintf("'%s'!A:G", sheet), nil
}

// ensureSheet creates the year sheet with a header row the first time it is
// needed.
func (c *Client) ensureSheet(ctx context.Context, sheet string) error {
	c.mu.Lock()
	ok := c.known[sheet]
	c.mu.Unlock()
	if ok {
		return nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet %s: %w", c.spreadsheetID, err)
	}

	exists := false
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == sheet {
			exists = true
			break
		}
	}

	if !exists {
		req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: sheet}},
		}}}
		if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet, err)
		}

		vr := &gsheet.ValueRange{Values: [][]any{header}}
		if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, fmt.Sprintf("'%s'!A1:G1", sheet), vr).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			return fmt.Errorf("write header to %s: %w", sheet, err)
		}
		slog.InfoContext(ctx, "Created occurrences sheet", "sheet", sheet)
	}

	c.mu.Lock()
	c.known[sheet] = true
	c.mu.Unlock()
	return nil
}

func occurrenceRow(o core.Occurrence) []any {
	defID := ""
	if o.DefinitionID != nil {
		defID = *o.DefinitionID
	}
	return []any{
		o.DueDate.String(),
		o.Title,
		core.FormatAmount(o.Amount),
		o.Category,
		string(o.Status),
		o.ID,
		defID,
	}
}

func firstColumn(values [][]any) []string {
	out := make([]string, len(values))
	for i, row := range values {
		if len(row) > 0 {
			out[i] = strings.TrimSpace(fmt.Sprint(row[0]))
		}
	}
	return out
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if v == target {
			return i
		}
	}
	return -1
}
