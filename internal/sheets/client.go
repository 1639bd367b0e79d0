package sheets

import (
	"context"
	"fmt"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ValueInputOption makes Sheets parse cells as if typed by a user, so the
// ISO timestamp lands as a date.
const ValueInputOption = "USER_ENTERED"

// AppendResult describes where the appended rows landed.
type AppendResult struct {
	UpdatedRange string
	UpdatedRows  int64
}

// Client appends rows through the Sheets v4 API.
type Client struct {
	svc    *sheets.Service
	apiKey string
}

// New creates a Client. Callers pass the credentials, typically
// option.WithTokenSource. apiKey, when set, is sent as the key query
// parameter for quota attribution.
func New(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Client, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}
	return &Client{svc: svc, apiKey: apiKey}, nil
}

// Append adds rows after the last row of the table found in rng.
// Appending is not idempotent: a retry after an ambiguous failure may
// duplicate a row.
func (c *Client) Append(ctx context.Context, spreadsheetID, rng string, rows [][]any) (AppendResult, error) {
	var callOpts []googleapi.CallOption
	if c.apiKey != "" {
		callOpts = append(callOpts, googleapi.QueryParameter("key", c.apiKey))
	}

	resp, err := c.svc.Spreadsheets.Values.
		Append(spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption(ValueInputOption).
		Context(ctx).
		Do(callOpts...)
	if err != nil {
		return AppendResult{}, fmt.Errorf("appending to %s: %w", rng, err)
	}

	var res AppendResult
	if resp.Updates != nil {
		res.UpdatedRange = resp.Updates.UpdatedRange
		res.UpdatedRows = resp.Updates.UpdatedRows
	}
	return res, nil
}
