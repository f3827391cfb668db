// Package sheets writes report rows into a Google Sheets worksheet.
package sheets

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"klarnaparser/pkg/config"
	errs "klarnaparser/pkg/errors"
	"klarnaparser/pkg/logger"
)

const (
	valueInputRaw = "RAW"
	lastColumn    = "Z"
)

// Client appends to, clears and rewrites ranges of one spreadsheet
type Client struct {
	values        *sheets.SpreadsheetsValuesService
	spreadsheetID string
	logger        logger.Logger
}

// NewService authorises with the service account credentials file from cfg.
// Extra options are applied after the defaults.
func NewService(ctx context.Context, cfg config.SheetsConfig, log logger.Logger, opts ...option.ClientOption) (*Client, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	base := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if cfg.CredentialsFile != "" {
		base = append(base, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	svc, err := sheets.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, errs.Newf(errs.ErrorTypeConfiguration, "sheets-auth", err, "credentials %s", cfg.CredentialsFile)
	}

	log.Debug("Authorize complete")
	return &Client{
		values:        svc.Spreadsheets.Values,
		spreadsheetID: cfg.SpreadsheetID,
		logger:        log.WithField("component", "sheets"),
	}, nil
}

// AppendRows writes rows below the last populated row of worksheet
func (c *Client) AppendRows(ctx context.Context, worksheet string, rows [][]string) error {
	if len(rows) == 0 {
		c.logger.WithField("worksheet", worksheet).Error("No data passed to AppendRows")
		return errs.Newf(errs.ErrorTypeDataAbsence, "append-rows", errs.ErrEmptyRows, "worksheet %q", worksheet)
	}

	last, err := c.rowCount(ctx, worksheet)
	if err != nil {
		return err
	}

	target := cellRange(worksheet, fmt.Sprintf("A%d", last+1))
	if err := c.update(ctx, target, rows); err != nil {
		return classify("append-rows", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"worksheet": worksheet,
		"rows":      len(rows),
		"start_row": last + 1,
	}).Info("Appended rows")
	return nil
}

// ClearRange clears columns A through endCol from startRow to the last
// populated row. Rows above startRow, usually the header, are kept.
func (c *Client) ClearRange(ctx context.Context, worksheet string, startRow int, endCol string) error {
	if startRow < 1 {
		startRow = 2
	}
	if endCol == "" {
		endCol = lastColumn
	}

	count, err := c.rowCount(ctx, worksheet)
	if err != nil {
		return err
	}
	if count < startRow {
		c.logger.WithField("worksheet", worksheet).Info("Nothing to clear")
		return nil
	}

	target := cellRange(worksheet, fmt.Sprintf("A%d:%s%d", startRow, endCol, count))
	if err := c.clear(ctx, target); err != nil {
		return classify("clear-range", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"worksheet": worksheet,
		"range":     target,
	}).Info("Cleared range")
	return nil
}

// ReplaceRows clears the block starting at startCol/startRow sized to rows
// and writes rows into it.
func (c *Client) ReplaceRows(ctx context.Context, worksheet string, rows [][]string, startRow int, startCol, endCol string) error {
	if len(rows) == 0 {
		return errs.Newf(errs.ErrorTypeDataAbsence, "replace-rows", errs.ErrEmptyRows, "worksheet %q", worksheet)
	}
	if startCol == "" {
		startCol = "A"
	}
	if endCol == "" {
		endCol = lastColumn
	}

	endRow := startRow + len(rows) - 1
	block := cellRange(worksheet, fmt.Sprintf("%s%d:%s%d", startCol, startRow, endCol, endRow))
	if err := c.clear(ctx, block); err != nil {
		return classify("replace-rows", err)
	}
	if err := c.update(ctx, cellRange(worksheet, fmt.Sprintf("%s%d", startCol, startRow)), rows); err != nil {
		return classify("replace-rows", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"worksheet": worksheet,
		"rows":      len(rows),
		"range":     block,
	}).Info("Replaced rows")
	return nil
}

func (c *Client) rowCount(ctx context.Context, worksheet string) (int, error) {
	resp, err := c.values.Get(c.spreadsheetID, cellRange(worksheet, "A:"+lastColumn)).Context(ctx).Do()
	if err != nil {
		return 0, classify("read-worksheet", err)
	}
	return len(resp.Values), nil
}

func (c *Client) update(ctx context.Context, target string, rows [][]string) error {
	_, err := c.values.Update(c.spreadsheetID, target, &sheets.ValueRange{Values: toValues(rows)}).
		ValueInputOption(valueInputRaw).
		Context(ctx).
		Do()
	return err
}

func (c *Client) clear(ctx context.Context, target string) error {
	_, err := c.values.Clear(c.spreadsheetID, target, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

// cellRange builds an A1 range on worksheet, quoting the sheet name
func cellRange(worksheet, cells string) string {
	return "'" + strings.ReplaceAll(worksheet, "'", "''") + "'!" + cells
}

func toValues(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}

// classify maps API failures to error types. Client errors such as an
// unknown spreadsheet or missing permission are configuration problems.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errs.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return errs.Infra(op, err)
		case apiErr.Code >= 400:
			return errs.New(errs.ErrorTypeConfiguration, op, err)
		}
	}
	if t := errs.TypeOf(err); t != errs.ErrorTypeUnknown {
		return errs.New(t, op, err)
	}
	return errs.Infra(op, err)
}
