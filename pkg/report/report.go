// Package report reads the settlement CSV the portal exports and keeps the
// rows that record refunds.
package report

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"unicode/utf8"

	"klarnaparser/pkg/config"
	errs "klarnaparser/pkg/errors"
	"klarnaparser/pkg/logger"
	"klarnaparser/pkg/storage"
)

const utf8BOM = '\uFEFF'

// Parser filters report files by the value of their first column
type Parser struct {
	marker    string
	delimiter rune
	logger    logger.Logger
}

// NewParser creates a parser for the report section of the config
func NewParser(cfg config.ReportConfig, log logger.Logger) *Parser {
	if log == nil {
		log = logger.NewNopLogger()
	}
	delim, _ := utf8.DecodeRuneInString(cfg.Delimiter)
	if delim == utf8.RuneError {
		delim = ';'
	}
	return &Parser{
		marker:    cfg.Marker,
		delimiter: delim,
		logger:    log.WithField("component", "report"),
	}
}

// LatestFile returns the most recently modified report in dir
func LatestFile(dir string) (string, error) {
	return storage.LatestFile(dir)
}

// ParseLatest parses the newest file in dir
func (p *Parser) ParseLatest(dir string) ([][]string, error) {
	path, err := LatestFile(dir)
	if err != nil {
		return nil, err
	}
	p.logger.WithField("file", path).Info("Found latest CSV")
	return p.Parse(path)
}

// Parse returns the rows of the file at path whose first field equals the
// marker. A file without such rows is an error.
func (p *Parser) Parse(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Filesystem("parse-report", err)
	}
	defer f.Close()

	rows, err := p.Filter(f)
	if err != nil {
		return nil, errs.Newf(errs.TypeOf(err), "parse-report", err, "%s", path)
	}

	p.logger.WithFields(map[string]interface{}{
		"file": path,
		"rows": len(rows),
	}).Info("Parsed CSV")
	return rows, nil
}

// Filter reads delimited records from r and keeps those whose first field
// equals the marker. Records may have differing field counts.
func (p *Parser) Filter(r io.Reader) ([][]string, error) {
	br := bufio.NewReader(r)
	if first, _, err := br.ReadRune(); err == nil && first != utf8BOM {
		_ = br.UnreadRune()
	}

	reader := csv.NewReader(br)
	reader.Comma = p.delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errs.Newf(errs.ErrorTypeDataAbsence, "parse-report", err, "malformed report")
		}
		if len(record) > 0 && record[0] == p.marker {
			rows = append(rows, record)
		}
	}

	if len(rows) == 0 {
		return nil, errs.Newf(errs.ErrorTypeDataAbsence, "parse-report", errs.ErrNoReportRows, "no %s rows", p.marker)
	}
	return rows, nil
}
