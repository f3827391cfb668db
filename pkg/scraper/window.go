package scraper

import (
	"fmt"
	"strings"
	"time"

	"klarnaparser/pkg/config"
)

// windowDays is the distance between the first and last day of the report
const windowDays = 7

// Window is the inclusive date range of the requested report
type Window struct {
	Start time.Time
	End   time.Time
}

// DateWindow returns the window ending yesterday relative to today and
// starting seven days before that. Times are truncated to calendar days in
// today's location.
func DateWindow(today time.Time) Window {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	end := day.AddDate(0, 0, -1)
	return Window{
		Start: end.AddDate(0, 0, -windowDays),
		End:   end,
	}
}

// StartDate formats the first day as YYYY-MM-DD
func (w Window) StartDate() string {
	return w.Start.Format(config.DateFormat)
}

// EndDate formats the last day as YYYY-MM-DD
func (w Window) EndDate() string {
	return w.End.Format(config.DateFormat)
}

func (w Window) String() string {
	return w.StartDate() + ".." + w.EndDate()
}

// ReportURL appends the window as start_date and end_date query parameters
func ReportURL(base string, w Window) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sstart_date=%s&end_date=%s", base, sep, w.StartDate(), w.EndDate())
}
