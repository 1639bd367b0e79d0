package report

import (
	"strings"
	"time"
)

// TimestampLayout matches the ISO-8601 form produced by JavaScript's
// Date.toISOString, which existing sheets were populated with.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrorTypes are the choices offered by the form. Submissions are not
// restricted to this list; any non-empty value is accepted.
var ErrorTypes = []string{
	"UI Bug",
	"Functional Error",
	"Performance Issue",
	"Data Error",
	"Security Issue",
	"Other",
}

// FormValues are the raw field values read from a view before a report is built.
type FormValues struct {
	Title       string
	ErrorType   string
	Description string
}

// Missing returns the names of required fields that have no value.
func (v FormValues) Missing() []string {
	var missing []string
	if strings.TrimSpace(v.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(v.ErrorType) == "" {
		missing = append(missing, "errorType")
	}
	return missing
}

// Report is a single error report. It is built once per submission and
// discarded after it has been appended.
type Report struct {
	Timestamp   string
	Title       string
	ErrorType   string
	Description string
	Evidence    string
}

// New stamps values and evidence with now.
func New(values FormValues, evidence string, now time.Time) Report {
	return Report{
		Timestamp:   now.UTC().Format(TimestampLayout),
		Title:       values.Title,
		ErrorType:   values.ErrorType,
		Description: values.Description,
		Evidence:    evidence,
	}
}

// Row maps the report onto the five sheet columns:
// timestamp, title, error type, description, evidence.
func (r Report) Row() []any {
	return []any{r.Timestamp, r.Title, r.ErrorType, r.Description, r.Evidence}
}
