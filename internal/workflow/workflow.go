package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/errsheet/internal/config"
	"github.com/kalambet/errsheet/internal/form"
	"github.com/kalambet/errsheet/internal/report"
	"github.com/kalambet/errsheet/internal/sheets"
	"github.com/kalambet/errsheet/internal/storage"
)

var (
	// ErrRemoteCall is returned when the append request fails or is rejected.
	ErrRemoteCall = errors.New("remote append failed")

	// ErrMissingField is returned when the title or error type is empty.
	ErrMissingField = errors.New("missing required field")
)

const (
	// RetryMessage is shown for every recoverable failure.
	RetryMessage = "There was an error submitting your report. Please try again."

	// MissingFieldMessage is shown when a required field is empty.
	MissingFieldMessage = "Please fill in the title and error type."
)

// Gate makes sure a session exists before the append is issued.
type Gate interface {
	EnsureSignedIn(ctx context.Context) (bool, error)
}

// Appender appends rows to a spreadsheet range.
type Appender interface {
	Append(ctx context.Context, spreadsheetID, rng string, rows [][]any) (sheets.AppendResult, error)
}

// SubmissionLog records the outcome of each attempt. Only metadata is
// written; report content never leaves the workflow.
type SubmissionLog interface {
	SaveSubmission(sub storage.Submission) error
	CompleteSubmission(id, updatedRange string) error
	FailSubmission(id, errMsg string) error
}

// Outcome is the result of one submit.
type Outcome struct {
	ID           string
	Confirmed    bool
	UpdatedRange string
	Err          error
}

// Message returns the text the view shows for o.
func (o Outcome) Message() string {
	switch {
	case o.Err == nil:
		return ""
	case errors.Is(o.Err, ErrMissingField):
		return MissingFieldMessage
	default:
		return RetryMessage
	}
}

// Workflow turns a filled-in form into a spreadsheet row.
type Workflow struct {
	gate     Gate
	appender Appender
	sync     *form.Sync
	google   config.GoogleConfig

	submissions SubmissionLog
	timeout     time.Duration
	now         func() time.Time
	logger      *slog.Logger

	// one submission in flight at a time
	mu sync.Mutex
}

// New creates a Workflow appending to google.SpreadsheetID at
// google.AppendRange().
func New(gate Gate, appender Appender, views *form.Sync, google config.GoogleConfig) *Workflow {
	return &Workflow{
		gate:     gate,
		appender: appender,
		sync:     views,
		google:   google,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// With returns a Workflow sharing w's collaborators and settings that reads
// the pasted image from views. The copy serializes independently of w.
func (w *Workflow) With(views *form.Sync) *Workflow {
	return &Workflow{
		gate:        w.gate,
		appender:    w.appender,
		sync:        views,
		google:      w.google,
		submissions: w.submissions,
		timeout:     w.timeout,
		now:         w.now,
		logger:      w.logger,
	}
}

// SetSubmissionLog enables recording of attempts.
func (w *Workflow) SetSubmissionLog(l SubmissionLog) {
	w.submissions = l
}

// SetTimeout bounds the append call. Zero means no bound.
func (w *Workflow) SetTimeout(d time.Duration) {
	w.timeout = d
}

// HandleSubmit runs one submission against b. Field values are read first,
// the session is resolved next, and only then is the report built and
// appended. On success b shows the confirmation panel. On failure b keeps
// its fields and shows a single error message.
func (w *Workflow) HandleSubmit(ctx context.Context, b form.Binding) Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()

	values, source := form.Read(b, w.sync.PastedImage())
	out := Outcome{ID: uuid.New().String()}

	if missing := values.Missing(); len(missing) > 0 {
		out.Err = fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
		b.ShowError(out.Message())
		return out
	}

	w.record(storage.Submission{
		ID:           out.ID,
		CreatedAt:    w.now(),
		EvidenceKind: source.Kind.String(),
	})

	if _, err := w.gate.EnsureSignedIn(ctx); err != nil {
		return w.fail(b, out, err)
	}

	r := report.New(values, source.Describe(), w.now())
	appendCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		appendCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	res, err := w.appender.Append(appendCtx, w.google.SpreadsheetID, w.google.AppendRange(), [][]any{r.Row()})
	if err != nil {
		return w.fail(b, out, fmt.Errorf("%w: %w", ErrRemoteCall, err))
	}

	out.Confirmed = true
	out.UpdatedRange = res.UpdatedRange
	if w.submissions != nil {
		if err := w.submissions.CompleteSubmission(out.ID, res.UpdatedRange); err != nil {
			w.logger.Warn("failed to record submission", "submission_id", out.ID, "error", err)
		}
	}

	w.logger.Info("report appended",
		"submission_id", out.ID,
		"range", res.UpdatedRange,
		"evidence", source.Kind.String(),
	)
	w.sync.ShowConfirmation(b)
	return out
}

func (w *Workflow) record(sub storage.Submission) {
	if w.submissions == nil {
		return
	}
	if err := w.submissions.SaveSubmission(sub); err != nil {
		w.logger.Warn("failed to record submission", "submission_id", sub.ID, "error", err)
	}
}

func (w *Workflow) fail(b form.Binding, out Outcome, err error) Outcome {
	out.Err = err
	w.logger.Error("submission failed", "submission_id", out.ID, "error", err)
	if w.submissions != nil {
		if lerr := w.submissions.FailSubmission(out.ID, err.Error()); lerr != nil {
			w.logger.Warn("failed to record submission", "submission_id", out.ID, "error", lerr)
		}
	}
	b.ShowError(out.Message())
	return out
}
