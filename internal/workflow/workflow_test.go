package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/errsheet/internal/auth"
	"github.com/kalambet/errsheet/internal/config"
	"github.com/kalambet/errsheet/internal/form"
	"github.com/kalambet/errsheet/internal/report"
	"github.com/kalambet/errsheet/internal/sheets"
	"github.com/kalambet/errsheet/internal/storage"
)

type fakeGate struct {
	err   error
	calls int
}

func (g *fakeGate) EnsureSignedIn(ctx context.Context) (bool, error) {
	g.calls++
	if g.err != nil {
		return false, g.err
	}
	return true, nil
}

type appendCall struct {
	spreadsheetID string
	rng           string
	rows          [][]any
}

type fakeAppender struct {
	mu    sync.Mutex
	calls []appendCall
	err   error
	block bool
}

func (a *fakeAppender) Append(ctx context.Context, spreadsheetID, rng string, rows [][]any) (sheets.AppendResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, appendCall{spreadsheetID, rng, rows})
	a.mu.Unlock()
	if a.block {
		<-ctx.Done()
		return sheets.AppendResult{}, ctx.Err()
	}
	if a.err != nil {
		return sheets.AppendResult{}, a.err
	}
	return sheets.AppendResult{UpdatedRange: "ErrorReports!A2:E2", UpdatedRows: 1}, nil
}

// recordingState counts confirmation transitions on top of form.State.
type recordingState struct {
	*form.State
	confirmations int
}

func (r *recordingState) SetVisible(el form.Element, visible bool) {
	if el == form.ElementConfirmation && visible {
		r.confirmations++
	}
	r.State.SetVisible(el, visible)
}

type memLog struct {
	subs map[string]storage.Submission
}

func (m *memLog) SaveSubmission(sub storage.Submission) error {
	if m.subs == nil {
		m.subs = make(map[string]storage.Submission)
	}
	sub.Status = storage.StatusPending
	m.subs[sub.ID] = sub
	return nil
}

func (m *memLog) CompleteSubmission(id, updatedRange string) error {
	sub, ok := m.subs[id]
	if !ok {
		return storage.ErrNotFound
	}
	sub.Status = storage.StatusAppended
	sub.UpdatedRange = updatedRange
	m.subs[id] = sub
	return nil
}

func (m *memLog) FailSubmission(id, errMsg string) error {
	sub, ok := m.subs[id]
	if !ok {
		return storage.ErrNotFound
	}
	sub.Status = storage.StatusFailed
	sub.Error = errMsg
	m.subs[id] = sub
	return nil
}

var testGoogle = config.GoogleConfig{SpreadsheetID: "sheet-123", SheetName: "ErrorReports"}

func filledState() *recordingState {
	s := form.NewState()
	s.Title = "Login button broken"
	s.Type = "UI Bug"
	s.URL = "http://example.com/x"
	return &recordingState{State: s}
}

func newTestWorkflow(gate Gate, app Appender) *Workflow {
	w := New(gate, app, form.NewSync(), testGoogle)
	w.now = func() time.Time { return time.Date(2024, 3, 5, 14, 7, 9, 123e6, time.UTC) }
	return w
}

func TestHandleSubmit_SuccessShowsConfirmationOnce(t *testing.T) {
	app := &fakeAppender{}
	w := newTestWorkflow(&fakeGate{}, app)
	b := filledState()

	out := w.HandleSubmit(context.Background(), b)
	if out.Err != nil {
		t.Fatalf("HandleSubmit: %v", out.Err)
	}
	if !out.Confirmed || out.UpdatedRange != "ErrorReports!A2:E2" {
		t.Errorf("outcome = %+v", out)
	}
	if b.confirmations != 1 {
		t.Errorf("confirmation shown %d times, want 1", b.confirmations)
	}
	if b.Visible(form.ElementErrorForm) {
		t.Error("form should be hidden after success")
	}
	if len(app.calls) != 1 {
		t.Fatalf("append called %d times, want 1", len(app.calls))
	}
}

func TestHandleSubmit_ExampleRow(t *testing.T) {
	app := &fakeAppender{}
	w := newTestWorkflow(&fakeGate{}, app)

	if out := w.HandleSubmit(context.Background(), filledState()); out.Err != nil {
		t.Fatalf("HandleSubmit: %v", out.Err)
	}

	want := appendCall{
		spreadsheetID: "sheet-123",
		rng:           "ErrorReports!A:F",
		rows: [][]any{{
			"2024-03-05T14:07:09.123Z", "Login button broken", "UI Bug", "", "URL: http://example.com/x",
		}},
	}
	if diff := cmp.Diff(want, app.calls[0], cmp.AllowUnexported(appendCall{})); diff != "" {
		t.Errorf("append mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleSubmit_PastedImageWins(t *testing.T) {
	app := &fakeAppender{}
	w := newTestWorkflow(&fakeGate{}, app)
	b := filledState()
	b.Shot = &report.FileHandle{Name: "chosen.png", ContentType: "image/png"}

	done := w.sync.HandlePastedImage(context.Background(), b, report.FileHandle{Name: "image.png", ContentType: "image/png"}, strings.NewReader("png"))
	if err := <-done; err != nil {
		t.Fatalf("HandlePastedImage: %v", err)
	}

	w.HandleSubmit(context.Background(), b)
	if got := app.calls[0].rows[0][4]; got != "Pasted Screenshot: image.png" {
		t.Errorf("evidence = %v", got)
	}
}

func TestWith_OwnPastedSlot(t *testing.T) {
	app := &fakeAppender{}
	base := newTestWorkflow(&fakeGate{}, app)
	base.SetTimeout(time.Minute)

	pasting := form.NewSync()
	withPaste := base.With(pasting)
	plain := base.With(form.NewSync())

	b := filledState()
	done := pasting.HandlePastedImage(context.Background(), b, report.FileHandle{Name: "secret.png", ContentType: "image/png"}, strings.NewReader("png"))
	if err := <-done; err != nil {
		t.Fatalf("HandlePastedImage: %v", err)
	}

	plain.HandleSubmit(context.Background(), filledState())
	withPaste.HandleSubmit(context.Background(), b)

	if len(app.calls) != 2 {
		t.Fatalf("append called %d times, want 2", len(app.calls))
	}
	if got := app.calls[0].rows[0][4]; got != "URL: http://example.com/x" {
		t.Errorf("plain evidence = %v", got)
	}
	if got := app.calls[1].rows[0][4]; got != "Pasted Screenshot: secret.png" {
		t.Errorf("pasted evidence = %v", got)
	}
	if got := app.calls[1].rows[0][0]; got != "2024-03-05T14:07:09.123Z" {
		t.Errorf("copy lost the clock: timestamp = %v", got)
	}
	if plain.timeout != time.Minute {
		t.Errorf("timeout = %v, want the base setting", plain.timeout)
	}
}

func TestHandleSubmit_RemoteRejectionKeepsForm(t *testing.T) {
	app := &fakeAppender{err: errors.New("403 PERMISSION_DENIED")}
	w := newTestWorkflow(&fakeGate{}, app)
	b := filledState()

	out := w.HandleSubmit(context.Background(), b)
	if !errors.Is(out.Err, ErrRemoteCall) {
		t.Fatalf("err = %v, want ErrRemoteCall", out.Err)
	}
	if out.Confirmed || b.confirmations != 0 {
		t.Error("confirmation must not be shown after a rejection")
	}
	if !b.Visible(form.ElementErrorForm) {
		t.Error("form should stay visible")
	}
	if b.Title != "Login button broken" || b.URL != "http://example.com/x" {
		t.Error("fields should be left intact")
	}
	if b.Error() != RetryMessage {
		t.Errorf("error message = %q", b.Error())
	}
}

func TestHandleSubmit_AuthFailureSkipsAppend(t *testing.T) {
	app := &fakeAppender{}
	gate := &fakeGate{err: auth.ErrSignInFailed}
	w := newTestWorkflow(gate, app)
	b := filledState()

	out := w.HandleSubmit(context.Background(), b)
	if !errors.Is(out.Err, auth.ErrSignInFailed) {
		t.Fatalf("err = %v, want ErrSignInFailed", out.Err)
	}
	if len(app.calls) != 0 {
		t.Error("append must not be called without a session")
	}
	if b.Error() != RetryMessage || !b.Visible(form.ElementErrorForm) {
		t.Errorf("view = error %q, form visible %v", b.Error(), b.Visible(form.ElementErrorForm))
	}
}

func TestHandleSubmit_MissingFields(t *testing.T) {
	gate := &fakeGate{}
	app := &fakeAppender{}
	w := newTestWorkflow(gate, app)
	b := filledState()
	b.Type = " "

	out := w.HandleSubmit(context.Background(), b)
	if !errors.Is(out.Err, ErrMissingField) {
		t.Fatalf("err = %v, want ErrMissingField", out.Err)
	}
	if gate.calls != 0 || len(app.calls) != 0 {
		t.Error("nothing should run for an incomplete form")
	}
	if b.Error() != MissingFieldMessage {
		t.Errorf("error message = %q", b.Error())
	}
}

func TestHandleSubmit_Timeout(t *testing.T) {
	app := &fakeAppender{block: true}
	w := newTestWorkflow(&fakeGate{}, app)
	w.SetTimeout(20 * time.Millisecond)

	out := w.HandleSubmit(context.Background(), filledState())
	if !errors.Is(out.Err, context.DeadlineExceeded) || !errors.Is(out.Err, ErrRemoteCall) {
		t.Errorf("err = %v, want DeadlineExceeded wrapped in ErrRemoteCall", out.Err)
	}
}

func TestHandleSubmit_RecordsSubmissions(t *testing.T) {
	log := &memLog{}

	ok := newTestWorkflow(&fakeGate{}, &fakeAppender{})
	ok.SetSubmissionLog(log)
	good := ok.HandleSubmit(context.Background(), filledState())

	bad := newTestWorkflow(&fakeGate{}, &fakeAppender{err: errors.New("boom")})
	bad.SetSubmissionLog(log)
	failed := bad.HandleSubmit(context.Background(), filledState())

	if sub := log.subs[good.ID]; sub.Status != storage.StatusAppended || sub.EvidenceKind != "url" {
		t.Errorf("good submission = %+v", sub)
	}
	if sub := log.subs[failed.ID]; sub.Status != storage.StatusFailed || !strings.Contains(sub.Error, "boom") {
		t.Errorf("failed submission = %+v", sub)
	}
}

func TestOutcomeMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrMissingField, MissingFieldMessage},
		{ErrRemoteCall, RetryMessage},
		{auth.ErrSignInFailed, RetryMessage},
	}
	for _, tt := range tests {
		if got := (Outcome{Err: tt.err}).Message(); got != tt.want {
			t.Errorf("Message(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
