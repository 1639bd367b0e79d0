package api

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/kalambet/errsheet/internal/form"
	"github.com/kalambet/errsheet/internal/report"
	"github.com/kalambet/errsheet/internal/workflow"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/form.html"))

const (
	maxUploadSize = 32 << 20 // 32MB
	maxPasteSize  = form.MaxPastedImageSize + 1<<20
)

// page is the browser view. One State backs it, so the fields survive a
// failed submit and a page reload.
type page struct {
	workflow *workflow.Workflow
	sync     *form.Sync
	session  Session
	logger   *slog.Logger

	mu    sync.Mutex
	state *form.State
}

func newPage(deps Deps) *page {
	return &page{
		workflow: deps.Page.Workflow,
		sync:     deps.Page.Sync,
		session:  deps.Session,
		logger:   slog.Default(),
		state:    form.NewState(),
	}
}

type pageData struct {
	Title            string
	Type             string
	Description      string
	URL              string
	Screenshot       string
	ErrorTypes       []string
	Error            string
	ShowForm         bool
	ShowConfirmation bool
	ShowPasted       bool
	Preview          template.URL
}

func (p *page) data() pageData {
	s := p.state
	d := pageData{
		Title:            s.Title,
		Type:             s.Type,
		Description:      s.Desc,
		URL:              s.URL,
		ErrorTypes:       report.ErrorTypes,
		Error:            s.Error(),
		ShowForm:         s.Visible(form.ElementErrorForm),
		ShowConfirmation: s.Visible(form.ElementConfirmation),
		ShowPasted:       s.Visible(form.ElementPastedImage),
	}
	if s.Shot != nil {
		d.Screenshot = s.Shot.Name
	}
	// Only image data URLs reach the preview slot.
	if prev := s.Preview(); strings.HasPrefix(prev, "data:image/") {
		d.Preview = template.URL(prev)
	}
	return d
}

func (p *page) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !p.session.SignedIn() {
		http.Redirect(w, r, "/auth/signin", http.StatusFound)
		return
	}

	p.mu.Lock()
	d := p.data()
	p.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, d); err != nil {
		p.logger.Error("rendering page", "error", err)
	}
}

func (p *page) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		http.Error(w, "invalid form: "+err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	s := p.state
	s.Title = r.FormValue("errorTitle")
	s.Type = r.FormValue("errorType")
	s.Desc = r.FormValue("description")
	s.URL = r.FormValue("evidenceUrl")
	if shot, ok := uploadedScreenshot(r); ok {
		s.Shot = &shot
	} else if r.FormValue("keepScreenshot") == "" {
		s.Shot = nil
	}
	s.ShowError("")
	run := s.Snapshot()
	p.mu.Unlock()

	// p.mu is not held across sign-in and the append.
	out := p.workflow.HandleSubmit(r.Context(), run)

	p.mu.Lock()
	if out.Err == nil {
		p.sync.ShowConfirmation(p.state)
	} else {
		p.state.ShowError(out.Message())
		p.logger.Debug("submission not confirmed", "submission_id", out.ID, "error", out.Err)
	}
	p.mu.Unlock()

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// uploadedScreenshot returns the selected file's handle. Only the name and
// type are kept; the content is never read.
func uploadedScreenshot(r *http.Request) (report.FileHandle, bool) {
	if r.MultipartForm == nil {
		return report.FileHandle{}, false
	}
	files := r.MultipartForm.File["screenshot"]
	if len(files) == 0 || files[0].Filename == "" {
		return report.FileHandle{}, false
	}
	fh := files[0]
	return report.FileHandle{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
	}, true
}

func (p *page) handleReset(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.sync.ResetForm(p.state)
	p.mu.Unlock()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handlePaste receives a clipboard image as the raw request body.
func (p *page) handlePaste(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "image.png"
	}
	h := report.FileHandle{
		Name:        name,
		ContentType: r.Header.Get("Content-Type"),
		Size:        max(r.ContentLength, 0),
	}
	body := http.MaxBytesReader(w, r.Body, maxPasteSize)

	p.mu.Lock()
	defer p.mu.Unlock()

	// The body must be consumed before the handler returns.
	err := <-p.sync.HandlePastedImage(r.Context(), p.state, h, body)
	if errors.Is(err, form.ErrNotImage) {
		httpError(w, http.StatusUnsupportedMediaType, "invalid_request_error", "%v", err)
		return
	}
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stored", "name": name})
}

func (p *page) handleRemovePaste(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.sync.RemovePastedImage(p.state)
	p.mu.Unlock()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
