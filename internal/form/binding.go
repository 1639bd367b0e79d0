package form

import (
	"sync"

	"github.com/kalambet/errsheet/internal/report"
)

// Element names a container the workflow toggles.
type Element string

const (
	ElementErrorForm    Element = "errorForm"
	ElementConfirmation Element = "confirmation"
	ElementPastedImage  Element = "pastedImage"
)

// Binding is the view layer the workflow reads fields from and writes
// visibility changes to. Implementations decide how a change is rendered.
type Binding interface {
	ErrorTitle() string
	ErrorType() string
	Description() string
	Screenshot() (report.FileHandle, bool)
	EvidenceURL() string

	SetVisible(el Element, visible bool)
	SetPreview(dataURL string)
	ShowError(message string)
	ClearFields()
}

// State is an in-memory Binding. The HTTP page, the CLI and the MCP tool
// each fill one from their own inputs and render it afterwards.
type State struct {
	mu sync.Mutex

	Title    string
	Type     string
	Desc     string
	Shot     *report.FileHandle
	URL      string
	visible  map[Element]bool
	preview  string
	errorMsg string
}

// NewState returns a State showing the editable form.
func NewState() *State {
	return &State{
		visible: map[Element]bool{
			ElementErrorForm:    true,
			ElementConfirmation: false,
			ElementPastedImage:  false,
		},
	}
}

// Snapshot copies the field values into a new State showing the form.
func (s *State) Snapshot() *State {
	c := NewState()
	c.Title = s.Title
	c.Type = s.Type
	c.Desc = s.Desc
	c.URL = s.URL
	if s.Shot != nil {
		h := *s.Shot
		c.Shot = &h
	}
	return c
}

func (s *State) ErrorTitle() string  { return s.Title }
func (s *State) ErrorType() string   { return s.Type }
func (s *State) Description() string { return s.Desc }
func (s *State) EvidenceURL() string { return s.URL }

func (s *State) Screenshot() (report.FileHandle, bool) {
	if s.Shot == nil {
		return report.FileHandle{}, false
	}
	return *s.Shot, true
}

func (s *State) SetVisible(el Element, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visible == nil {
		s.visible = make(map[Element]bool)
	}
	s.visible[el] = visible
}

// Visible reports whether el is shown.
func (s *State) Visible(el Element) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible[el]
}

func (s *State) SetPreview(dataURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preview = dataURL
}

// Preview returns the data URL of the pasted image preview, if any.
func (s *State) Preview() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

func (s *State) ShowError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorMsg = message
}

// Error returns the last message passed to ShowError.
func (s *State) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorMsg
}

func (s *State) ClearFields() {
	s.Title = ""
	s.Type = ""
	s.Desc = ""
	s.Shot = nil
	s.URL = ""
	s.mu.Lock()
	s.errorMsg = ""
	s.mu.Unlock()
}
