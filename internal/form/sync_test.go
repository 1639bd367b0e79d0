package form

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/errsheet/internal/report"
)

func waitPaste(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("HandlePastedImage did not complete")
		return nil
	}
}

func TestShowConfirmation(t *testing.T) {
	s := NewSync()
	st := NewState()

	s.ShowConfirmation(st)

	if st.Visible(ElementErrorForm) {
		t.Error("form should be hidden")
	}
	if !st.Visible(ElementConfirmation) {
		t.Error("confirmation should be visible")
	}
}

func TestResetForm(t *testing.T) {
	s := NewSync()
	st := NewState()
	st.Title = "broken"
	st.Type = "UI Bug"
	st.URL = "http://example.com"
	st.ShowError("boom")

	err := waitPaste(t, s.HandlePastedImage(context.Background(), st,
		report.FileHandle{Name: "image.png", ContentType: "image/png"}, strings.NewReader("png")))
	if err != nil {
		t.Fatalf("HandlePastedImage: %v", err)
	}
	s.ShowConfirmation(st)

	s.ResetForm(st)

	if st.Title != "" || st.Type != "" || st.URL != "" {
		t.Errorf("fields not cleared: %+v", st)
	}
	if st.Error() != "" {
		t.Errorf("error message not cleared: %q", st.Error())
	}
	if !st.Visible(ElementErrorForm) || st.Visible(ElementConfirmation) {
		t.Error("expected form visible and confirmation hidden")
	}
	if st.Visible(ElementPastedImage) || st.Preview() != "" {
		t.Error("pasted preview should be cleared")
	}
	if s.PastedImage() != nil {
		t.Error("pasted handle should be cleared")
	}
}

func TestHandlePastedImage_StoresHandleAndPreview(t *testing.T) {
	s := NewSync()
	st := NewState()

	err := waitPaste(t, s.HandlePastedImage(context.Background(), st,
		report.FileHandle{Name: "image.png", ContentType: "image/png"}, strings.NewReader("abc")))
	if err != nil {
		t.Fatalf("HandlePastedImage: %v", err)
	}

	h := s.PastedImage()
	if h == nil || h.Name != "image.png" {
		t.Fatalf("PastedImage() = %+v, want image.png", h)
	}
	if h.Size != 3 {
		t.Errorf("Size = %d, want 3", h.Size)
	}
	if st.Preview() != "data:image/png;base64,YWJj" {
		t.Errorf("Preview() = %q", st.Preview())
	}
	if !st.Visible(ElementPastedImage) {
		t.Error("pasted image container should be visible")
	}
}

func TestHandlePastedImage_RejectsNonImage(t *testing.T) {
	s := NewSync()
	st := NewState()

	err := waitPaste(t, s.HandlePastedImage(context.Background(), st,
		report.FileHandle{Name: "notes.txt", ContentType: "text/plain"}, strings.NewReader("hi")))
	if !errors.Is(err, ErrNotImage) {
		t.Fatalf("err = %v, want ErrNotImage", err)
	}
	if s.PastedImage() != nil {
		t.Error("non-image must not be stored")
	}
}

func TestRestore(t *testing.T) {
	s := NewSync()
	first := NewState()
	if err := waitPaste(t, s.HandlePastedImage(context.Background(), first,
		report.FileHandle{Name: "a.png", ContentType: "image/png"}, strings.NewReader("x"))); err != nil {
		t.Fatal(err)
	}

	fresh := NewState()
	s.Restore(fresh)
	if fresh.Preview() != first.Preview() || !fresh.Visible(ElementPastedImage) {
		t.Error("Restore should render the pending preview")
	}
}

func TestRead_PastedRemovedFallsBack(t *testing.T) {
	s := NewSync()
	st := NewState()
	st.Title = "Crash"
	st.Type = "Functional Error"
	st.Shot = &report.FileHandle{Name: "shot.jpg"}
	st.URL = "http://example.com/x"

	if err := waitPaste(t, s.HandlePastedImage(context.Background(), st,
		report.FileHandle{Name: "image.png", ContentType: "image/png"}, strings.NewReader("x"))); err != nil {
		t.Fatal(err)
	}

	_, src := Read(st, s.PastedImage())
	if got := src.Describe(); got != "Pasted Screenshot: image.png" {
		t.Fatalf("before removal: %q", got)
	}

	s.RemovePastedImage(st)
	_, src = Read(st, s.PastedImage())
	if got := src.Describe(); got != "Screenshot: shot.jpg" {
		t.Errorf("after removal with file: %q", got)
	}

	st.Shot = nil
	_, src = Read(st, s.PastedImage())
	if got := src.Describe(); got != "URL: http://example.com/x" {
		t.Errorf("after removal with url only: %q", got)
	}
}

func TestRead_Values(t *testing.T) {
	st := NewState()
	st.Title = "Login button broken"
	st.Type = "UI Bug"
	st.Desc = "nothing happens"

	values, src := Read(st, nil)
	if values.Title != "Login button broken" || values.ErrorType != "UI Bug" || values.Description != "nothing happens" {
		t.Errorf("values = %+v", values)
	}
	if src.Kind != report.EvidenceNone {
		t.Errorf("Kind = %v, want none", src.Kind)
	}
}

func TestSnapshot(t *testing.T) {
	st := NewState()
	st.Title = "broken"
	st.Type = "UI Bug"
	st.Desc = "steps"
	st.URL = "http://example.com"
	st.Shot = &report.FileHandle{Name: "shot.png"}
	st.SetVisible(ElementConfirmation, true)

	c := st.Snapshot()
	if c.Title != "broken" || c.Type != "UI Bug" || c.Desc != "steps" || c.URL != "http://example.com" {
		t.Errorf("fields not copied: %+v", c)
	}
	if h, ok := c.Screenshot(); !ok || h.Name != "shot.png" {
		t.Errorf("screenshot = %+v, %v", h, ok)
	}
	if !c.Visible(ElementErrorForm) || c.Visible(ElementConfirmation) {
		t.Error("snapshot should show the editable form")
	}

	c.ClearFields()
	c.SetVisible(ElementErrorForm, false)
	if st.Title != "broken" || st.Shot == nil || st.Shot.Name != "shot.png" {
		t.Error("changing the snapshot altered the original")
	}
}
