package form

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/kalambet/errsheet/internal/report"
)

// MaxPastedImageSize caps how much of a pasted image is read for the preview.
const MaxPastedImageSize = 10 << 20 // 10MB

// ErrNotImage is returned for pasted content that is not an image.
var ErrNotImage = errors.New("pasted content is not an image")

// Sync moves a view between the editable form and the confirmation panel
// and owns the single pending pasted image.
type Sync struct {
	mu      sync.Mutex
	pasted  *report.FileHandle
	preview string
	logger  *slog.Logger
}

func NewSync() *Sync {
	return &Sync{logger: slog.Default()}
}

// ShowConfirmation hides the form and reveals the confirmation panel.
func (s *Sync) ShowConfirmation(b Binding) {
	b.SetVisible(ElementErrorForm, false)
	b.SetVisible(ElementConfirmation, true)
}

// ResetForm clears the fields and any pasted image, then shows the form again.
func (s *Sync) ResetForm(b Binding) {
	b.ClearFields()
	s.RemovePastedImage(b)
	b.SetVisible(ElementErrorForm, true)
	b.SetVisible(ElementConfirmation, false)
}

// HandlePastedImage reads r in the background. When the read completes the
// preview is rendered into b and h becomes the pending pasted image.
// The returned channel receives exactly one value.
func (s *Sync) HandlePastedImage(ctx context.Context, b Binding, h report.FileHandle, r io.Reader) <-chan error {
	done := make(chan error, 1)

	if !strings.HasPrefix(h.ContentType, "image/") {
		done <- fmt.Errorf("%w: %q", ErrNotImage, h.ContentType)
		return done
	}

	go func() {
		data, err := io.ReadAll(io.LimitReader(r, MaxPastedImageSize+1))
		if err != nil {
			done <- fmt.Errorf("reading pasted image: %w", err)
			return
		}
		if len(data) > MaxPastedImageSize {
			done <- fmt.Errorf("pasted image exceeds %d bytes", MaxPastedImageSize)
			return
		}
		if ctx.Err() != nil {
			done <- ctx.Err()
			return
		}

		dataURL := "data:" + h.ContentType + ";base64," + base64.StdEncoding.EncodeToString(data)
		if h.Size == 0 {
			h.Size = int64(len(data))
		}

		s.mu.Lock()
		s.pasted = &h
		s.preview = dataURL
		s.mu.Unlock()

		b.SetPreview(dataURL)
		b.SetVisible(ElementPastedImage, true)
		s.logger.Debug("pasted image stored", "name", h.Name, "bytes", len(data))
		done <- nil
	}()

	return done
}

// RemovePastedImage clears the pending pasted image and hides its preview.
func (s *Sync) RemovePastedImage(b Binding) {
	s.mu.Lock()
	s.pasted = nil
	s.preview = ""
	s.mu.Unlock()

	b.SetPreview("")
	b.SetVisible(ElementPastedImage, false)
}

// PastedImage returns a copy of the pending pasted image handle, or nil.
func (s *Sync) PastedImage() *report.FileHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pasted == nil {
		return nil
	}
	h := *s.pasted
	return &h
}

// Restore renders the pending pasted image, if any, into a fresh view.
func (s *Sync) Restore(b Binding) {
	s.mu.Lock()
	preview := s.preview
	s.mu.Unlock()

	if preview == "" {
		return
	}
	b.SetPreview(preview)
	b.SetVisible(ElementPastedImage, true)
}
