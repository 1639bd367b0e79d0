package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/errsheet/internal/auth"
	"github.com/kalambet/errsheet/internal/form"
	"github.com/kalambet/errsheet/internal/report"
	"github.com/kalambet/errsheet/internal/storage"
	"github.com/kalambet/errsheet/internal/workflow"
)

// SubmitRequest is the JSON form of the report form.
type SubmitRequest struct {
	Title       string        `json:"title"`
	ErrorType   string        `json:"error_type"`
	Description string        `json:"description"`
	Screenshot  string        `json:"screenshot"`
	EvidenceURL string        `json:"evidence_url"`
	PastedImage *PastedUpload `json:"pasted_image,omitempty"`
}

// PastedUpload carries a clipboard image. Data is base64.
type PastedUpload struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}

// SubmitResponse reports a confirmed submission.
type SubmitResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdatedRange string `json:"updated_range,omitempty"`
}

// NewAppHandler returns the bearer-protected JSON API.
func NewAppHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Get("/session", handleGetSession(deps))
	r.Post("/session/signin", handleStartSignIn(deps))
	r.Delete("/session", handleSignOut(deps))
	r.Post("/submit", handleAPISubmit(deps))
	r.Get("/submissions", handleListSubmissions(deps))
	r.Get("/submissions/counts", handleCountSubmissions(deps))
	r.Get("/submissions/{id}", handleGetSubmission(deps))

	return r
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"signed_in": deps.Session.SignedIn()})
	}
}

func handleStartSignIn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Session.SignedIn() {
			writeJSON(w, http.StatusOK, map[string]any{"signed_in": true})
			return
		}
		authURL, done := deps.Auth.StartSignIn()
		go waitSignIn(done)
		writeJSON(w, http.StatusOK, map[string]any{"signed_in": false, "auth_url": authURL})
	}
}

func handleSignOut(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Auth.SignOut(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to sign out: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"signed_in": false})
	}
}

func handleAPISubmit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxPasteSize*2)
		defer r.Body.Close()

		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		out, err := submit(r.Context(), deps.Direct, req)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeOutcome(w, out)
	}
}

// submit runs req on a fresh State through a copy of wf that owns its
// pasted-image slot, so concurrent submissions never see each other's paste.
func submit(ctx context.Context, wf *workflow.Workflow, req SubmitRequest) (workflow.Outcome, error) {
	views := form.NewSync()
	s := form.NewState()
	s.Title = req.Title
	s.Type = req.ErrorType
	s.Desc = req.Description
	s.URL = req.EvidenceURL
	if req.Screenshot != "" {
		s.Shot = &report.FileHandle{Name: req.Screenshot}
	}

	if req.PastedImage != nil {
		data, err := base64.StdEncoding.DecodeString(req.PastedImage.Data)
		if err != nil {
			return workflow.Outcome{}, errors.New("pasted_image.data is not valid base64")
		}
		name := req.PastedImage.Name
		if name == "" {
			name = "image.png"
		}
		h := report.FileHandle{Name: name, ContentType: req.PastedImage.ContentType, Size: int64(len(data))}
		if err := <-views.HandlePastedImage(ctx, s, h, bytes.NewReader(data)); err != nil {
			return workflow.Outcome{}, err
		}
	}

	return wf.With(views).HandleSubmit(ctx, s), nil
}

func writeOutcome(w http.ResponseWriter, out workflow.Outcome) {
	switch {
	case out.Err == nil:
		writeJSON(w, http.StatusOK, SubmitResponse{
			ID:           out.ID,
			Status:       storage.StatusAppended,
			UpdatedRange: out.UpdatedRange,
		})
	case errors.Is(out.Err, workflow.ErrMissingField):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", out.Message())
	case errors.Is(out.Err, auth.ErrSignInFailed):
		httpError(w, http.StatusUnauthorized, "authentication_error", "%s (submission %s)", out.Message(), out.ID)
	default:
		httpError(w, http.StatusBadGateway, "api_error", "%s (submission %s)", out.Message(), out.ID)
	}
}

func handleListSubmissions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		subs, err := deps.Store.ListSubmissions(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list submissions: %v", err)
			return
		}
		if subs == nil {
			subs = []storage.Submission{}
		}
		writeJSON(w, http.StatusOK, subs)
	}
}

func handleCountSubmissions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.CountSubmissions()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count submissions: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

func handleGetSubmission(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		sub, err := deps.Store.GetSubmission(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "submission not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get submission: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}
