package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/errsheet/internal/form"
	"github.com/kalambet/errsheet/internal/storage"
	"github.com/kalambet/errsheet/internal/workflow"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Session reports whether a signed-in session exists.
type Session interface {
	SignedIn() bool
}

// SignInFlow is the browser side of the OAuth consent flow.
type SignInFlow interface {
	StartSignIn() (string, <-chan error)
	CallbackHandler(next string) http.Handler
	SignOut() error
}

// View pairs a workflow with the sync that owns its pasted-image slot.
type View struct {
	Workflow *workflow.Workflow
	Sync     *form.Sync
}

// Deps wires the handlers. Page backs the browser form. Direct serves the
// JSON submit endpoint and the MCP tool; each of those submissions runs on
// its own copy of Direct with a private pasted-image slot.
type Deps struct {
	Page    View
	Direct  *workflow.Workflow
	Session Session
	Auth    SignInFlow
	Store   *storage.Store
	Token   string
}

// NewHandler returns the full HTTP surface: the report page and its form
// endpoints, the sign-in endpoints, /health, and the bearer-protected
// JSON API under /api.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Get("/auth/signin", handleSignIn(deps.Auth))
	r.Method(http.MethodGet, "/auth/callback", deps.Auth.CallbackHandler("/"))

	p := newPage(deps)
	r.Get("/", p.handleIndex)
	r.Post("/submit", p.handleSubmit)
	r.Post("/reset", p.handleReset)
	r.Post("/paste", p.handlePaste)
	r.Post("/paste/remove", p.handleRemovePaste)

	r.Mount("/api", NewAppHandler(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleSignIn(flow SignInFlow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, done := flow.StartSignIn()
		go waitSignIn(done)
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// signInWait matches how long a pending consent request stays valid.
const signInWait = 10 * time.Minute

func waitSignIn(done <-chan error) {
	select {
	case err := <-done:
		if err != nil {
			slog.Warn("sign-in did not complete", "error", err)
		}
	case <-time.After(signInWait):
		slog.Debug("sign-in request expired")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
