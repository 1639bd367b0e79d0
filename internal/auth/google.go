package auth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/sheets/v4"
)

const pendingSignInTTL = 10 * time.Minute

// Opener presents the consent URL to the user, e.g. by printing it or
// launching a browser.
type Opener func(ctx context.Context, authURL string) error

// GoogleConfig configures the Google OAuth2 provider.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint defaults to Google's OAuth2 endpoint.
	Endpoint oauth2.Endpoint
	// Scopes defaults to read/write access to spreadsheets.
	Scopes []string
	// HTTPClient is used for code exchange and token refresh when set.
	HTTPClient *http.Client
}

type pendingSignIn struct {
	verifier string
	created  time.Time
	done     chan error
}

// GoogleProvider implements SignInProvider with the OAuth2 authorization
// code flow (PKCE, offline access). The consent redirect must reach
// CallbackHandler. It also serves as the oauth2.TokenSource for API calls.
type GoogleProvider struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	tokens     TokenStore
	open       Opener
	logger     *slog.Logger

	mu        sync.Mutex
	token     *oauth2.Token
	pending   map[string]*pendingSignIn
	listeners []func(bool)
}

// NewGoogleProvider restores any saved token from tokens. open may be nil,
// in which case SignIn fails and sign-in must be started through the
// browser (StartSignIn).
func NewGoogleProvider(cfg GoogleConfig, tokens TokenStore, open Opener) (*GoogleProvider, error) {
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = google.Endpoint
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{sheets.SpreadsheetsScope}
	}

	tok, err := tokens.Load()
	if err != nil {
		return nil, err
	}

	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		httpClient: cfg.HTTPClient,
		tokens:     tokens,
		open:       open,
		logger:     slog.Default(),
		token:      tok,
		pending:    make(map[string]*pendingSignIn),
	}, nil
}

func (p *GoogleProvider) IsSignedIn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token != nil && (p.token.Valid() || p.token.RefreshToken != "")
}

func (p *GoogleProvider) OnSignInChange(fn func(signedIn bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *GoogleProvider) notify(signedIn bool) {
	p.mu.Lock()
	listeners := append([]func(bool){}, p.listeners...)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(signedIn)
	}
}

func (p *GoogleProvider) ctx(ctx context.Context) context.Context {
	if p.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	return ctx
}

// StartSignIn registers a new pending flow and returns its consent URL.
// The channel receives the outcome once the callback arrives.
func (p *GoogleProvider) StartSignIn() (string, <-chan error) {
	_, authURL, done := p.startSignIn()
	return authURL, done
}

func (p *GoogleProvider) startSignIn() (string, string, <-chan error) {
	state := uuid.New().String()
	pend := &pendingSignIn{
		verifier: oauth2.GenerateVerifier(),
		created:  time.Now(),
		done:     make(chan error, 1),
	}

	p.mu.Lock()
	for s, old := range p.pending {
		if time.Since(old.created) > pendingSignInTTL {
			delete(p.pending, s)
		}
	}
	p.pending[state] = pend
	p.mu.Unlock()

	authURL := p.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(pend.verifier),
	)
	return state, authURL, pend.done
}

func (p *GoogleProvider) take(state string) *pendingSignIn {
	p.mu.Lock()
	defer p.mu.Unlock()
	pend, ok := p.pending[state]
	if !ok {
		return nil
	}
	delete(p.pending, state)
	if time.Since(pend.created) > pendingSignInTTL {
		return nil
	}
	return pend
}

func (p *GoogleProvider) forget(state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, state)
}

// SignIn presents the consent URL through the Opener and waits until the
// callback completes or ctx is done.
func (p *GoogleProvider) SignIn(ctx context.Context) error {
	if p.open == nil {
		return errors.New("interactive sign-in is not available; open /auth/signin in a browser")
	}

	state, authURL, done := p.startSignIn()

	if err := p.open(ctx, authURL); err != nil {
		p.forget(state)
		return fmt.Errorf("presenting sign-in URL: %w", err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.forget(state)
		return fmt.Errorf("waiting for sign-in: %w", ctx.Err())
	}
}

// SignOut forgets the stored token.
func (p *GoogleProvider) SignOut() error {
	p.mu.Lock()
	p.token = nil
	p.mu.Unlock()

	if err := p.tokens.Delete(); err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	p.notify(false)
	return nil
}

func (p *GoogleProvider) setToken(tok *oauth2.Token) error {
	p.mu.Lock()
	p.token = tok
	p.mu.Unlock()

	if err := p.tokens.Save(tok); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

// Token returns a valid access token, refreshing and persisting it when needed.
func (p *GoogleProvider) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	current := p.token
	p.mu.Unlock()

	if current == nil {
		return nil, ErrNotSignedIn
	}
	if current.Valid() {
		return current, nil
	}

	fresh, err := p.oauth.TokenSource(p.ctx(context.Background()), current).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			p.logger.Warn("refresh token rejected, signing out", "error", err)
			if signOutErr := p.SignOut(); signOutErr != nil {
				p.logger.Error("failed to clear rejected token", "error", signOutErr)
			}
			return nil, fmt.Errorf("%w: %v", ErrNotSignedIn, err)
		}
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	if fresh.AccessToken != current.AccessToken {
		if err := p.setToken(fresh); err != nil {
			p.logger.Warn("could not persist refreshed token", "error", err)
		}
	}
	return fresh, nil
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Sign-in</title></head>
<body><p>{{.}}</p></body></html>
`))

// CallbackHandler completes the flow started by StartSignIn. On success it
// redirects to next, or renders a short notice when next is empty.
func (p *GoogleProvider) CallbackHandler(next string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		pend := p.take(q.Get("state"))
		if pend == nil {
			w.WriteHeader(http.StatusBadRequest)
			callbackPage.Execute(w, "Unknown or expired sign-in request. Please try again.")
			return
		}

		if e := q.Get("error"); e != "" {
			pend.done <- fmt.Errorf("provider returned %q", e)
			w.WriteHeader(http.StatusForbidden)
			callbackPage.Execute(w, "Sign-in was cancelled. Please try again.")
			return
		}

		code := q.Get("code")
		if code == "" {
			pend.done <- errors.New("callback is missing the authorization code")
			w.WriteHeader(http.StatusBadRequest)
			callbackPage.Execute(w, "Failed to sign in. Please try again.")
			return
		}

		tok, err := p.oauth.Exchange(p.ctx(r.Context()), code, oauth2.VerifierOption(pend.verifier))
		if err != nil {
			p.logger.Error("exchanging authorization code", "error", err)
			pend.done <- fmt.Errorf("exchanging authorization code: %w", err)
			w.WriteHeader(http.StatusBadGateway)
			callbackPage.Execute(w, "Failed to sign in. Please try again.")
			return
		}

		if err := p.setToken(tok); err != nil {
			p.logger.Warn("signed in but token was not persisted", "error", err)
		}
		p.notify(true)
		pend.done <- nil

		if next != "" {
			http.Redirect(w, r, next, http.StatusFound)
			return
		}
		callbackPage.Execute(w, "Signed in. You can close this window.")
	})
}
