package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrSignInFailed is returned when the interactive sign-in is rejected,
	// cancelled or does not complete.
	ErrSignInFailed = errors.New("sign-in failed")

	// ErrNotSignedIn is returned when a token is requested without a session.
	ErrNotSignedIn = errors.New("not signed in")
)

// SignInProvider is the sign-in capability the gate wraps.
type SignInProvider interface {
	IsSignedIn() bool
	SignIn(ctx context.Context) error
	OnSignInChange(fn func(signedIn bool))
}

// Gate keeps the session state for consumers and makes sure a session
// exists before a remote call proceeds.
type Gate struct {
	provider SignInProvider
	group    singleflight.Group
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	signedIn bool
}

// NewGate subscribes to provider's session changes and records the
// current state.
func NewGate(provider SignInProvider) *Gate {
	g := &Gate{
		provider: provider,
		logger:   slog.Default(),
	}
	provider.OnSignInChange(g.update)
	g.update(provider.IsSignedIn())
	return g
}

func (g *Gate) update(signedIn bool) {
	g.mu.Lock()
	changed := g.signedIn != signedIn
	g.signedIn = signedIn
	g.mu.Unlock()

	if changed {
		if signedIn {
			g.logger.Info("user is signed in")
		} else {
			g.logger.Info("user is not signed in")
		}
	}
}

// SetSignInTimeout bounds how long EnsureSignedIn waits for the
// interactive flow. Zero means it waits until ctx is done.
func (g *Gate) SetSignInTimeout(d time.Duration) {
	g.timeout = d
}

// SignedIn returns the current session state.
func (g *Gate) SignedIn() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.signedIn
}

// EnsureSignedIn returns immediately when a session exists. Otherwise it runs
// the provider's interactive sign-in and waits for it. Concurrent callers
// share one interactive flow.
func (g *Gate) EnsureSignedIn(ctx context.Context) (bool, error) {
	if g.SignedIn() {
		return true, nil
	}

	_, err, _ := g.group.Do("signin", func() (any, error) {
		signInCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			signInCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		g.logger.Info("starting interactive sign-in")
		return nil, g.provider.SignIn(signInCtx)
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrSignInFailed, err)
	}

	// The provider's change notification normally flips the state; fall back
	// to asking it directly for providers that notify asynchronously.
	if !g.SignedIn() {
		if !g.provider.IsSignedIn() {
			return false, fmt.Errorf("%w: provider reported no session after sign-in", ErrSignInFailed)
		}
		g.update(true)
	}
	return true, nil
}
