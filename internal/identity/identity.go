// Package identity adapts an external identity provider to the chat core.
//
// An Adapter belongs to one client. It establishes a Session on sign-in or
// when an earlier session token is presented, records the user in the
// directory, and tells listeners whenever the current identity changes.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/PaulBabatuyi/directchat/internal/chaterr"
	"github.com/PaulBabatuyi/directchat/internal/data"
	"github.com/PaulBabatuyi/directchat/internal/events"
	"github.com/PaulBabatuyi/directchat/internal/observability"
)

// Identity is who the provider says the user is.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Credential is what the client obtained from the provider's interactive
// flow, e.g. an OpenID Connect ID token.
type Credential struct {
	IDToken string
}

// Provider is the external identity capability.
type Provider interface {
	BeginInteractiveSignIn(ctx context.Context, cred Credential) (Identity, error)
}

// Sessions issues and checks the tokens that let a client resume a session.
type Sessions interface {
	IssueSession(id Identity) (string, time.Time, error)
	VerifySession(token string) (Identity, time.Time, error)
}

// Session is acquired at sign-in and released at sign-out.
type Session struct {
	identity  Identity
	token     string
	expiresAt time.Time
	done      chan struct{}
	once      sync.Once
}

func (s *Session) Identity() Identity { return s.identity }

func (s *Session) Token() string { return s.token }

func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

// Done is closed when the session is released.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) release() {
	s.once.Do(func() { close(s.done) })
}

type Config struct {
	Provider  Provider
	Sessions  Sessions
	Users     *data.UsersStore
	Publisher events.Publisher
	Logger    *slog.Logger
}

type Adapter struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	current   *Session
	listeners map[int64]func(*Session)
	nextID    int64
}

func NewAdapter(cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:       cfg,
		logger:    logger.With("component", "identity"),
		listeners: make(map[int64]func(*Session)),
	}
}

// SignIn runs the provider flow and establishes a session. Failures are
// returned as chaterr AuthErrors and leave the current session untouched.
func (a *Adapter) SignIn(ctx context.Context, cred Credential) (sess *Session, err error) {
	ctx, span := observability.StartSpan(ctx, "directchat/identity", "identity.sign_in")
	defer func() { observability.EndSpan(span, err) }()

	if a.cfg.Provider == nil {
		return nil, chaterr.Auth(errors.New("no identity provider configured"))
	}
	id, err := a.cfg.Provider.BeginInteractiveSignIn(ctx, cred)
	if err != nil {
		a.logger.Warn("sign-in failed", "err", err)
		return nil, chaterr.Auth(err)
	}
	span.SetAttributes(attribute.String("user.id", id.UID))
	return a.establish(ctx, id, "", time.Time{})
}

// Restore resumes a session from a token issued by an earlier sign-in.
func (a *Adapter) Restore(ctx context.Context, token string) (*Session, error) {
	if a.cfg.Sessions == nil {
		return nil, chaterr.Auth(errors.New("sessions are not configured"))
	}
	id, expiresAt, err := a.cfg.Sessions.VerifySession(token)
	if err != nil {
		a.logger.Info("session restore rejected", "err", err)
		return nil, chaterr.Auth(err)
	}
	return a.establish(ctx, id, token, expiresAt)
}

func (a *Adapter) establish(ctx context.Context, id Identity, token string, expiresAt time.Time) (*Session, error) {
	if id.UID == "" || id.Email == "" {
		return nil, chaterr.Auth(errors.New("identity is missing uid or email"))
	}

	// The user record is best effort: the session stands even if it fails.
	if a.cfg.Users != nil {
		err := a.cfg.Users.Upsert(ctx, data.User{
			ID:          id.UID,
			Email:       id.Email,
			DisplayName: id.DisplayName,
			AvatarURL:   id.AvatarURL,
		})
		if err != nil {
			a.logger.Error("failed to record user", "uid", id.UID, "err", err)
		}
	}

	if token == "" && a.cfg.Sessions != nil {
		var err error
		token, expiresAt, err = a.cfg.Sessions.IssueSession(id)
		if err != nil {
			return nil, chaterr.Auth(err)
		}
	}

	sess := &Session{identity: id, token: token, expiresAt: expiresAt, done: make(chan struct{})}
	a.setCurrent(sess)

	events.Emit(ctx, a.cfg.Publisher, a.logger, events.UserSignedIn, map[string]string{
		"uid":   id.UID,
		"email": id.Email,
	})
	a.logger.Info("signed in", "uid", id.UID)
	return sess, nil
}

// SignOut releases the current session, if any.
func (a *Adapter) SignOut() {
	a.setCurrent(nil)
}

// Current returns the active session or nil.
func (a *Adapter) Current() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Adapter) setCurrent(s *Session) {
	a.mu.Lock()
	old := a.current
	if old == nil && s == nil {
		a.mu.Unlock()
		return
	}
	a.current = s
	fns := make([]func(*Session), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	if old != nil {
		old.release()
	}
	for _, fn := range fns {
		fn(s)
	}
}

// OnIdentityChange registers fn and calls it right away with the current
// session (nil when signed out). fn must not block. The returned
// unsubscribe is idempotent.
func (a *Adapter) OnIdentityChange(fn func(*Session)) (unsubscribe func()) {
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.listeners[id] = fn
	cur := a.current
	a.mu.Unlock()

	fn(cur)

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.listeners, id)
			a.mu.Unlock()
		})
	}
}
