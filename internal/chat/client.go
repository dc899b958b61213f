// Package chat runs the per-client state machine: identity, roster, the
// selected conversation, the composer and error notices.
//
// All state is owned by the goroutine running Client.Run. Store writes and
// sign-in run in their own goroutines and post their results back to it.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PaulBabatuyi/directchat/internal/chaterr"
	"github.com/PaulBabatuyi/directchat/internal/conversation"
	"github.com/PaulBabatuyi/directchat/internal/data"
	"github.com/PaulBabatuyi/directchat/internal/directory"
	"github.com/PaulBabatuyi/directchat/internal/events"
	"github.com/PaulBabatuyi/directchat/internal/identity"
	"github.com/PaulBabatuyi/directchat/internal/observability"
	"github.com/PaulBabatuyi/directchat/internal/stream"
)

// DefaultDismissAfter is how long a notice stays up.
const DefaultDismissAfter = 5 * time.Second

var ErrClosed = errors.New("chat client closed")

// Env holds the shared services every Client uses.
type Env struct {
	Provider     identity.Provider
	Sessions     identity.Sessions
	Users        *data.UsersStore
	Directory    *directory.Directory
	Resolver     *conversation.Resolver
	Stream       *stream.Service
	Publisher    events.Publisher
	DismissAfter time.Duration
	Logger       *slog.Logger
}

// NewClient returns a Client with its own identity adapter.
func (e *Env) NewClient() *Client {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dismiss := e.DismissAfter
	if dismiss <= 0 {
		dismiss = DefaultDismissAfter
	}
	c := &Client{
		env:          e,
		dismissAfter: dismiss,
		logger:       logger.With("component", "chat", "client_id", uuid.NewString()),
		ident: identity.NewAdapter(identity.Config{
			Provider:  e.Provider,
			Sessions:  e.Sessions,
			Users:     e.Users,
			Publisher: e.Publisher,
			Logger:    logger,
		}),
		cmds:       make(chan Command, 16),
		results:    make(chan any, 8),
		identities: make(chan *identity.Session, 1),
		views:      make(chan View, 1),
		done:       make(chan struct{}),
	}
	c.view.Phase = PhaseNoneSelected
	return c
}

type Client struct {
	env          *Env
	dismissAfter time.Duration
	logger       *slog.Logger
	ident        *identity.Adapter

	cmds       chan Command
	results    chan any
	identities chan *identity.Session
	identMu    sync.Mutex
	views      chan View
	done       chan struct{}
	runOnce    sync.Once

	// Owned by Run.
	view     View
	session  *identity.Session
	roster   *directory.Roster
	messages *stream.Messages
	gen      uint64
	timer    *time.Timer
}

type signInResult struct{ err error }

type resolveResult struct {
	gen uint64
	id  string
	err error
}

type sendResult struct {
	gen  uint64
	text string
	err  error
}

// Views delivers View snapshots. Delivery is conflated: a slow reader only
// sees the latest one.
func (c *Client) Views() <-chan View { return c.views }

// Done is closed when Run returns.
func (c *Client) Done() <-chan struct{} { return c.done }

// Do queues cmd for the loop.
func (c *Client) Do(ctx context.Context, cmd Command) error {
	select {
	case c.cmds <- cmd:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the client until ctx is cancelled. It must be called once.
func (c *Client) Run(ctx context.Context) error {
	ran := false
	c.runOnce.Do(func() { ran = true })
	if !ran {
		return errors.New("chat client already running")
	}
	defer close(c.done)

	unsubscribe := c.ident.OnIdentityChange(c.identityChanged)
	defer func() {
		unsubscribe()
		c.closeConversation()
		c.closeRoster()
		c.ident.SignOut()
		c.stopTimer()
	}()

	c.publish()
	for {
		var (
			rosterUpdates <-chan []data.User
			rosterDone    <-chan struct{}
			msgUpdates    <-chan []data.Message
			msgDone       <-chan struct{}
			expired       <-chan time.Time
		)
		if c.roster != nil {
			rosterUpdates, rosterDone = c.roster.Updates(), c.roster.Done()
		}
		if c.messages != nil {
			msgUpdates, msgDone = c.messages.Updates(), c.messages.Done()
		}
		if c.timer != nil {
			expired = c.timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.cmds:
			c.handle(ctx, cmd)
		case s := <-c.identities:
			c.setSession(ctx, s)
		case users := <-rosterUpdates:
			c.view.Roster = users
			c.view.RosterLoading = false
		case <-rosterDone:
			if err := c.roster.Err(); err != nil {
				c.logger.Error("roster subscription ended", "err", err)
				c.showNotice(chaterr.KindDirectory)
			}
			c.roster = nil
			c.view.Roster = nil
			c.view.RosterLoading = false
		case msgs := <-msgUpdates:
			c.view.Messages = msgs
			c.view.Phase = PhaseStreaming
		case <-msgDone:
			if err := c.messages.Err(); err != nil {
				c.logger.Error("message stream ended", "conversation_id", c.view.ConversationID, "err", err)
				c.view.Phase = PhaseFailed
				c.showNotice(chaterr.KindMessageStream)
			}
			c.messages = nil
		case r := <-c.results:
			c.apply(ctx, r)
		case <-expired:
			c.timer = nil
			c.view.Notice = nil
		}
		c.publish()
	}
}

func (c *Client) handle(ctx context.Context, cmd Command) {
	switch cmd := cmd.(type) {
	case SignIn:
		if c.view.Authenticating {
			return
		}
		c.view.Authenticating = true
		c.spawn(func() any {
			_, err := c.ident.SignIn(ctx, identity.Credential{IDToken: cmd.IDToken})
			return signInResult{err: err}
		})
	case Restore:
		if c.view.Authenticating {
			return
		}
		c.view.Authenticating = true
		c.spawn(func() any {
			_, err := c.ident.Restore(ctx, cmd.Token)
			return signInResult{err: err}
		})
	case SignOut:
		c.ident.SignOut()
		c.setSession(ctx, c.ident.Current())
	case SelectPeer:
		c.selectPeer(ctx, cmd.Email)
	case SetComposer:
		c.view.Composer = cmd.Text
	case Submit:
		c.submit(ctx)
	case DismissError:
		c.clearNotice()
	}
}

func (c *Client) apply(ctx context.Context, r any) {
	switch r := r.(type) {
	case signInResult:
		c.view.Authenticating = false
		if r.err != nil {
			c.showNotice(chaterr.KindAuth)
			return
		}
		c.setSession(ctx, c.ident.Current())
	case resolveResult:
		if r.gen != c.gen {
			return
		}
		if r.err != nil {
			kind, ok := chaterr.KindOf(r.err)
			if !ok {
				kind = chaterr.KindConversationPersist
			}
			c.view.Phase = PhaseFailed
			c.showNotice(kind)
			return
		}
		c.view.ConversationID = r.id
		feed, err := c.env.Stream.Open(ctx, r.id)
		if err != nil {
			c.view.Phase = PhaseFailed
			c.showNotice(chaterr.KindMessageStream)
			return
		}
		c.messages = feed
		c.logger.Debug("message stream opened", "conversation_id", r.id, "subscription_id", feed.SubscriptionID())
	case sendResult:
		// The conversation or session it was sent from is gone.
		if r.gen != c.gen {
			return
		}
		c.view.Sending = false
		if r.err != nil {
			c.view.Composer = r.text
			c.showNotice(chaterr.KindSend)
		}
	}
}

// spawn runs fn off the loop and posts its result back.
func (c *Client) spawn(fn func() any) {
	go func() {
		r := fn()
		select {
		case c.results <- r:
		case <-c.done:
		}
	}()
}

// identityChanged is the identity listener. It may run on any goroutine and
// keeps only the latest session for the loop.
func (c *Client) identityChanged(s *identity.Session) {
	c.identMu.Lock()
	defer c.identMu.Unlock()
	select {
	case <-c.identities:
	default:
	}
	c.identities <- s
}

func (c *Client) setSession(ctx context.Context, s *identity.Session) {
	if s == c.session {
		return
	}
	c.closeConversation()
	c.closeRoster()
	c.view.Peer = ""
	c.view.Phase = PhaseNoneSelected
	c.view.Composer = ""
	c.view.Sending = false

	c.session = s
	if s == nil {
		c.view.SignedIn = false
		c.view.Identity = identity.Identity{}
		c.view.SessionToken = ""
		return
	}
	c.view.SignedIn = true
	c.view.Identity = s.Identity()
	c.view.SessionToken = s.Token()

	roster, err := c.env.Directory.Subscribe(ctx, s.Identity().Email)
	if err != nil {
		c.showNotice(chaterr.KindDirectory)
		return
	}
	c.roster = roster
	c.view.RosterLoading = true
	c.logger.Debug("roster opened", "subscription_id", roster.SubscriptionID())
}

func (c *Client) selectPeer(ctx context.Context, email string) {
	if c.session == nil {
		return
	}
	c.closeConversation()
	c.clearNotice()
	c.view.Peer = email
	c.view.Phase = PhaseLoading

	gen := c.gen
	me := c.session.Identity().Email
	c.spawn(func() any {
		id, err := c.env.Resolver.Resolve(ctx, me, email)
		return resolveResult{gen: gen, id: id, err: err}
	})
}

// closeConversation cancels the message stream and invalidates any resolve
// or send still in flight.
func (c *Client) closeConversation() {
	c.gen++
	if c.messages != nil {
		c.logger.Debug("message stream closed", "conversation_id", c.view.ConversationID, "subscription_id", c.messages.SubscriptionID())
		c.messages.Cancel()
		c.messages = nil
	}
	c.view.ConversationID = ""
	c.view.Messages = nil
	c.view.Sending = false
}

func (c *Client) closeRoster() {
	if c.roster != nil {
		c.logger.Debug("roster closed", "subscription_id", c.roster.SubscriptionID())
		c.roster.Cancel()
		c.roster = nil
	}
	c.view.Roster = nil
	c.view.RosterLoading = false
}

func (c *Client) submit(ctx context.Context) {
	text := c.view.Composer
	if strings.TrimSpace(text) == "" || c.session == nil || c.view.ConversationID == "" || c.view.Sending {
		return
	}
	c.view.Composer = ""
	c.view.Sending = true
	c.clearNotice()

	gen := c.gen
	convID := c.view.ConversationID
	sender := c.session.Identity()
	c.spawn(func() any {
		_, err := c.env.Stream.Send(ctx, convID, sender, text)
		return sendResult{gen: gen, text: text, err: err}
	})
}

func (c *Client) showNotice(kind chaterr.Kind) {
	c.stopTimer()
	c.view.Notice = &Notice{ID: uuid.NewString(), Kind: kind, Text: chaterr.Notice(kind)}
	c.timer = time.NewTimer(c.dismissAfter)
	observability.IncError(string(kind))
}

func (c *Client) clearNotice() {
	c.stopTimer()
	c.view.Notice = nil
}

func (c *Client) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) publish() {
	v := c.view
	select {
	case <-c.views:
	default:
	}
	c.views <- v
}
