package chat

import (
	"github.com/PaulBabatuyi/directchat/internal/chaterr"
	"github.com/PaulBabatuyi/directchat/internal/data"
	"github.com/PaulBabatuyi/directchat/internal/identity"
)

// Phase is the state of the selected conversation.
type Phase string

const (
	PhaseNoneSelected Phase = "none_selected"
	PhaseLoading      Phase = "loading"
	PhaseStreaming    Phase = "streaming"
	PhaseFailed       Phase = "failed"
)

// Notice is a transient error banner. A new notice replaces the current one.
type Notice struct {
	ID   string
	Kind chaterr.Kind
	Text string
}

// View is a snapshot of everything a client renders.
type View struct {
	SignedIn       bool
	Authenticating bool
	Identity       identity.Identity
	SessionToken   string

	Roster        []data.User
	RosterLoading bool

	Peer           string
	Phase          Phase
	ConversationID string
	Messages       []data.Message

	Composer string
	Sending  bool

	Notice *Notice
}

// Command is an input to a Client.
type Command interface {
	command()
}

// SignIn runs the identity provider flow with an ID token.
type SignIn struct{ IDToken string }

// Restore resumes a session from a token issued by an earlier sign-in.
type Restore struct{ Token string }

type SignOut struct{}

// SelectPeer opens the conversation with the user whose email is Email,
// replacing any open one.
type SelectPeer struct{ Email string }

type SetComposer struct{ Text string }

// Submit sends the composer text to the open conversation.
type Submit struct{}

type DismissError struct{}

func (SignIn) command()       {}
func (Restore) command()      {}
func (SignOut) command()      {}
func (SelectPeer) command()   {}
func (SetComposer) command()  {}
func (Submit) command()       {}
func (DismissError) command() {}
