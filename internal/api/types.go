// Package api defines the DirectChat wire types and gRPC service.
package api

import (
	"fmt"
	"time"

	"github.com/PaulBabatuyi/directchat/internal/chat"
	"github.com/PaulBabatuyi/directchat/internal/chaterr"
	"github.com/PaulBabatuyi/directchat/internal/data"
)

type SignInRequest struct {
	IDToken string `json:"id_token"`
}

type SignInResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

type ResolveRequest struct {
	PeerEmail string `json:"peer_email"`
}

type ResolveResponse struct {
	ConversationID string `json:"conversation_id"`
}

type SendRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// SendResponse has Skipped set when the text was blank and nothing was written.
type SendResponse struct {
	MessageID string `json:"message_id,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
}

type WatchUsersRequest struct{}

type UsersSnapshot struct {
	Users []User `json:"users"`
}

type WatchMessagesRequest struct {
	ConversationID string `json:"conversation_id"`
}

type MessagesSnapshot struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Label       string    `json:"label"`
	LastSeen    time.Time `json:"last_seen,omitzero"`
}

type Message struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	SenderEmail  string    `json:"sender_email"`
	SenderLabel  string    `json:"sender_label"`
	AuthorUserID string    `json:"author_user_id"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
}

// Command types accepted by Session and the WebSocket gateway.
const (
	CmdSignIn       = "sign_in"
	CmdRestore      = "restore"
	CmdSignOut      = "sign_out"
	CmdSelectPeer   = "select_peer"
	CmdSetComposer  = "set_composer"
	CmdSubmit       = "submit"
	CmdDismissError = "dismiss_error"
)

type Command struct {
	Type    string `json:"type"`
	IDToken string `json:"id_token,omitempty"`
	Token   string `json:"token,omitempty"`
	Email   string `json:"email,omitempty"`
	Text    string `json:"text,omitempty"`
}

// ToChat converts c to the client command it names.
func (c *Command) ToChat() (chat.Command, error) {
	switch c.Type {
	case CmdSignIn:
		return chat.SignIn{IDToken: c.IDToken}, nil
	case CmdRestore:
		return chat.Restore{Token: c.Token}, nil
	case CmdSignOut:
		return chat.SignOut{}, nil
	case CmdSelectPeer:
		return chat.SelectPeer{Email: c.Email}, nil
	case CmdSetComposer:
		return chat.SetComposer{Text: c.Text}, nil
	case CmdSubmit:
		return chat.Submit{}, nil
	case CmdDismissError:
		return chat.DismissError{}, nil
	default:
		return nil, fmt.Errorf("unknown command type %q", c.Type)
	}
}

type Notice struct {
	ID   string       `json:"id"`
	Kind chaterr.Kind `json:"kind"`
	Text string       `json:"text"`
}

type View struct {
	SignedIn       bool      `json:"signed_in"`
	Authenticating bool      `json:"authenticating"`
	User           *User     `json:"user,omitempty"`
	SessionToken   string    `json:"session_token,omitempty"`
	Roster         []User    `json:"roster"`
	RosterLoading  bool      `json:"roster_loading"`
	Peer           string    `json:"peer,omitempty"`
	Phase          string    `json:"phase"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Messages       []Message `json:"messages"`
	Composer       string    `json:"composer"`
	Sending        bool      `json:"sending"`
	Notice         *Notice   `json:"notice,omitempty"`
}

func FromUser(u data.User) User {
	return User{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Label:       u.Label(),
		LastSeen:    u.LastSeen,
	}
}

func FromUsers(users []data.User) []User {
	out := make([]User, 0, len(users))
	for _, u := range users {
		out = append(out, FromUser(u))
	}
	return out
}

func FromMessages(msgs []data.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Message{
			ID:           m.ID,
			Text:         m.Text,
			SenderEmail:  m.SenderEmail,
			SenderLabel:  m.SenderLabel(),
			AuthorUserID: m.AuthorUserID,
			CreatedAt:    m.CreatedAt,
		})
	}
	return out
}

// FromView converts a client view for the wire.
func FromView(v chat.View) *View {
	out := &View{
		SignedIn:       v.SignedIn,
		Authenticating: v.Authenticating,
		SessionToken:   v.SessionToken,
		Roster:         FromUsers(v.Roster),
		RosterLoading:  v.RosterLoading,
		Peer:           v.Peer,
		Phase:          string(v.Phase),
		ConversationID: v.ConversationID,
		Messages:       FromMessages(v.Messages),
		Composer:       v.Composer,
		Sending:        v.Sending,
	}
	if v.SignedIn {
		out.User = &User{
			ID:          v.Identity.UID,
			Email:       v.Identity.Email,
			DisplayName: v.Identity.DisplayName,
			AvatarURL:   v.Identity.AvatarURL,
			Label:       data.User{Email: v.Identity.Email, DisplayName: v.Identity.DisplayName}.Label(),
		}
	}
	if v.Notice != nil {
		out.Notice = &Notice{ID: v.Notice.ID, Kind: v.Notice.Kind, Text: v.Notice.Text}
	}
	return out
}
