package data

import (
	"strings"
	"time"

	"github.com/PaulBabatuyi/directchat/internal/normalize"
)

// Collection names and document field names as stored.
const (
	UsersCollection    = "users"
	ChatsCollection    = "chats"
	MessagesCollection = "messages"

	fieldUID      = "uid"
	fieldEmail    = "email"
	fieldName     = "name"
	fieldPhotoURL = "photoURL"
	fieldLastSeen = "lastSeen"

	fieldParticipants = "participants"
	fieldUpdatedAt    = "updatedAt"

	fieldText      = "text"
	fieldSender    = "sender"
	fieldTimestamp = "timestamp"
	fieldUserID    = "userId"
)

// User maps to users/{uid}
type User struct {
	ID          string
	Email       string
	DisplayName string
	AvatarURL   string
	LastSeen    time.Time
}

// Label is what a roster shows for the user.
func (u User) Label() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// Conversation maps to chats/{id}
type Conversation struct {
	ID                string
	ParticipantEmails []string
	LastActivityAt    time.Time
}

// HasParticipant reports whether email is one of the two participants.
// Emails must match exactly unless foldCase is set.
func (c Conversation) HasParticipant(email string, foldCase bool) bool {
	for _, p := range c.ParticipantEmails {
		if p == email || (foldCase && normalize.SameEmail(p, email)) {
			return true
		}
	}
	return false
}

// Message maps to chats/{id}/messages/{msgId}
type Message struct {
	ID             string
	ConversationID string
	Text           string
	SenderEmail    string
	AuthorUserID   string
	CreatedAt      time.Time
}

// SenderLabel is the local part of the sender's email.
func (m Message) SenderLabel() string {
	local, _, _ := strings.Cut(m.SenderEmail, "@")
	return local
}
