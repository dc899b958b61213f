// Package chaterr defines the error taxonomy surfaced to chat clients.
package chaterr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

type Kind string

const (
	KindAuth                Kind = "AUTH"
	KindDirectory           Kind = "DIRECTORY"
	KindConversationPersist Kind = "CONVERSATION_PERSIST"
	KindMessageStream       Kind = "MESSAGE_STREAM"
	KindSend                Kind = "SEND"
	KindInvalidParticipant  Kind = "INVALID_PARTICIPANT"
)

// Error carries a Kind so callers can pick the banner text and transport code.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same Kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Sentinels, one per kind. Message is empty so errors.Is matches on Kind alone.
var (
	ErrAuth                = &Error{Kind: KindAuth}
	ErrDirectory           = &Error{Kind: KindDirectory}
	ErrConversationPersist = &Error{Kind: KindConversationPersist}
	ErrMessageStream       = &Error{Kind: KindMessageStream}
	ErrSend                = &Error{Kind: KindSend}
	ErrInvalidParticipant  = &Error{Kind: KindInvalidParticipant}
)

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Auth(cause error) error {
	return Wrap(KindAuth, "sign-in failed", cause)
}

func Directory(cause error) error {
	return Wrap(KindDirectory, "loading users failed", cause)
}

func ConversationPersist(cause error) error {
	return Wrap(KindConversationPersist, "creating conversation failed", cause)
}

func MessageStream(cause error) error {
	return Wrap(KindMessageStream, "loading messages failed", cause)
}

func Send(cause error) error {
	return Wrap(KindSend, "sending message failed", cause)
}

func InvalidParticipant(message string) error {
	return New(KindInvalidParticipant, message)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

var notices = map[Kind]string{
	KindAuth:                "Failed to sign in. Please try again.",
	KindDirectory:           "Failed to load users. Please refresh the page.",
	KindConversationPersist: "Failed to create chat. Please try again.",
	KindMessageStream:       "Failed to load messages. Please try again.",
	KindSend:                "Failed to send message. Please try again.",
	KindInvalidParticipant:  "That user can't be messaged.",
}

// Notice returns the user-facing banner text for kind.
func Notice(kind Kind) string {
	if n, ok := notices[kind]; ok {
		return n
	}
	return "Something went wrong. Please try again."
}

// GRPCCode maps err to the status code a gRPC handler should return.
func GRPCCode(err error) codes.Code {
	kind, ok := KindOf(err)
	if !ok {
		return codes.Internal
	}
	switch kind {
	case KindAuth:
		return codes.Unauthenticated
	case KindInvalidParticipant:
		return codes.InvalidArgument
	case KindDirectory, KindConversationPersist, KindMessageStream, KindSend:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}
