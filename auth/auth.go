package auth

import (
	"context"

	"github.com/mqy/bulletchat/chat"
)

const (
	CapSendMessage    = "SEND_MESSAGE"
	CapDisconnectUser = "DISCONNECT_USER"
	CapDeleteMessage  = "DELETE_MESSAGE"

	DefaultDurationMinutes = 55
)

// Identity is the chat identity a token is requested for.
type Identity struct {
	UserId    string
	Username  string
	Avatar    string
	Moderator bool
}

type Client interface {
	// Auth exchanges the identity for a session token.
	Auth(ctx context.Context, id *Identity) (*chat.AuthToken, error)
}

// Capabilities returns capabilities to request for the identity.
func Capabilities(moderator bool) []string {
	caps := []string{CapSendMessage}
	if moderator {
		caps = append(caps, CapDisconnectUser, CapDeleteMessage)
	}
	return caps
}
