package auth

import (
	"context"
	"errors"

	"github.com/mqy/bulletchat/chat"
)

var ErrEmptyToken = errors.New("auth: empty token")

// StaticClient hands out a fixed, pre-issued token.
type StaticClient struct {
	Client
	Token string
}

func (c *StaticClient) Auth(ctx context.Context, id *Identity) (*chat.AuthToken, error) {
	if c.Token == "" {
		return nil, ErrEmptyToken
	}
	return &chat.AuthToken{Value: c.Token}, nil
}
