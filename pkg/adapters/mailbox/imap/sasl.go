package imap

import (
	"errors"
	"fmt"

	"github.com/emersion/go-sasl"
)

// Supported SASL mechanisms
const (
	MechXOAuth2     = "XOAUTH2"
	MechOAuthBearer = sasl.OAuthBearer
)

type xoauth2Client struct {
	username string
	token    string
}

// newXOAuth2Client returns a sasl.Client for the XOAUTH2 mechanism
func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	ir := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", c.username, c.token)
	return MechXOAuth2, []byte(ir), nil
}

// Next answers the server's error challenge with an empty response so it
// can send the final failure status.
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	if len(challenge) == 0 {
		return nil, errors.New("unexpected empty XOAUTH2 challenge")
	}
	return []byte{}, nil
}

func saslClient(mech, username, token string) (sasl.Client, error) {
	switch mech {
	case "", MechXOAuth2:
		return newXOAuth2Client(username, token), nil
	case MechOAuthBearer:
		return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: username,
			Token:    token,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", mech)
	}
}
