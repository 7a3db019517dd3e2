// Package mail sends transactional email in the background.
package mail

import (
	"context"
	"errors"
)

// Message is one outgoing email with plain text and HTML alternatives.
type Message struct {
	Subject    string
	Sender     string
	Recipients []string
	TextBody   string
	HTMLBody   string
}

var ErrNoRecipients = errors.New("mail: message has no recipients")

// Transport delivers a message synchronously.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
}
