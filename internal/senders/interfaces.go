package senders

import "context"

// EmailAddress pairs an address with an optional display name.
type EmailAddress struct {
	Address string
	Name    string
}

// EmailMessage is the provider-agnostic outbound email.
type EmailMessage struct {
	To      EmailAddress
	From    EmailAddress
	Subject string
	Text    string

	// ReferenceID correlates the provider-side event stream with the job
	// that produced the message.
	ReferenceID string
}

// EmailResult carries the provider's message identifier.
type EmailResult struct {
	MessageID string
}

// EmailProvider delivers one email and returns the provider message ID.
type EmailProvider interface {
	SendEmail(ctx context.Context, msg EmailMessage) (EmailResult, error)
}
