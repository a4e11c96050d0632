package model

import "time"

// Folder is a mailbox on a backend.
type Folder struct {
	// Name is the folder's full path, using the backend's delimiter.
	Name string `json:"name"`
}

// Envelope is the metadata of a single message as seen by one backend.
type Envelope struct {
	// ID is the message's identifier within the backend that produced
	// this envelope (IMAP UID, Maildir key). IDs are not comparable
	// across backends; use Key for cross-backend identity.
	ID string `json:"id"`

	// MessageID is the RFC 5322 Message-Id header value, when known.
	MessageID string `json:"message_id"`

	// Subject is the decoded Subject header.
	Subject string `json:"subject"`

	// From is the display name or address of the first sender.
	From string `json:"from"`

	// Date is the message date from the envelope.
	Date time.Time `json:"date"`

	// Flags is the message's current flag set on this backend.
	Flags FlagSet `json:"flags"`
}

// Key returns the backend-independent identity of the message: the
// Message-Id when present, falling back to the backend ID. Two
// envelopes from different backends describe the same logical message
// exactly when their keys are equal.
func (e Envelope) Key() string {
	if e.MessageID != "" {
		return e.MessageID
	}
	return e.ID
}

// Message is an envelope together with the full RFC 5322 body.
type Message struct {
	Envelope Envelope `json:"envelope"`
	Body     []byte   `json:"-"`
}
