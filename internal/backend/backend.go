package backend

import (
	"context"

	"github.com/nhle/mailmirror/internal/model"
)

// Kind identifies the concrete backend implementation. The set is
// closed: the sync engine only ever dispatches through the Backend
// interface, so new kinds require a new adapter here.
type Kind string

const (
	KindIMAP     Kind = "imap"
	KindMaildir  Kind = "maildir"
	KindNotmuch  Kind = "notmuch"
	KindSendmail Kind = "sendmail"
	KindSMTP     Kind = "smtp"
)

// Capability names a single optional backend operation. Backends
// advertise what they support at runtime; callers query capabilities
// instead of relying on which adapters were compiled in.
type Capability string

const (
	CanListFolders   Capability = "list-folders"
	CanCreateFolder  Capability = "create-folder"
	CanDeleteFolder  Capability = "delete-folder"
	CanExpungeFolder Capability = "expunge-folder"
	CanListEnvelopes Capability = "list-envelopes"
	CanGetMessage    Capability = "get-message"
	CanAddMessage    Capability = "add-message"
	CanSetFlags      Capability = "set-flags"
	CanCopyMessage   Capability = "copy-message"
	CanMoveMessage   Capability = "move-message"
	CanDeleteMessage Capability = "delete-message"
)

// CapabilitySet is the set of operations a backend supports.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a CapabilitySet from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	cs := make(CapabilitySet, len(caps))
	for _, c := range caps {
		cs[c] = struct{}{}
	}
	return cs
}

// Has reports whether c is in the set.
func (cs CapabilitySet) Has(c Capability) bool {
	_, ok := cs[c]
	return ok
}

// Page bounds an envelope listing. The zero value lists everything.
type Page struct {
	Offset int
	Limit  int
}

// Backend is the capability surface the sync engine consumes. An
// adapter that does not support an operation returns ErrNotSupported
// and omits the matching capability from Capabilities.
//
// Adapters own their session exclusivity: when the underlying protocol
// cannot run concurrent commands on one connection (IMAP), the adapter
// serializes calls internally. Callers may therefore share one Backend
// across goroutines, with throughput degrading to the adapter's actual
// concurrency ceiling.
type Backend interface {
	// Name returns a human-readable identifier for log output.
	Name() string

	// Kind returns the backend kind.
	Kind() Kind

	// Capabilities returns the operations this backend supports.
	Capabilities() CapabilitySet

	ListFolders(ctx context.Context) ([]model.Folder, error)
	AddFolder(ctx context.Context, name string) error
	DeleteFolder(ctx context.Context, name string) error
	ExpungeFolder(ctx context.Context, name string) error

	ListEnvelopes(ctx context.Context, folder string, page Page) ([]model.Envelope, error)
	GetMessage(ctx context.Context, folder, id string) (*model.Message, error)
	AddMessage(ctx context.Context, folder string, body []byte, flags model.FlagSet) (string, error)

	SetFlags(ctx context.Context, folder, id string, flags model.FlagSet) error
	AddFlags(ctx context.Context, folder, id string, flags model.FlagSet) error
	RemoveFlags(ctx context.Context, folder, id string, flags model.FlagSet) error

	CopyMessage(ctx context.Context, fromFolder, toFolder, id string) (string, error)
	MoveMessage(ctx context.Context, fromFolder, toFolder, id string) (string, error)
	DeleteMessage(ctx context.Context, folder, id string) error

	Close() error
}

// Move moves a message, falling back to copy-then-delete on backends
// that do not advertise CanMoveMessage.
func Move(ctx context.Context, b Backend, fromFolder, toFolder, id string) (string, error) {
	if b.Capabilities().Has(CanMoveMessage) {
		return b.MoveMessage(ctx, fromFolder, toFolder, id)
	}

	newID, err := b.CopyMessage(ctx, fromFolder, toFolder, id)
	if err != nil {
		return "", err
	}
	if err := b.DeleteMessage(ctx, fromFolder, id); err != nil {
		return newID, err
	}
	return newID, nil
}
