// Package imap adapts a remote IMAP server to the backend interface
// using go-imap v2.
package imap

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailmirror/internal/backend"
	"github.com/nhle/mailmirror/internal/model"
)

// Config describes how to reach and authenticate with the server.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool
}

// Backend is an IMAP-backed mail store. IMAP does not support
// concurrent commands on one connection, so every operation holds an
// internal mutex: the adapter is safe to share across folder workers,
// with throughput degrading to one command at a time.
type Backend struct {
	name   string
	config Config

	mu       sync.Mutex
	client   *imapclient.Client
	selected string
}

// New connects to the IMAP server, authenticates, and returns the
// adapter. The caller must Close it.
func New(name string, config Config) (*Backend, error) {
	b := &Backend{name: name, config: config}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) connect() error {
	addr := b.config.Host + ":" + b.config.Port

	var client *imapclient.Client
	var err error

	if b.config.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(b.config.Username, b.config.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return &backend.AuthError{
			Backend: b.name,
			Message: fmt.Sprintf("authentication failed for %s: %v", b.config.Username, err),
		}
	}

	b.client = client
	b.selected = ""
	return nil
}

func (b *Backend) Name() string       { return b.name }
func (b *Backend) Kind() backend.Kind { return backend.KindIMAP }

func (b *Backend) Capabilities() backend.CapabilitySet {
	return backend.NewCapabilitySet(
		backend.CanListFolders,
		backend.CanCreateFolder,
		backend.CanDeleteFolder,
		backend.CanExpungeFolder,
		backend.CanListEnvelopes,
		backend.CanGetMessage,
		backend.CanAddMessage,
		backend.CanSetFlags,
		backend.CanCopyMessage,
		backend.CanMoveMessage,
		backend.CanDeleteMessage,
	)
}

// Close logs out and releases the connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil
	}
	err := b.client.Logout().Wait()
	b.client = nil
	return err
}

// ensureSelected selects the mailbox unless it is already the current
// one. Callers must hold b.mu.
func (b *Backend) ensureSelected(folder string) error {
	if b.selected == folder {
		return nil
	}
	if _, err := b.client.Select(folder, nil).Wait(); err != nil {
		b.selected = ""
		return fmt.Errorf("selecting %s: %w", folder, err)
	}
	b.selected = folder
	return nil
}

func (b *Backend) ListFolders(_ context.Context) ([]model.Folder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mailboxes, err := b.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing mailboxes: %w", err)
	}

	folders := make([]model.Folder, 0, len(mailboxes))
	for _, mbox := range mailboxes {
		folders = append(folders, model.Folder{Name: mbox.Mailbox})
	}
	return folders, nil
}

func (b *Backend) AddFolder(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.client.Create(name, nil).Wait(); err != nil {
		return fmt.Errorf("creating mailbox %s: %w", name, err)
	}
	return nil
}

func (b *Backend) DeleteFolder(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.selected == name {
		b.selected = ""
	}
	if err := b.client.Delete(name).Wait(); err != nil {
		return fmt.Errorf("deleting mailbox %s: %w", name, err)
	}
	return nil
}

func (b *Backend) ExpungeFolder(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureSelected(name); err != nil {
		return err
	}
	if err := b.client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunging %s: %w", name, err)
	}
	return nil
}

func (b *Backend) ListEnvelopes(_ context.Context, folder string, page backend.Page) ([]model.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureSelected(folder); err != nil {
		return nil, err
	}

	status, err := b.client.Status(folder, &imap.StatusOptions{NumMessages: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("getting status of %s: %w", folder, err)
	}
	if status.NumMessages == nil || *status.NumMessages == 0 {
		return nil, nil
	}

	var seqSet imap.SeqSet
	seqSet.AddRange(1, *status.NumMessages)

	fetchOpts := &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	}

	msgs, err := b.client.Fetch(seqSet, fetchOpts).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching envelopes in %s: %w", folder, err)
	}

	var envelopes []model.Envelope
	for _, msg := range msgs {
		envelopes = append(envelopes, envelopeFromBuffer(msg))
	}

	if page.Offset > 0 {
		if page.Offset >= len(envelopes) {
			return nil, nil
		}
		envelopes = envelopes[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(envelopes) {
		envelopes = envelopes[:page.Limit]
	}
	return envelopes, nil
}

func (b *Backend) GetMessage(_ context.Context, folder, id string) (*model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureSelected(folder); err != nil {
		return nil, err
	}

	uidSet, err := parseUIDSet(id)
	if err != nil {
		return nil, err
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	msgs, err := b.client.Fetch(uidSet, fetchOpts).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching message %s in %s: %w", id, folder, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message %s not found in %s", id, folder)
	}

	buf := msgs[0]
	msg := &model.Message{Envelope: envelopeFromBuffer(buf)}
	if raw := buf.FindBodySection(bodySection); raw != nil {
		msg.Body = raw
	}
	return msg, nil
}

func (b *Backend) AddMessage(_ context.Context, folder string, body []byte, flags model.FlagSet) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	appendCmd := b.client.Append(folder, int64(len(body)), &imap.AppendOptions{
		Flags: toIMAPFlags(flags),
	})
	if _, err := appendCmd.Write(body); err != nil {
		return "", fmt.Errorf("writing message to %s: %w", folder, err)
	}
	if err := appendCmd.Close(); err != nil {
		return "", fmt.Errorf("appending message to %s: %w", folder, err)
	}

	data, err := appendCmd.Wait()
	if err != nil {
		return "", fmt.Errorf("appending message to %s: %w", folder, err)
	}
	if data.UID == 0 {
		// Server without UIDPLUS: locate the appended message by
		// fetching the highest UID.
		return b.lastUIDLocked(folder)
	}
	return strconv.FormatUint(uint64(data.UID), 10), nil
}

// lastUIDLocked returns the UID of the most recent message in folder.
// Callers must hold b.mu.
func (b *Backend) lastUIDLocked(folder string) (string, error) {
	if err := b.ensureSelected(folder); err != nil {
		return "", err
	}

	var seqSet imap.SeqSet
	seqSet.AddNum(0) // "*": the last message

	msgs, err := b.client.Fetch(seqSet, &imap.FetchOptions{UID: true}).Collect()
	if err != nil || len(msgs) == 0 {
		return "", fmt.Errorf("resolving appended message UID in %s: %w", folder, err)
	}
	return strconv.FormatUint(uint64(msgs[0].UID), 10), nil
}

func (b *Backend) SetFlags(_ context.Context, folder, id string, flags model.FlagSet) error {
	return b.storeFlags(folder, id, flags, imap.StoreFlagsSet)
}

func (b *Backend) AddFlags(_ context.Context, folder, id string, flags model.FlagSet) error {
	return b.storeFlags(folder, id, flags, imap.StoreFlagsAdd)
}

func (b *Backend) RemoveFlags(_ context.Context, folder, id string, flags model.FlagSet) error {
	return b.storeFlags(folder, id, flags, imap.StoreFlagsDel)
}

func (b *Backend) storeFlags(folder, id string, flags model.FlagSet, op imap.StoreFlagsOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureSelected(folder); err != nil {
		return err
	}

	uidSet, err := parseUIDSet(id)
	if err != nil {
		return err
	}

	storeCmd := b.client.Store(uidSet, &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  toIMAPFlags(flags),
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("storing flags on %s in %s: %w", id, folder, err)
	}
	return nil
}

func (b *Backend) CopyMessage(_ context.Context, fromFolder, toFolder, id string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureSelected(fromFolder); err != nil {
		return "", err
	}

	uidSet, err := parseUIDSet(id)
	if err != nil {
		return "", err
	}

	data, err := b.client.Copy(uidSet, toFolder).Wait()
	if err != nil {
		return "", fmt.Errorf("copying %s to %s: %w", id, toFolder, err)
	}
	if uids, ok := data.DestUIDs.Nums(); ok && len(uids) > 0 {
		return strconv.FormatUint(uint64(uids[0]), 10), nil
	}
	return "", nil
}

func (b *Backend) MoveMessage(_ context.Context, fromFolder, toFolder, id string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureSelected(fromFolder); err != nil {
		return "", err
	}

	uidSet, err := parseUIDSet(id)
	if err != nil {
		return "", err
	}

	data, err := b.client.Move(uidSet, toFolder).Wait()
	if err != nil {
		return "", fmt.Errorf("moving %s to %s: %w", id, toFolder, err)
	}
	if data != nil && data.DestUIDs != nil {
		// MOVE reports destination UIDs as a NumSet; servers send UIDs here.
		if uidSet, ok := data.DestUIDs.(imap.UIDSet); ok {
			if uids, ok := uidSet.Nums(); ok && len(uids) > 0 {
				return strconv.FormatUint(uint64(uids[0]), 10), nil
			}
		}
	}
	return "", nil
}

func (b *Backend) DeleteMessage(_ context.Context, folder, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureSelected(folder); err != nil {
		return err
	}

	uidSet, err := parseUIDSet(id)
	if err != nil {
		return err
	}

	storeCmd := b.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("marking %s deleted in %s: %w", id, folder, err)
	}

	if err := b.client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunging %s in %s: %w", id, folder, err)
	}
	return nil
}

// envelopeFromBuffer extracts a model.Envelope from a FetchMessageBuffer.
func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) model.Envelope {
	env := model.Envelope{
		ID:    strconv.FormatUint(uint64(buf.UID), 10),
		Flags: model.NewFlagSet(),
	}

	if buf.Envelope != nil {
		env.MessageID = buf.Envelope.MessageID
		env.Subject = buf.Envelope.Subject
		env.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				env.From = from.Name
			} else {
				env.From = from.Addr()
			}
		}
	}

	for _, flag := range buf.Flags {
		env.Flags.Add(model.Flag(flag))
	}
	return env
}

func toIMAPFlags(flags model.FlagSet) []imap.Flag {
	out := make([]imap.Flag, 0, len(flags))
	for _, f := range flags.Slice() {
		out = append(out, imap.Flag(f))
	}
	return out
}

func parseUIDSet(id string) (imap.UIDSet, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid message id %q: %w", id, err)
	}
	return imap.UIDSetNum(imap.UID(uid)), nil
}
