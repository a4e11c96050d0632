// Package memory provides a fully in-memory Backend used by tests and
// dry runs. It supports every capability and allows per-operation
// error injection to simulate backend failures.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nhle/mailmirror/internal/backend"
	"github.com/nhle/mailmirror/internal/model"
)

type storedMessage struct {
	id        string
	messageID string
	subject   string
	from      string
	date      time.Time
	flags     model.FlagSet
	body      []byte
}

// Backend is an in-memory mail store.
type Backend struct {
	name string

	mu      sync.Mutex
	folders map[string]map[string]*storedMessage
	nextID  int

	// Per-operation injected errors; when set, the matching operation
	// fails with the given error instead of running.
	AddFolderErr     error
	DeleteFolderErr  error
	AddMessageErr    error
	SetFlagsErr      error
	DeleteMessageErr error
	ListEnvelopesErr error
	GetMessageErr    error
}

// New creates an empty in-memory backend.
func New(name string) *Backend {
	return &Backend{
		name:    name,
		folders: make(map[string]map[string]*storedMessage),
	}
}

func (b *Backend) Name() string       { return b.name }
func (b *Backend) Kind() backend.Kind { return backend.KindMaildir }

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

func (b *Backend) Close() error { return nil }

func (b *Backend) ListFolders(_ context.Context) ([]model.Folder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.folders))
	for name := range b.folders {
		names = append(names, name)
	}
	sort.Strings(names)

	folders := make([]model.Folder, len(names))
	for i, name := range names {
		folders[i] = model.Folder{Name: name}
	}
	return folders, nil
}

func (b *Backend) AddFolder(_ context.Context, name string) error {
	if b.AddFolderErr != nil {
		return b.AddFolderErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.folders[name]; !ok {
		b.folders[name] = make(map[string]*storedMessage)
	}
	return nil
}

func (b *Backend) DeleteFolder(_ context.Context, name string) error {
	if b.DeleteFolderErr != nil {
		return b.DeleteFolderErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.folders[name]; !ok {
		return fmt.Errorf("folder %q not found", name)
	}
	delete(b.folders, name)
	return nil
}

func (b *Backend) ExpungeFolder(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msgs, ok := b.folders[name]
	if !ok {
		return fmt.Errorf("folder %q not found", name)
	}
	for id, msg := range msgs {
		if msg.flags.Has(model.FlagDeleted) {
			delete(msgs, id)
		}
	}
	return nil
}

func (b *Backend) ListEnvelopes(_ context.Context, folder string, page backend.Page) ([]model.Envelope, error) {
	if b.ListEnvelopesErr != nil {
		return nil, b.ListEnvelopesErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	msgs, ok := b.folders[folder]
	if !ok {
		return nil, fmt.Errorf("folder %q not found", folder)
	}

	ids := make([]string, 0, len(msgs))
	for id := range msgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var envelopes []model.Envelope
	for _, id := range ids {
		envelopes = append(envelopes, b.envelope(msgs[id]))
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
	if b.GetMessageErr != nil {
		return nil, b.GetMessageErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	msg, err := b.find(folder, id)
	if err != nil {
		return nil, err
	}
	body := make([]byte, len(msg.body))
	copy(body, msg.body)
	return &model.Message{Envelope: b.envelope(msg), Body: body}, nil
}

func (b *Backend) AddMessage(_ context.Context, folder string, body []byte, flags model.FlagSet) (string, error) {
	if b.AddMessageErr != nil {
		return "", b.AddMessageErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	msgs, ok := b.folders[folder]
	if !ok {
		return "", fmt.Errorf("folder %q not found", folder)
	}

	b.nextID++
	msg := &storedMessage{
		id:    strconv.Itoa(b.nextID),
		flags: flags.Clone(),
		body:  append([]byte(nil), body...),
	}
	fillHeaders(msg)
	msgs[msg.id] = msg
	return msg.id, nil
}

func (b *Backend) SetFlags(_ context.Context, folder, id string, flags model.FlagSet) error {
	if b.SetFlagsErr != nil {
		return b.SetFlagsErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	msg, err := b.find(folder, id)
	if err != nil {
		return err
	}
	msg.flags = flags.Clone()
	return nil
}

func (b *Backend) AddFlags(ctx context.Context, folder, id string, flags model.FlagSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, err := b.find(folder, id)
	if err != nil {
		return err
	}
	msg.flags = msg.flags.Union(flags)
	return nil
}

func (b *Backend) RemoveFlags(ctx context.Context, folder, id string, flags model.FlagSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, err := b.find(folder, id)
	if err != nil {
		return err
	}
	msg.flags = msg.flags.Diff(flags)
	return nil
}

func (b *Backend) CopyMessage(_ context.Context, fromFolder, toFolder, id string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, err := b.find(fromFolder, id)
	if err != nil {
		return "", err
	}
	dst, ok := b.folders[toFolder]
	if !ok {
		return "", fmt.Errorf("folder %q not found", toFolder)
	}

	b.nextID++
	cp := *msg
	cp.id = strconv.Itoa(b.nextID)
	cp.flags = msg.flags.Clone()
	cp.body = append([]byte(nil), msg.body...)
	dst[cp.id] = &cp
	return cp.id, nil
}

func (b *Backend) MoveMessage(ctx context.Context, fromFolder, toFolder, id string) (string, error) {
	newID, err := b.CopyMessage(ctx, fromFolder, toFolder, id)
	if err != nil {
		return "", err
	}
	return newID, b.DeleteMessage(ctx, fromFolder, id)
}

func (b *Backend) DeleteMessage(_ context.Context, folder, id string) error {
	if b.DeleteMessageErr != nil {
		return b.DeleteMessageErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	msgs, ok := b.folders[folder]
	if !ok {
		return fmt.Errorf("folder %q not found", folder)
	}
	if _, ok := msgs[id]; !ok {
		return fmt.Errorf("message %q not found in %q", id, folder)
	}
	delete(msgs, id)
	return nil
}

// find looks up a message; callers must hold b.mu.
func (b *Backend) find(folder, id string) (*storedMessage, error) {
	msgs, ok := b.folders[folder]
	if !ok {
		return nil, fmt.Errorf("folder %q not found", folder)
	}
	msg, ok := msgs[id]
	if !ok {
		return nil, fmt.Errorf("message %q not found in %q", id, folder)
	}
	return msg, nil
}

func (b *Backend) envelope(msg *storedMessage) model.Envelope {
	return model.Envelope{
		ID:        msg.id,
		MessageID: msg.messageID,
		Subject:   msg.subject,
		From:      msg.from,
		Date:      msg.date,
		Flags:     msg.flags.Clone(),
	}
}

// fillHeaders extracts envelope metadata from the stored body so copies
// keep their cross-backend identity.
func fillHeaders(msg *storedMessage) {
	parsed, err := mail.ReadMessage(bytes.NewReader(msg.body))
	if err != nil {
		return
	}
	msg.messageID = parsed.Header.Get("Message-Id")
	msg.subject = parsed.Header.Get("Subject")
	msg.from = parsed.Header.Get("From")
	if date, err := parsed.Header.Date(); err == nil {
		msg.date = date
	}
}
