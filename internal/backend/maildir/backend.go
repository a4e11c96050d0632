package maildir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailmirror/internal/backend"
	"github.com/nhle/mailmirror/internal/model"
)

// flagMap translates between maildir flag characters and message flags.
var flagMap = map[rune]model.Flag{
	'D': model.FlagDraft,
	'F': model.FlagFlagged,
	'R': model.FlagAnswered,
	'S': model.FlagSeen,
	'T': model.FlagDeleted,
}

// Backend is a Maildir++-backed mail store rooted at a local directory.
type Backend struct {
	name string
	root string
	keys *keyGen
}

// New opens (or creates) the maildir rooted at root.
func New(name, root string) (*Backend, error) {
	if err := initDir(root); err != nil {
		return nil, fmt.Errorf("initializing maildir %s: %w", root, err)
	}
	return &Backend{name: name, root: root, keys: newKeyGen()}, nil
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
		backend.CanDeleteMessage,
	)
}

func (b *Backend) Close() error { return nil }

func (b *Backend) ListFolders(_ context.Context) ([]model.Folder, error) {
	folders := []model.Folder{{Name: "INBOX"}}

	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, fmt.Errorf("reading maildir root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if isMaildir(filepath.Join(b.root, entry.Name())) {
			folders = append(folders, model.Folder{Name: decodeFolder(entry.Name())})
		}
	}
	return folders, nil
}

func (b *Backend) AddFolder(_ context.Context, name string) error {
	return initDir(encodeFolder(b.root, name))
}

func (b *Backend) DeleteFolder(_ context.Context, name string) error {
	if name == "INBOX" {
		return fmt.Errorf("refusing to delete INBOX")
	}
	dir := encodeFolder(b.root, name)
	if !isMaildir(dir) {
		return fmt.Errorf("folder %q not found", name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("deleting folder %s: %w", name, err)
	}
	return nil
}

func (b *Backend) ExpungeFolder(ctx context.Context, name string) error {
	envelopes, err := b.ListEnvelopes(ctx, name, backend.Page{})
	if err != nil {
		return err
	}
	for _, env := range envelopes {
		if env.Flags.Has(model.FlagDeleted) {
			if err := b.DeleteMessage(ctx, name, env.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) ListEnvelopes(_ context.Context, folder string, page backend.Page) ([]model.Envelope, error) {
	dir := encodeFolder(b.root, folder)
	if !isMaildir(dir) {
		return nil, fmt.Errorf("folder %q not found", folder)
	}

	var envelopes []model.Envelope
	for _, sub := range []string{"new", "cur"} {
		names, err := readDirNames(filepath.Join(dir, sub))
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			key, flagStr := splitFilename(name)
			env, err := readEnvelope(filepath.Join(dir, sub, name))
			if err != nil {
				// An unparsable file still participates in the sync
				// under its maildir key.
				env = model.Envelope{}
			}
			env.ID = key
			env.Flags = parseFlags(flagStr)
			envelopes = append(envelopes, env)
		}
	}

	sort.Slice(envelopes, func(i, j int) bool { return envelopes[i].ID < envelopes[j].ID })

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
	path, name, err := b.find(folder, id)
	if err != nil {
		return nil, err
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading message %s: %w", id, err)
	}

	env, err := readEnvelope(path)
	if err != nil {
		env = model.Envelope{}
	}
	_, flagStr := splitFilename(name)
	env.ID = id
	env.Flags = parseFlags(flagStr)

	return &model.Message{Envelope: env, Body: body}, nil
}

func (b *Backend) AddMessage(_ context.Context, folder string, body []byte, flags model.FlagSet) (string, error) {
	dir := encodeFolder(b.root, folder)
	if !isMaildir(dir) {
		return "", fmt.Errorf("folder %q not found", folder)
	}

	key := b.keys.next()
	tmpPath := filepath.Join(dir, "tmp", key)
	if err := os.WriteFile(tmpPath, body, 0o600); err != nil {
		return "", fmt.Errorf("writing message to tmp: %w", err)
	}

	// Deliver straight to cur since the flags are already known.
	curName := key + string(infoSeparator) + "2," + formatFlags(flags)
	if err := os.Rename(tmpPath, filepath.Join(dir, "cur", curName)); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("delivering message: %w", err)
	}
	return key, nil
}

func (b *Backend) SetFlags(_ context.Context, folder, id string, flags model.FlagSet) error {
	path, _, err := b.find(folder, id)
	if err != nil {
		return err
	}

	dir := encodeFolder(b.root, folder)
	newName := id + string(infoSeparator) + "2," + formatFlags(flags)
	newPath := filepath.Join(dir, "cur", newName)
	if path == newPath {
		return nil
	}
	if err := os.Rename(path, newPath); err != nil {
		return fmt.Errorf("setting flags on %s: %w", id, err)
	}
	return nil
}

func (b *Backend) AddFlags(ctx context.Context, folder, id string, flags model.FlagSet) error {
	current, err := b.flags(folder, id)
	if err != nil {
		return err
	}
	return b.SetFlags(ctx, folder, id, current.Union(flags))
}

func (b *Backend) RemoveFlags(ctx context.Context, folder, id string, flags model.FlagSet) error {
	current, err := b.flags(folder, id)
	if err != nil {
		return err
	}
	return b.SetFlags(ctx, folder, id, current.Diff(flags))
}

func (b *Backend) CopyMessage(ctx context.Context, fromFolder, toFolder, id string) (string, error) {
	msg, err := b.GetMessage(ctx, fromFolder, id)
	if err != nil {
		return "", err
	}
	return b.AddMessage(ctx, toFolder, msg.Body, msg.Envelope.Flags)
}

func (b *Backend) MoveMessage(_ context.Context, _, _, _ string) (string, error) {
	return "", backend.ErrNotSupported
}

func (b *Backend) DeleteMessage(_ context.Context, folder, id string) error {
	path, _, err := b.find(folder, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting message %s: %w", id, err)
	}
	return nil
}

// flags returns the current flag set of a message.
func (b *Backend) flags(folder, id string) (model.FlagSet, error) {
	_, name, err := b.find(folder, id)
	if err != nil {
		return nil, err
	}
	_, flagStr := splitFilename(name)
	return parseFlags(flagStr), nil
}

// find locates the file holding a message by its maildir key, checking
// cur/ first and falling back to new/.
func (b *Backend) find(folder, id string) (path, name string, err error) {
	dir := encodeFolder(b.root, folder)
	if !isMaildir(dir) {
		return "", "", fmt.Errorf("folder %q not found", folder)
	}

	for _, sub := range []string{"cur", "new"} {
		names, err := readDirNames(filepath.Join(dir, sub))
		if err != nil {
			return "", "", err
		}
		for _, n := range names {
			key, _ := splitFilename(n)
			if key == id {
				return filepath.Join(dir, sub, n), n, nil
			}
		}
	}
	return "", "", fmt.Errorf("message %q not found in %q", id, folder)
}

func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// readEnvelope parses the message headers into envelope metadata using
// go-message.
func readEnvelope(path string) (model.Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	mr, err := mail.CreateReader(f)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	defer mr.Close()

	var env model.Envelope
	if msgID, err := mr.Header.MessageID(); err == nil {
		env.MessageID = formatMessageID(msgID)
	}
	if subject, err := mr.Header.Subject(); err == nil {
		env.Subject = subject
	}
	if date, err := mr.Header.Date(); err == nil {
		env.Date = date
	}
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		if addrs[0].Name != "" {
			env.From = addrs[0].Name
		} else {
			env.From = addrs[0].Address
		}
	}
	return env, nil
}

// formatMessageID restores the angle-bracket form go-message strips, so
// keys line up with envelopes reported by IMAP servers.
func formatMessageID(id string) string {
	if id == "" {
		return ""
	}
	return "<" + id + ">"
}

func parseFlags(flagStr string) model.FlagSet {
	fs := model.NewFlagSet()
	for _, r := range flagStr {
		if f, ok := flagMap[r]; ok {
			fs.Add(f)
		}
	}
	return fs
}

// formatFlags renders the subset of flags maildir can represent,
// dropping free-form keywords.
func formatFlags(flags model.FlagSet) string {
	var out []rune
	for r, f := range flagMap {
		if flags.Has(f) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return string(out)
}
