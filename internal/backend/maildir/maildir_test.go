package maildir

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/nhle/mailmirror/internal/backend"
	"github.com/nhle/mailmirror/internal/model"
)

var testBody = []byte("Message-Id: <m1@example.com>\r\n" +
	"Subject: hello\r\n" +
	"From: Alice <alice@example.com>\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"\r\n" +
	"body text\r\n")

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New("test", t.TempDir())
	if err != nil {
		t.Fatalf("creating maildir: %v", err)
	}
	return b
}

func TestFolderLayout(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	// A fresh maildir has only the INBOX (the root itself).
	folders, err := b.ListFolders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 1 || folders[0].Name != "INBOX" {
		t.Fatalf("unexpected folders: %v", folders)
	}

	if err := b.AddFolder(ctx, "Archive/2024"); err != nil {
		t.Fatal(err)
	}
	folders, err = b.ListFolders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 2 || folders[1].Name != "Archive/2024" {
		t.Fatalf("nested folder not listed: %v", folders)
	}

	if err := b.DeleteFolder(ctx, "Archive/2024"); err != nil {
		t.Fatal(err)
	}
	folders, _ = b.ListFolders(ctx)
	if len(folders) != 1 {
		t.Errorf("folder not deleted: %v", folders)
	}

	if err := b.DeleteFolder(ctx, "INBOX"); err == nil {
		t.Error("deleting INBOX must be refused")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	id, err := b.AddMessage(ctx, "INBOX", testBody, model.NewFlagSet(model.FlagSeen))
	if err != nil {
		t.Fatal(err)
	}

	envs, err := b.ListEnvelopes(ctx, "INBOX", backend.Page{})
	if err != nil {
		t.Fatal(err)
	}
	if len(envs) != 1 {
		t.Fatalf("got %d envelopes, want 1", len(envs))
	}
	env := envs[0]
	if env.ID != id {
		t.Errorf("ID = %q, want %q", env.ID, id)
	}
	if env.MessageID != "<m1@example.com>" {
		t.Errorf("MessageID = %q", env.MessageID)
	}
	if env.Subject != "hello" {
		t.Errorf("Subject = %q", env.Subject)
	}
	if !env.Flags.Equal(model.NewFlagSet(model.FlagSeen)) {
		t.Errorf("Flags = %q", env.Flags)
	}

	msg, err := b.GetMessage(ctx, "INBOX", id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(msg.Body, testBody) {
		t.Error("body does not round trip")
	}
}

func TestFlagUpdatesRenameFile(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	id, err := b.AddMessage(ctx, "INBOX", testBody, model.NewFlagSet())
	if err != nil {
		t.Fatal(err)
	}

	if err := b.AddFlags(ctx, "INBOX", id, model.NewFlagSet(model.FlagSeen, model.FlagFlagged)); err != nil {
		t.Fatal(err)
	}
	flags, err := b.flags("INBOX", id)
	if err != nil {
		t.Fatal(err)
	}
	if !flags.Equal(model.NewFlagSet(model.FlagSeen, model.FlagFlagged)) {
		t.Errorf("flags after add: %q", flags)
	}

	if err := b.RemoveFlags(ctx, "INBOX", id, model.NewFlagSet(model.FlagFlagged)); err != nil {
		t.Fatal(err)
	}
	flags, _ = b.flags("INBOX", id)
	if !flags.Equal(model.NewFlagSet(model.FlagSeen)) {
		t.Errorf("flags after remove: %q", flags)
	}

	// The key survives flag renames.
	msg, err := b.GetMessage(ctx, "INBOX", id)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Envelope.ID != id {
		t.Errorf("key changed across rename: %q vs %q", msg.Envelope.ID, id)
	}
}

func TestCopyAndDelete(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	if err := b.AddFolder(ctx, "Archive"); err != nil {
		t.Fatal(err)
	}
	id, err := b.AddMessage(ctx, "INBOX", testBody, model.NewFlagSet(model.FlagSeen))
	if err != nil {
		t.Fatal(err)
	}

	copyID, err := b.CopyMessage(ctx, "INBOX", "Archive", id)
	if err != nil {
		t.Fatal(err)
	}
	if copyID == id {
		t.Error("copy reused the source key")
	}

	copied, err := b.GetMessage(ctx, "Archive", copyID)
	if err != nil {
		t.Fatal(err)
	}
	if !copied.Envelope.Flags.Has(model.FlagSeen) {
		t.Error("copy lost the flags")
	}

	if err := b.DeleteMessage(ctx, "INBOX", id); err != nil {
		t.Fatal(err)
	}
	if _, err := b.GetMessage(ctx, "INBOX", id); err == nil {
		t.Error("message still readable after delete")
	}
}

func TestMoveFallsBackToCopyDelete(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	if err := b.AddFolder(ctx, "Archive"); err != nil {
		t.Fatal(err)
	}
	id, err := b.AddMessage(ctx, "INBOX", testBody, model.NewFlagSet(model.FlagSeen))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.MoveMessage(ctx, "INBOX", "Archive", id); !errors.Is(err, backend.ErrNotSupported) {
		t.Fatalf("MoveMessage = %v, want ErrNotSupported", err)
	}

	movedID, err := backend.Move(ctx, b, "INBOX", "Archive", id)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.GetMessage(ctx, "INBOX", id); err == nil {
		t.Error("source message still present after move")
	}
	moved, err := b.GetMessage(ctx, "Archive", movedID)
	if err != nil {
		t.Fatal(err)
	}
	if !moved.Envelope.Flags.Has(model.FlagSeen) {
		t.Error("move lost the flags")
	}
}

func TestExpungeFolder(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	keep, err := b.AddMessage(ctx, "INBOX", testBody, model.NewFlagSet(model.FlagSeen))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddMessage(ctx, "INBOX", testBody, model.NewFlagSet(model.FlagDeleted)); err != nil {
		t.Fatal(err)
	}

	if err := b.ExpungeFolder(ctx, "INBOX"); err != nil {
		t.Fatal(err)
	}

	envs, err := b.ListEnvelopes(ctx, "INBOX", backend.Page{})
	if err != nil {
		t.Fatal(err)
	}
	if len(envs) != 1 || envs[0].ID != keep {
		t.Errorf("expunge kept the wrong messages: %v", envs)
	}
}

func TestSplitFilename(t *testing.T) {
	cases := []struct {
		name      string
		key, flag string
	}{
		{"123_0.99.host:2,FS", "123_0.99.host", "FS"},
		{"123_0.99.host:2,", "123_0.99.host", ""},
		{"123_0.99.host", "123_0.99.host", ""},
		{"123_0.99.host:2,SFS", "123_0.99.host", "FS"},
	}
	for _, tc := range cases {
		key, flags := splitFilename(tc.name)
		if key != tc.key || flags != tc.flag {
			t.Errorf("splitFilename(%q) = (%q, %q), want (%q, %q)", tc.name, key, flags, tc.key, tc.flag)
		}
	}
}

func TestFolderEncoding(t *testing.T) {
	if got := encodeFolder("/mail", "INBOX"); got != "/mail" {
		t.Errorf("INBOX should map to the root, got %q", got)
	}
	if got := encodeFolder("/mail", "Archive/2024"); got != "/mail/.Archive.2024" {
		t.Errorf("encodeFolder = %q", got)
	}
	if got := decodeFolder(".Archive.2024"); got != "Archive/2024" {
		t.Errorf("decodeFolder = %q", got)
	}
}
