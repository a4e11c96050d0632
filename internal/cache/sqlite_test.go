package cache_test

import (
	"context"
	"testing"

	"github.com/nhle/mailmirror/internal/cache"
	"github.com/nhle/mailmirror/tests/testutil"
)

func TestFolderLifecycle(t *testing.T) {
	c := testutil.NewTestCache(t)
	ctx := context.Background()

	if err := c.UpsertFolder(ctx, cache.Folder{Account: "acc", Target: "left", Name: "INBOX"}); err != nil {
		t.Fatalf("upserting folder: %v", err)
	}
	if err := c.UpsertFolder(ctx, cache.Folder{Account: "acc", Target: "left", Name: "Archive"}); err != nil {
		t.Fatalf("upserting folder: %v", err)
	}
	// Upsert again: must not duplicate.
	if err := c.UpsertFolder(ctx, cache.Folder{Account: "acc", Target: "left", Name: "INBOX"}); err != nil {
		t.Fatalf("re-upserting folder: %v", err)
	}

	folders, err := c.ListFolders(ctx, "acc", "left")
	if err != nil {
		t.Fatalf("listing folders: %v", err)
	}
	if len(folders) != 2 {
		t.Fatalf("got %d folders, want 2", len(folders))
	}
	if folders[0].Name != "Archive" || folders[1].Name != "INBOX" {
		t.Errorf("folders not sorted by name: %v", folders)
	}

	// The other side is a separate namespace.
	folders, err = c.ListFolders(ctx, "acc", "right")
	if err != nil {
		t.Fatalf("listing folders: %v", err)
	}
	if len(folders) != 0 {
		t.Errorf("right side should be empty, got %v", folders)
	}

	if err := c.RemoveFolder(ctx, "acc", "left", "INBOX"); err != nil {
		t.Fatalf("removing folder: %v", err)
	}
	folders, _ = c.ListFolders(ctx, "acc", "left")
	if len(folders) != 1 || folders[0].Name != "Archive" {
		t.Errorf("unexpected folders after remove: %v", folders)
	}
}

func TestEnvelopeLifecycle(t *testing.T) {
	c := testutil.NewTestCache(t)
	ctx := context.Background()

	env := cache.Envelope{
		Account: "acc",
		Target:  "left",
		Folder:  "INBOX",
		Key:     "<a@example.com>",
		ID:      "17",
		Flags:   "\\Seen",
	}
	if err := c.UpsertEnvelope(ctx, env); err != nil {
		t.Fatalf("upserting envelope: %v", err)
	}

	got, err := c.GetEnvelope(ctx, "acc", "left", "INBOX", "<a@example.com>")
	if err != nil {
		t.Fatalf("getting envelope: %v", err)
	}
	if got == nil {
		t.Fatal("envelope not found after upsert")
	}
	if got.ID != "17" || got.Flags != "\\Seen" {
		t.Errorf("unexpected envelope: %+v", got)
	}
	if got.SyncedAt.IsZero() {
		t.Error("SyncedAt should be set on upsert")
	}

	// Upsert replaces in place.
	env.Flags = "\\Answered \\Seen"
	if err := c.UpsertEnvelope(ctx, env); err != nil {
		t.Fatalf("re-upserting envelope: %v", err)
	}
	envs, err := c.ListEnvelopes(ctx, "acc", "left", "INBOX")
	if err != nil {
		t.Fatalf("listing envelopes: %v", err)
	}
	if len(envs) != 1 {
		t.Fatalf("got %d envelopes, want 1", len(envs))
	}
	if envs[0].Flags != "\\Answered \\Seen" {
		t.Errorf("flags not replaced: %q", envs[0].Flags)
	}

	if err := c.RemoveEnvelope(ctx, "acc", "left", "INBOX", "<a@example.com>"); err != nil {
		t.Fatalf("removing envelope: %v", err)
	}
	got, err = c.GetEnvelope(ctx, "acc", "left", "INBOX", "<a@example.com>")
	if err != nil {
		t.Fatalf("getting envelope: %v", err)
	}
	if got != nil {
		t.Errorf("envelope still present after remove: %+v", got)
	}
}

func TestEmailLifecycle(t *testing.T) {
	c := testutil.NewTestCache(t)
	ctx := context.Background()

	em := cache.Email{
		Account:     "acc",
		Target:      "right",
		Folder:      "INBOX",
		Key:         "<b@example.com>",
		ID:          "3",
		ContentHash: "deadbeef",
	}
	if err := c.UpsertEmail(ctx, em); err != nil {
		t.Fatalf("upserting email: %v", err)
	}

	emails, err := c.ListEmails(ctx, "acc", "right", "INBOX")
	if err != nil {
		t.Fatalf("listing emails: %v", err)
	}
	if len(emails) != 1 || emails[0].ContentHash != "deadbeef" {
		t.Fatalf("unexpected emails: %v", emails)
	}

	if err := c.RemoveEmail(ctx, "acc", "right", "INBOX", "<b@example.com>"); err != nil {
		t.Fatalf("removing email: %v", err)
	}
	emails, _ = c.ListEmails(ctx, "acc", "right", "INBOX")
	if len(emails) != 0 {
		t.Errorf("emails still present after remove: %v", emails)
	}
}

func TestRemoveFolderCascades(t *testing.T) {
	c := testutil.NewTestCache(t)
	ctx := context.Background()

	if err := c.UpsertFolder(ctx, cache.Folder{Account: "acc", Target: "left", Name: "INBOX"}); err != nil {
		t.Fatalf("upserting folder: %v", err)
	}
	if err := c.UpsertEnvelope(ctx, cache.Envelope{Account: "acc", Target: "left", Folder: "INBOX", Key: "k1", ID: "1"}); err != nil {
		t.Fatalf("upserting envelope: %v", err)
	}
	if err := c.UpsertEmail(ctx, cache.Email{Account: "acc", Target: "left", Folder: "INBOX", Key: "k1", ID: "1", ContentHash: "h"}); err != nil {
		t.Fatalf("upserting email: %v", err)
	}

	if err := c.RemoveFolder(ctx, "acc", "left", "INBOX"); err != nil {
		t.Fatalf("removing folder: %v", err)
	}

	envs, _ := c.ListEnvelopes(ctx, "acc", "left", "INBOX")
	if len(envs) != 0 {
		t.Errorf("envelopes survived folder removal: %v", envs)
	}
	emails, _ := c.ListEmails(ctx, "acc", "left", "INBOX")
	if len(emails) != 0 {
		t.Errorf("emails survived folder removal: %v", emails)
	}
}

func TestIsFatal(t *testing.T) {
	fatal := &cache.Error{Op: "x", Fatal: true, Err: context.Canceled}
	if !cache.IsFatal(fatal) {
		t.Error("fatal error not recognized")
	}
	transient := &cache.Error{Op: "x", Fatal: false, Err: context.Canceled}
	if cache.IsFatal(transient) {
		t.Error("transient error misclassified as fatal")
	}
	if cache.IsFatal(nil) {
		t.Error("nil misclassified as fatal")
	}
	if cache.IsFatal(context.Canceled) {
		t.Error("plain error misclassified as fatal")
	}
}
