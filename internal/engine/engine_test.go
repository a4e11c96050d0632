package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nhle/mailmirror/internal/backend"
	"github.com/nhle/mailmirror/internal/backend/memory"
	"github.com/nhle/mailmirror/internal/backend/smtp"
	"github.com/nhle/mailmirror/internal/cache"
	"github.com/nhle/mailmirror/internal/model"
	"github.com/nhle/mailmirror/tests/testutil"
)

func body(msgID string) []byte {
	return []byte("Message-Id: " + msgID + "\r\n" +
		"Subject: hello\r\n" +
		"From: Alice <alice@example.com>\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
		"\r\n" +
		"body text\r\n")
}

func defaultOpts() Options {
	return Options{
		Account:     "acc",
		Strategy:    AllFolders(),
		Permissions: DefaultPermissions(),
	}
}

func runSync(t *testing.T, left, right backend.Backend, c cache.Cache, opts Options) *SyncReport {
	t.Helper()
	eng, err := New(left, right, c, opts)
	if err != nil {
		t.Fatalf("building engine: %v", err)
	}
	report, err := eng.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v\n%s", err, report.Summary())
	}
	return report
}

// flagsByKey maps each live message's key to its canonical flag string.
func flagsByKey(t *testing.T, b backend.Backend, folder string) map[string]string {
	t.Helper()
	envs, err := b.ListEnvelopes(context.Background(), folder, backend.Page{})
	if err != nil {
		t.Fatalf("listing envelopes on %s: %v", b.Name(), err)
	}
	out := make(map[string]string, len(envs))
	for _, env := range envs {
		out[env.Key()] = env.Flags.String()
	}
	return out
}

func TestSyncReplicatesNewFolderAndMessage(t *testing.T) {
	ctx := context.Background()
	left := memory.New("left")
	right := memory.New("right")
	c := testutil.NewTestCache(t)

	if err := left.AddFolder(ctx, "INBOX"); err != nil {
		t.Fatal(err)
	}
	if _, err := left.AddMessage(ctx, "INBOX", body("<m1@x>"), model.NewFlagSet(model.FlagSeen)); err != nil {
		t.Fatal(err)
	}

	report := runSync(t, left, right, c, defaultOpts())
	if report.TotalFailed() != 0 {
		t.Fatalf("hunks failed:\n%s", report.Summary())
	}

	folders, err := right.ListFolders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 1 || folders[0].Name != "INBOX" {
		t.Fatalf("INBOX was not created on the right: %v", folders)
	}

	rightFlags := flagsByKey(t, right, "INBOX")
	if rightFlags["<m1@x>"] != model.NewFlagSet(model.FlagSeen).String() {
		t.Errorf("message not replicated with its flags: %v", rightFlags)
	}

	for _, target := range []string{"left", "right"} {
		cachedFolders, err := c.ListFolders(ctx, "acc", target)
		if err != nil {
			t.Fatal(err)
		}
		if len(cachedFolders) != 1 {
			t.Errorf("folder not cached for %s: %v", target, cachedFolders)
		}
		cachedEnvs, err := c.ListEnvelopes(ctx, "acc", target, "INBOX")
		if err != nil {
			t.Fatal(err)
		}
		if len(cachedEnvs) != 1 || cachedEnvs[0].Key != "<m1@x>" {
			t.Errorf("envelope not cached for %s: %v", target, cachedEnvs)
		}
	}

	// A second run against the converged state schedules nothing.
	report = runSync(t, left, right, c, defaultOpts())
	if got := report.TotalAttempted(); got != 0 {
		t.Errorf("second run attempted %d hunks, want 0:\n%s", got, report.Summary())
	}
}

func TestSyncFlagPermissionRoundTrip(t *testing.T) {
	ctx := context.Background()
	left := memory.New("left")
	right := memory.New("right")
	c := testutil.NewTestCache(t)

	if err := left.AddFolder(ctx, "INBOX"); err != nil {
		t.Fatal(err)
	}
	id, err := left.AddMessage(ctx, "INBOX", body("<m1@x>"), model.NewFlagSet(model.FlagSeen))
	if err != nil {
		t.Fatal(err)
	}
	runSync(t, left, right, c, defaultOpts())

	// A flag added on the left while flag updates are forbidden must not
	// reach the right or either cache snapshot.
	if err := left.AddFlags(ctx, "INBOX", id, model.NewFlagSet(model.FlagFlagged)); err != nil {
		t.Fatal(err)
	}

	frozen := defaultOpts()
	frozen.Permissions.Flag.AllowUpdate = false
	runSync(t, left, right, c, frozen)

	if got := flagsByKey(t, right, "INBOX")["<m1@x>"]; got != model.NewFlagSet(model.FlagSeen).String() {
		t.Errorf("right flags changed with updates forbidden: %q", got)
	}
	for _, target := range []string{"left", "right"} {
		cached, err := c.ListEnvelopes(ctx, "acc", target, "INBOX")
		if err != nil {
			t.Fatal(err)
		}
		if len(cached) != 1 || cached[0].Flags != model.NewFlagSet(model.FlagSeen).String() {
			t.Errorf("cache for %s recorded flags the backend never received: %v", target, cached)
		}
	}

	// Restoring the permission propagates the flag instead of stripping it.
	runSync(t, left, right, c, defaultOpts())

	want := model.NewFlagSet(model.FlagSeen, model.FlagFlagged).String()
	if got := flagsByKey(t, left, "INBOX")["<m1@x>"]; got != want {
		t.Errorf("left lost its flag after the permission round trip: got %q, want %q", got, want)
	}
	if got := flagsByKey(t, right, "INBOX")["<m1@x>"]; got != want {
		t.Errorf("flag not propagated to the right after re-enabling: got %q, want %q", got, want)
	}
}

func TestSyncConvergence(t *testing.T) {
	ctx := context.Background()
	left := memory.New("left")
	right := memory.New("right")
	c := testutil.NewTestCache(t)

	for _, b := range []*memory.Backend{left, right} {
		for _, f := range []string{"INBOX", "Archive"} {
			if err := b.AddFolder(ctx, f); err != nil {
				t.Fatal(err)
			}
		}
	}

	// One message only on the left, one only on the right, one on both
	// with diverging flags.
	if _, err := left.AddMessage(ctx, "INBOX", body("<l@x>"), model.NewFlagSet()); err != nil {
		t.Fatal(err)
	}
	if _, err := right.AddMessage(ctx, "Archive", body("<r@x>"), model.NewFlagSet(model.FlagSeen)); err != nil {
		t.Fatal(err)
	}
	if _, err := left.AddMessage(ctx, "INBOX", body("<both@x>"), model.NewFlagSet(model.FlagSeen, model.FlagFlagged)); err != nil {
		t.Fatal(err)
	}
	if _, err := right.AddMessage(ctx, "INBOX", body("<both@x>"), model.NewFlagSet(model.FlagSeen)); err != nil {
		t.Fatal(err)
	}

	report := runSync(t, left, right, c, defaultOpts())
	if report.TotalFailed() != 0 {
		t.Fatalf("hunks failed:\n%s", report.Summary())
	}

	for _, folder := range []string{"INBOX", "Archive"} {
		leftFlags := flagsByKey(t, left, folder)
		rightFlags := flagsByKey(t, right, folder)
		if len(leftFlags) != len(rightFlags) {
			t.Fatalf("%s diverged: left %v, right %v", folder, leftFlags, rightFlags)
		}
		for key, flags := range leftFlags {
			if rightFlags[key] != flags {
				t.Errorf("%s/%s flags diverged: left %q, right %q", folder, key, flags, rightFlags[key])
			}
		}

		for _, target := range []string{"left", "right"} {
			cachedEnvs, err := c.ListEnvelopes(ctx, "acc", target, folder)
			if err != nil {
				t.Fatal(err)
			}
			if len(cachedEnvs) != len(leftFlags) {
				t.Errorf("%s cache for %s has %d rows, want %d", folder, target, len(cachedEnvs), len(leftFlags))
			}
			for _, env := range cachedEnvs {
				if env.Flags != leftFlags[env.Key] {
					t.Errorf("cached flags for %s/%s diverged: %q vs %q", folder, env.Key, env.Flags, leftFlags[env.Key])
				}
			}
		}
	}

	// Additive merge: the flag added on one side reached the other.
	if got := flagsByKey(t, right, "INBOX")["<both@x>"]; got != model.NewFlagSet(model.FlagSeen, model.FlagFlagged).String() {
		t.Errorf("flag merge lost a flag: %q", got)
	}

	report = runSync(t, left, right, c, defaultOpts())
	if got := report.TotalAttempted(); got != 0 {
		t.Errorf("second run attempted %d hunks, want 0:\n%s", got, report.Summary())
	}
}

func TestSyncDeletePropagation(t *testing.T) {
	ctx := context.Background()
	left := memory.New("left")
	right := memory.New("right")
	c := testutil.NewTestCache(t)

	if err := left.AddFolder(ctx, "INBOX"); err != nil {
		t.Fatal(err)
	}
	id, err := left.AddMessage(ctx, "INBOX", body("<m1@x>"), model.NewFlagSet())
	if err != nil {
		t.Fatal(err)
	}

	runSync(t, left, right, c, defaultOpts())

	// Delete on the left; the next run deletes on the right.
	if err := left.DeleteMessage(ctx, "INBOX", id); err != nil {
		t.Fatal(err)
	}
	runSync(t, left, right, c, defaultOpts())

	if got := flagsByKey(t, right, "INBOX"); len(got) != 0 {
		t.Errorf("deletion did not propagate: %v", got)
	}

	report := runSync(t, left, right, c, defaultOpts())
	if got := report.TotalAttempted(); got != 0 {
		t.Errorf("third run attempted %d hunks, want 0", got)
	}
}

func TestSyncFolderCreateForbidden(t *testing.T) {
	ctx := context.Background()
	left := memory.New("left")
	right := memory.New("right")
	c := testutil.NewTestCache(t)

	if err := left.AddFolder(ctx, "INBOX"); err != nil {
		t.Fatal(err)
	}
	if _, err := left.AddMessage(ctx, "INBOX", body("<m1@x>"), model.NewFlagSet()); err != nil {
		t.Fatal(err)
	}

	opts := defaultOpts()
	opts.Permissions.Folder.AllowCreate = false

	report := runSync(t, left, right, c, opts)

	folders, err := right.ListFolders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 0 {
		t.Errorf("folder created despite the create gate: %v", folders)
	}
	for _, r := range report.Folders {
		for _, hr := range r.Patch {
			if _, ok := hr.Hunk.(CreateFolder); ok {
				t.Errorf("CreateFolder hunk scheduled despite the gate: %v", hr.Hunk)
			}
			if _, ok := hr.Hunk.(CopyEnvelopeThenCache); ok {
				t.Errorf("message hunk scheduled for an uncreatable folder: %v", hr.Hunk)
			}
		}
	}
}

func TestSyncStrategyInclude(t *testing.T) {
	ctx := context.Background()
	left := memory.New("left")
	right := memory.New("right")
	c := testutil.NewTestCache(t)

	for _, f := range []string{"INBOX", "Spam"} {
		if err := left.AddFolder(ctx, f); err != nil {
			t.Fatal(err)
		}
		if _, err := left.AddMessage(ctx, f, body(fmt.Sprintf("<%s@x>", f)), model.NewFlagSet()); err != nil {
			t.Fatal(err)
		}
	}

	opts := defaultOpts()
	opts.Strategy = IncludeFolders("INBOX")

	report := runSync(t, left, right, c, opts)
	for _, r := range report.Folders {
		if r.Folder != "INBOX" {
			t.Errorf("hunks emitted for folder %q outside the include list", r.Folder)
		}
	}

	folders, err := right.ListFolders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 1 || folders[0].Name != "INBOX" {
		t.Errorf("unexpected folders on the right: %v", folders)
	}
}

func TestSyncBodies(t *testing.T) {
	ctx := context.Background()
	left := memory.New("left")
	right := memory.New("right")
	c := testutil.NewTestCache(t)

	if err := left.AddFolder(ctx, "INBOX"); err != nil {
		t.Fatal(err)
	}
	if _, err := left.AddMessage(ctx, "INBOX", body("<m1@x>"), model.NewFlagSet()); err != nil {
		t.Fatal(err)
	}

	opts := defaultOpts()
	opts.SyncBodies = true

	report := runSync(t, left, right, c, opts)
	if report.TotalFailed() != 0 {
		t.Fatalf("hunks failed:\n%s", report.Summary())
	}

	// Both sides carry a content-hash snapshot, and the hashes agree.
	var hashes []string
	for _, target := range []string{"left", "right"} {
		emails, err := c.ListEmails(ctx, "acc", target, "INBOX")
		if err != nil {
			t.Fatal(err)
		}
		if len(emails) != 1 {
			t.Fatalf("no email snapshot for %s: %v", target, emails)
		}
		hashes = append(hashes, emails[0].ContentHash)
	}
	if hashes[0] != hashes[1] {
		t.Errorf("content hashes diverged: %v", hashes)
	}

	report = runSync(t, left, right, c, opts)
	if got := report.TotalAttempted(); got != 0 {
		t.Errorf("second run attempted %d hunks, want 0:\n%s", got, report.Summary())
	}
}

func TestSyncListFailureSkipsFolder(t *testing.T) {
	ctx := context.Background()
	left := memory.New("left")
	right := memory.New("right")
	c := testutil.NewTestCache(t)

	for _, b := range []*memory.Backend{left, right} {
		if err := b.AddFolder(ctx, "INBOX"); err != nil {
			t.Fatal(err)
		}
	}
	right.ListEnvelopesErr = errors.New("simulated listing failure")

	report := runSync(t, left, right, c, defaultOpts())

	if len(report.Folders) != 1 {
		t.Fatalf("got %d folder reports, want 1", len(report.Folders))
	}
	if report.Folders[0].Err == nil {
		t.Error("listing failure not recorded as a folder-level error")
	}
	if report.Fatal != nil {
		t.Errorf("listing failure escalated to fatal: %v", report.Fatal)
	}
}

func TestSyncFatalCacheError(t *testing.T) {
	ctx := context.Background()
	left := memory.New("left")
	right := memory.New("right")

	fc := &flakyCache{
		Cache:           testutil.NewTestCache(t),
		upsertFolderErr: &cache.Error{Op: "upserting folder", Fatal: true, Err: errors.New("disk corrupted")},
	}

	if err := left.AddFolder(ctx, "INBOX"); err != nil {
		t.Fatal(err)
	}

	eng, err := New(left, right, fc, defaultOpts())
	if err != nil {
		t.Fatal(err)
	}
	report, err := eng.Sync(ctx)

	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected a SyncError, got %v", err)
	}
	if report.Fatal == nil {
		t.Error("fatal error missing from the report")
	}
}

func TestNewValidation(t *testing.T) {
	left := memory.New("left")
	right := memory.New("right")
	c := testutil.NewTestCache(t)

	opts := defaultOpts()
	opts.Account = ""
	if _, err := New(left, right, c, opts); err == nil {
		t.Error("missing account name accepted")
	}

	opts = defaultOpts()
	opts.MaxConcurrency = -1
	if _, err := New(left, right, c, opts); err == nil {
		t.Error("negative concurrency accepted")
	}

	// A send-only backend cannot serve as a sync side.
	sendOnly := smtp.New("out", smtp.Config{Host: "localhost", Port: 25})
	if _, err := New(left, sendOnly, c, defaultOpts()); err == nil {
		t.Error("send-only backend accepted as a sync side")
	}
}
