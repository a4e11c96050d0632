package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validAccount() AccountConfig {
	return AccountConfig{
		Name: "personal",
		Left: BackendConfig{
			Kind:     "imap",
			Host:     "imap.example.com",
			Port:     993,
			Username: "alice",
			TLS:      true,
		},
		Right: BackendConfig{
			Kind: "maildir",
			Path: "/home/alice/Mail",
		},
	}
}

func TestValidateAccount(t *testing.T) {
	acc := validAccount()
	if err := acc.Validate(); err != nil {
		t.Fatalf("valid account rejected: %v", err)
	}

	bad := validAccount()
	bad.Left.Kind = "carrier-pigeon"
	if err := bad.Validate(); err == nil {
		t.Error("unknown backend kind accepted")
	}

	bad = validAccount()
	bad.Right.Kind = "smtp"
	if err := bad.Validate(); err == nil {
		t.Error("send-only backend accepted as a sync side")
	}

	bad = validAccount()
	bad.Left.Kind = "notmuch"
	bad.Left.Path = "/home/alice/mail"
	if err := bad.Validate(); err == nil {
		t.Error("notmuch accepted as a sync side without an adapter")
	}

	bad = validAccount()
	bad.Left.Host = ""
	if err := bad.Validate(); err == nil {
		t.Error("imap backend without a host accepted")
	}

	bad = validAccount()
	bad.Right.Path = ""
	if err := bad.Validate(); err == nil {
		t.Error("maildir backend without a path accepted")
	}

	bad = validAccount()
	bad.Folders.Include = []string{"INBOX"}
	bad.Folders.Exclude = []string{"Spam"}
	if err := bad.Validate(); err == nil {
		t.Error("include and exclude accepted together")
	}

	bad = validAccount()
	bad.MaxConcurrency = -2
	if err := bad.Validate(); err == nil {
		t.Error("negative concurrency accepted")
	}
}

func TestValidateDuplicateAccounts(t *testing.T) {
	cfg := &Config{Accounts: []AccountConfig{validAccount(), validAccount()}}
	if err := cfg.Validate(); err == nil {
		t.Error("duplicate account names accepted")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope", "config.yaml"))
	if err != nil {
		t.Fatalf("missing file should yield defaults, got %v", err)
	}
	if len(cfg.Accounts) != 0 {
		t.Errorf("unexpected accounts: %v", cfg.Accounts)
	}
	if cfg.KeyringService != "mailmirror" {
		t.Errorf("KeyringService = %q", cfg.KeyringService)
	}
	if cfg.CachePath == "" {
		t.Error("CachePath default missing")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	orig := &Config{
		CachePath:      "/tmp/cache.db",
		KeyringService: "mailmirror-test",
		Accounts:       []AccountConfig{validAccount()},
	}
	orig.Accounts[0].Folders.Exclude = []string{"Spam"}
	orig.Accounts[0].SyncBodies = true
	orig.Accounts[0].Permissions = PermissionsConfig{
		CreateFolders:  true,
		DeleteFolders:  false,
		CreateMessages: true,
		DeleteMessages: true,
		UpdateFlags:    true,
	}

	if err := Save(path, orig); err != nil {
		t.Fatalf("saving config: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	if loaded.CachePath != orig.CachePath {
		t.Errorf("CachePath = %q, want %q", loaded.CachePath, orig.CachePath)
	}
	if loaded.KeyringService != orig.KeyringService {
		t.Errorf("KeyringService = %q", loaded.KeyringService)
	}
	if len(loaded.Accounts) != 1 {
		t.Fatalf("got %d accounts, want 1", len(loaded.Accounts))
	}

	acc := loaded.Accounts[0]
	if acc.Name != "personal" || acc.Left.Host != "imap.example.com" || acc.Right.Path != "/home/alice/Mail" {
		t.Errorf("account fields lost: %+v", acc)
	}
	if !acc.SyncBodies {
		t.Error("SyncBodies lost")
	}
	if len(acc.Folders.Exclude) != 1 || acc.Folders.Exclude[0] != "Spam" {
		t.Errorf("folder strategy lost: %+v", acc.Folders)
	}
	// Explicit false survives the permission defaulting.
	if acc.Permissions.DeleteFolders {
		t.Error("explicit delete_folders: false was overridden")
	}
	if !acc.Permissions.UpdateFlags {
		t.Error("update_flags lost")
	}
}

func TestLoadDefaultsAbsentPermissionsToTrue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
accounts:
  - name: personal
    left:
      kind: imap
      host: imap.example.com
      port: 993
      username: alice
    right:
      kind: maildir
      path: /home/alice/Mail
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	p := cfg.Accounts[0].Permissions
	if !p.CreateFolders || !p.DeleteFolders || !p.CreateMessages || !p.DeleteMessages || !p.UpdateFlags {
		t.Errorf("absent permissions should default to true: %+v", p)
	}
}
