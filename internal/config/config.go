// Package config loads and validates the mailmirror configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/nhle/mailmirror/internal/backend"
)

// BackendConfig describes one side of an account.
type BackendConfig struct {
	// Kind selects the adapter: "imap", "maildir", "notmuch",
	// "sendmail" or "smtp".
	Kind string `mapstructure:"kind" yaml:"kind"`

	// Host and Port locate a network backend (imap, smtp).
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	// Username is the login name; the password lives in the system
	// keyring, never in this file.
	Username string `mapstructure:"username" yaml:"username"`

	// TLS selects implicit TLS; otherwise STARTTLS.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// Path is the root directory of a local backend (maildir, notmuch).
	Path string `mapstructure:"path" yaml:"path"`
}

// PermissionsConfig gates which operations a sync may perform. All
// fields default to true when absent from the file.
type PermissionsConfig struct {
	CreateFolders  bool `mapstructure:"create_folders" yaml:"create_folders"`
	DeleteFolders  bool `mapstructure:"delete_folders" yaml:"delete_folders"`
	CreateMessages bool `mapstructure:"create_messages" yaml:"create_messages"`
	DeleteMessages bool `mapstructure:"delete_messages" yaml:"delete_messages"`
	UpdateFlags    bool `mapstructure:"update_flags" yaml:"update_flags"`
}

// FoldersConfig selects the folders an account syncs. Include and
// Exclude are mutually exclusive; with neither set, every folder is
// synced.
type FoldersConfig struct {
	Include []string `mapstructure:"include" yaml:"include"`
	Exclude []string `mapstructure:"exclude" yaml:"exclude"`
}

// AccountConfig pairs two backends for synchronization.
type AccountConfig struct {
	// Name is the unique label for this account; it namespaces the
	// cache rows and keyring entries.
	Name string `mapstructure:"name" yaml:"name"`

	Left  BackendConfig `mapstructure:"left" yaml:"left"`
	Right BackendConfig `mapstructure:"right" yaml:"right"`

	Folders     FoldersConfig     `mapstructure:"folders" yaml:"folders"`
	Permissions PermissionsConfig `mapstructure:"permissions" yaml:"permissions"`

	// MaxConcurrency bounds the folder worker pool; 0 means the engine
	// default.
	MaxConcurrency int `mapstructure:"max_concurrency" yaml:"max_concurrency"`

	// SyncBodies enables full message body synchronization with the
	// content-hash cache.
	SyncBodies bool `mapstructure:"sync_bodies" yaml:"sync_bodies"`
}

// Config is the top-level application configuration.
type Config struct {
	// CachePath is the SQLite database location; empty means the
	// default next to the config file.
	CachePath string `mapstructure:"cache_path" yaml:"cache_path"`

	// KeyringService names the system keyring service holding the
	// backend passwords.
	KeyringService string `mapstructure:"keyring_service" yaml:"keyring_service"`

	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailmirror/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailmirror", "config.yaml")
}

// DefaultCachePath returns the default SQLite database path.
func DefaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "cache.db")
	}
	return filepath.Join(home, ".config", "mailmirror", "cache.db")
}

func defaultConfig() *Config {
	return &Config{
		CachePath:      DefaultCachePath(),
		KeyringService: "mailmirror",
		Accounts:       []AccountConfig{},
	}
}

// Load reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("cache_path", DefaultCachePath())
	v.SetDefault("keyring_service", "mailmirror")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Viper unmarshals missing bools as false; permissions default to
	// true, so distinguish explicit false from absent via the raw keys.
	for i := range cfg.Accounts {
		p := &cfg.Accounts[i].Permissions
		prefix := fmt.Sprintf("accounts.%d.permissions.", i)
		for key, field := range map[string]*bool{
			"create_folders":  &p.CreateFolders,
			"delete_folders":  &p.DeleteFolders,
			"create_messages": &p.CreateMessages,
			"delete_messages": &p.DeleteMessages,
			"update_flags":    &p.UpdateFlags,
		} {
			if !v.IsSet(prefix + key) {
				*field = true
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the given configuration to a YAML file at path, creating
// parent directories if needed.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("cache_path", cfg.CachePath)
	v.Set("keyring_service", cfg.KeyringService)
	v.Set("accounts", cfg.Accounts)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// Account returns the account with the given name.
func (c *Config) Account(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account %q not found", name)
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.Name == "" {
			return fmt.Errorf("account %d: name is required", i)
		}
		if seen[acc.Name] {
			return fmt.Errorf("account %q: duplicate name", acc.Name)
		}
		seen[acc.Name] = true
		if err := acc.Validate(); err != nil {
			return fmt.Errorf("account %q: %w", acc.Name, err)
		}
	}
	return nil
}

// syncKinds are the backend kinds that can serve as a sync side.
// Send-only kinds (smtp, sendmail) cannot: a sync side must be able to
// list folders and messages. Notmuch is a reserved kind with no adapter
// yet, so it is rejected here rather than at backend-open time.
var syncKinds = map[string]bool{
	string(backend.KindIMAP):    true,
	string(backend.KindMaildir): true,
}

var knownKinds = map[string]bool{
	string(backend.KindIMAP):     true,
	string(backend.KindMaildir):  true,
	string(backend.KindNotmuch):  true,
	string(backend.KindSendmail): true,
	string(backend.KindSMTP):     true,
}

// Validate checks one account's settings.
func (a *AccountConfig) Validate() error {
	for side, bc := range map[string]BackendConfig{"left": a.Left, "right": a.Right} {
		if !knownKinds[bc.Kind] {
			return fmt.Errorf("%s: unknown backend kind %q", side, bc.Kind)
		}
		if !syncKinds[bc.Kind] {
			return fmt.Errorf("%s: backend kind %q cannot serve as a sync side", side, bc.Kind)
		}
		switch backend.Kind(bc.Kind) {
		case backend.KindIMAP:
			if bc.Host == "" {
				return fmt.Errorf("%s: imap backend requires a host", side)
			}
		case backend.KindMaildir:
			if bc.Path == "" {
				return fmt.Errorf("%s: maildir backend requires a path", side)
			}
		}
	}

	if len(a.Folders.Include) > 0 && len(a.Folders.Exclude) > 0 {
		return fmt.Errorf("folders: include and exclude are mutually exclusive")
	}
	if a.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must not be negative, got %d", a.MaxConcurrency)
	}
	return nil
}
