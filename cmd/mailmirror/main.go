// mailmirror synchronizes mail between two backends through a local
// cache.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailmirror/internal/backend"
	"github.com/nhle/mailmirror/internal/backend/imap"
	"github.com/nhle/mailmirror/internal/backend/maildir"
	"github.com/nhle/mailmirror/internal/cache"
	"github.com/nhle/mailmirror/internal/config"
	"github.com/nhle/mailmirror/internal/credential"
	"github.com/nhle/mailmirror/internal/engine"
	"github.com/nhle/mailmirror/internal/ui/setup"
	"github.com/nhle/mailmirror/internal/ui/syncview"
)

var (
	configPath string
	account    string
	plain      bool
	verbose    bool
)

func init() {
	flag.Usage = func() {
		o := flag.CommandLine.Output()
		fmt.Fprintln(o, "Usage: mailmirror [-flags] command, where command is one of:")
		fmt.Fprintln(o, "  setup:    add an account interactively")
		fmt.Fprintln(o, "  sync:     reconcile the account's two backends")
		fmt.Fprintln(o, "  accounts: list configured accounts")
		fmt.Fprintln(o, "  folders:  list folders on both backends")
		fmt.Fprintln(o, "")
		fmt.Fprintln(o, "The available flags are:")
		flag.PrintDefaults()
	}

	flag.StringVar(&configPath, "c", config.DefaultConfigPath(), "configuration file path")
	flag.StringVar(&account, "a", "", "account name (required for sync and folders)")
	flag.BoolVar(&plain, "plain", false, "log progress as plain text instead of the TUI")
	flag.BoolVar(&verbose, "v", false, "verbose engine logging (implies -plain)")
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if verbose {
		plain = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "setup":
		err = runSetup()
	case "sync":
		err = runSync(ctx)
	case "accounts":
		err = runAccounts()
	case "folders":
		err = runFolders(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "mailmirror:", err)
		os.Exit(1)
	}
}

func runSetup() error {
	name, err := setup.NewWizard(configPath).Run()
	if err != nil {
		return err
	}
	fmt.Printf("account %q saved to %s\n", name, configPath)
	return nil
}

func runAccounts() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Accounts) == 0 {
		fmt.Println("no accounts configured; run mailmirror setup")
		return nil
	}
	for _, acc := range cfg.Accounts {
		fmt.Printf("%s\t%s <-> %s\n", acc.Name, describeSide(acc.Left), describeSide(acc.Right))
	}
	return nil
}

func describeSide(bc config.BackendConfig) string {
	switch backend.Kind(bc.Kind) {
	case backend.KindIMAP:
		return fmt.Sprintf("imap(%s@%s)", bc.Username, bc.Host)
	case backend.KindMaildir:
		return fmt.Sprintf("maildir(%s)", bc.Path)
	default:
		return bc.Kind
	}
}

func runFolders(ctx context.Context) error {
	cfg, acc, err := loadAccount()
	if err != nil {
		return err
	}

	creds := credential.NewStore(cfg.KeyringService)
	strategy := strategyFor(acc)
	for _, side := range []struct {
		label string
		cfg   config.BackendConfig
	}{{"left", acc.Left}, {"right", acc.Right}} {
		b, err := openBackend(creds, acc.Name, side.label, side.cfg)
		if err != nil {
			return err
		}
		folders, err := b.ListFolders(ctx)
		b.Close()
		if err != nil {
			return fmt.Errorf("listing folders on %s: %w", side.label, err)
		}
		fmt.Printf("%s (%s):\n", side.label, side.cfg.Kind)
		for _, f := range folders {
			if strategy.Matches(f.Name) {
				fmt.Printf("  %s\n", f.Name)
			} else {
				fmt.Printf("  %s (skipped)\n", f.Name)
			}
		}
	}
	return nil
}

func runSync(ctx context.Context) error {
	cfg, acc, err := loadAccount()
	if err != nil {
		return err
	}

	creds := credential.NewStore(cfg.KeyringService)

	left, err := openBackend(creds, acc.Name, "left", acc.Left)
	if err != nil {
		return err
	}
	defer left.Close()

	right, err := openBackend(creds, acc.Name, "right", acc.Right)
	if err != nil {
		return err
	}
	defer right.Close()

	store, err := cache.NewSQLiteCache(cfg.CachePath)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := engine.Options{
		Account:        acc.Name,
		Strategy:       strategyFor(acc),
		Permissions:    permissionsFor(acc),
		MaxConcurrency: acc.MaxConcurrency,
		SyncBodies:     acc.SyncBodies,
	}
	if verbose {
		opts.Logger = log.New(os.Stderr, "engine: ", log.LstdFlags)
	}

	if plain {
		eng, err := engine.New(left, right, store, opts)
		if err != nil {
			return err
		}
		report, err := eng.Sync(ctx)
		if report != nil {
			fmt.Println(report.Summary())
		}
		return err
	}

	events := make(chan engine.Event, 64)
	opts.Events = events

	eng, err := engine.New(left, right, store, opts)
	if err != nil {
		return err
	}

	result := make(chan syncview.Result, 1)
	go func() {
		report, err := eng.Sync(ctx)
		result <- syncview.Result{Report: report, Err: err}
		close(events)
	}()

	model := syncview.New(acc.Name, 0, events, result)
	final, err := tea.NewProgram(model, tea.WithContext(ctx)).Run()
	if err != nil {
		return fmt.Errorf("running sync view: %w", err)
	}

	outcome := final.(syncview.Model).Outcome()
	if outcome.Report != nil {
		fmt.Println(outcome.Report.Summary())
	}
	return outcome.Err
}

func loadAccount() (*config.Config, *config.AccountConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if account == "" {
		if len(cfg.Accounts) == 1 {
			return cfg, &cfg.Accounts[0], nil
		}
		return nil, nil, fmt.Errorf("choose an account with -a (run mailmirror accounts)")
	}
	acc, err := cfg.Account(account)
	if err != nil {
		return nil, nil, err
	}
	return cfg, acc, nil
}

// openBackend builds the adapter for one side, pulling its password
// from the system keyring.
func openBackend(creds *credential.Store, accountName, side string, bc config.BackendConfig) (backend.Backend, error) {
	name := accountName + "/" + side
	switch backend.Kind(bc.Kind) {
	case backend.KindIMAP:
		password, err := creds.Get(credential.Key(accountName, side))
		if err != nil {
			return nil, fmt.Errorf("no stored password for %s: %w", name, err)
		}
		return imap.New(name, imap.Config{
			Host:     bc.Host,
			Port:     strconv.Itoa(bc.Port),
			Username: bc.Username,
			Password: password,
			TLS:      bc.TLS,
		})
	case backend.KindMaildir:
		return maildir.New(name, bc.Path)
	default:
		return nil, fmt.Errorf("backend kind %q is not available as a sync side", bc.Kind)
	}
}

func strategyFor(acc *config.AccountConfig) engine.FolderStrategy {
	switch {
	case len(acc.Folders.Include) > 0:
		return engine.IncludeFolders(acc.Folders.Include...)
	case len(acc.Folders.Exclude) > 0:
		return engine.ExcludeFolders(acc.Folders.Exclude...)
	default:
		return engine.AllFolders()
	}
}

func permissionsFor(acc *config.AccountConfig) engine.Permissions {
	p := acc.Permissions
	return engine.Permissions{
		Folder: engine.FolderSyncPermissions{
			AllowCreate: p.CreateFolders,
			AllowDelete: p.DeleteFolders,
		},
		Message: engine.MessageSyncPermissions{
			AllowCreate: p.CreateMessages,
			AllowDelete: p.DeleteMessages,
		},
		Flag: engine.FlagSyncPermissions{
			AllowUpdate: p.UpdateFlags,
		},
	}
}
