// Package setup provides the interactive account wizard. It collects
// the settings for both sides of a new account, stores passwords in the
// system keyring and appends the account to the configuration file.
package setup

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/mailmirror/internal/backend"
	"github.com/nhle/mailmirror/internal/config"
	"github.com/nhle/mailmirror/internal/credential"
)

// sideForm holds the raw form fields for one backend.
type sideForm struct {
	kind     string
	host     string
	port     string
	username string
	password string
	tls      bool
	path     string
}

// Wizard collects a new account interactively.
type Wizard struct {
	configPath string

	name  string
	left  sideForm
	right sideForm
}

// NewWizard creates a wizard that saves into the given config file.
func NewWizard(configPath string) *Wizard {
	return &Wizard{configPath: configPath}
}

// Run walks the user through the forms, then persists the account. It
// returns the name of the account that was created.
func (w *Wizard) Run() (string, error) {
	cfg, err := config.Load(w.configPath)
	if err != nil {
		return "", err
	}

	nameForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Account name").
				Description("A unique label for this backend pair").
				Placeholder("personal").
				Value(&w.name).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("account name is required")
					}
					if _, err := cfg.Account(s); err == nil {
						return fmt.Errorf("account %q already exists", s)
					}
					return nil
				}),
		),
	)
	if err := nameForm.Run(); err != nil {
		return "", err
	}

	if err := w.collectSide("Left backend", &w.left); err != nil {
		return "", err
	}
	if err := w.collectSide("Right backend", &w.right); err != nil {
		return "", err
	}

	acc := config.AccountConfig{
		Name:        w.name,
		Left:        w.left.toConfig(),
		Right:       w.right.toConfig(),
		Permissions: config.PermissionsConfig{CreateFolders: true, DeleteFolders: true, CreateMessages: true, DeleteMessages: true, UpdateFlags: true},
	}
	if err := acc.Validate(); err != nil {
		return "", err
	}

	creds := credential.NewStore(cfg.KeyringService)
	for side, f := range map[string]*sideForm{"left": &w.left, "right": &w.right} {
		if f.password == "" {
			continue
		}
		if err := creds.Set(credential.Key(w.name, side), f.password); err != nil {
			return "", err
		}
	}

	cfg.Accounts = append(cfg.Accounts, acc)
	if err := config.Save(w.configPath, cfg); err != nil {
		return "", err
	}
	return w.name, nil
}

// collectSide runs the kind selector and the kind-specific form for one
// side.
func (w *Wizard) collectSide(title string, f *sideForm) error {
	kindForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(title).
				Description("Where this side's mail lives").
				Options(
					huh.NewOption("IMAP - remote mail server", string(backend.KindIMAP)),
					huh.NewOption("Maildir - local Maildir++ tree", string(backend.KindMaildir)),
				).
				Value(&f.kind),
		),
	)
	if err := kindForm.Run(); err != nil {
		return err
	}

	switch backend.Kind(f.kind) {
	case backend.KindIMAP:
		return w.collectIMAP(title, f)
	case backend.KindMaildir:
		return w.collectMaildir(title, f)
	default:
		return fmt.Errorf("unknown backend kind %q", f.kind)
	}
}

func (w *Wizard) collectIMAP(title string, f *sideForm) error {
	if f.port == "" {
		f.port = "993"
	}
	f.tls = true

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Host").
				Placeholder("imap.example.com").
				Value(&f.host).
				Validate(required("Host")),
			huh.NewInput().
				Title("Port").
				Value(&f.port).
				Validate(func(s string) error {
					if _, err := strconv.Atoi(s); err != nil {
						return fmt.Errorf("port must be a number")
					}
					return nil
				}),
			huh.NewInput().
				Title("Username").
				Value(&f.username).
				Validate(required("Username")),
			huh.NewInput().
				Title("Password").
				Description("Stored in the system keyring").
				EchoMode(huh.EchoModePassword).
				Value(&f.password),
			huh.NewConfirm().
				Title("Implicit TLS").
				Description("No: upgrade with STARTTLS").
				Value(&f.tls),
		).Title(title),
	)
	return form.Run()
}

func (w *Wizard) collectMaildir(title string, f *sideForm) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Path").
				Description("Root of the Maildir++ tree").
				Placeholder("~/Mail").
				Value(&f.path).
				Validate(required("Path")),
		).Title(title),
	)
	return form.Run()
}

func (f *sideForm) toConfig() config.BackendConfig {
	port, _ := strconv.Atoi(f.port)
	return config.BackendConfig{
		Kind:     f.kind,
		Host:     f.host,
		Port:     port,
		Username: f.username,
		TLS:      f.tls,
		Path:     f.path,
	}
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
