package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailmirror/internal/backend"
	"github.com/nhle/mailmirror/internal/cache"
	"github.com/nhle/mailmirror/internal/model"
)

// defaultConcurrency bounds the number of folders synced in parallel
// when the caller does not choose a limit.
const defaultConcurrency = 4

// SyncError is the hard failure of a whole sync invocation, distinct
// from the per-hunk errors collected in the report. It wraps fatal
// cache errors and pre-flight failures.
type SyncError struct {
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync aborted: %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Options configures a sync run.
type Options struct {
	// Account namespaces the cache rows for this backend pair.
	Account string

	// Strategy selects which folders participate.
	Strategy FolderStrategy

	// Permissions gates which hunk kinds may be scheduled.
	Permissions Permissions

	// MaxConcurrency bounds the folder worker pool. Defaults to 4.
	MaxConcurrency int

	// SyncBodies enables the email domain: message creation and
	// deletion carry full bodies and maintain a per-side content-hash
	// cache. Requires body retrieval on both backends.
	SyncBodies bool

	// Events, when set, receives best-effort progress notifications.
	Events chan<- Event

	// Logger, when set, receives progress log lines.
	Logger *log.Logger
}

// requiredCaps are the backend operations a sync side must support.
var requiredCaps = []backend.Capability{
	backend.CanListFolders,
	backend.CanListEnvelopes,
	backend.CanGetMessage,
	backend.CanAddMessage,
	backend.CanSetFlags,
}

// Engine reconciles folders, envelopes and message bodies between two
// backends through the cache.
type Engine struct {
	left  backend.Backend
	right backend.Backend
	cache cache.Cache
	opts  Options
}

// New validates the configuration and builds an Engine. Configuration
// errors fail fast, before any hunk is scheduled.
func New(left, right backend.Backend, c cache.Cache, opts Options) (*Engine, error) {
	if opts.Account == "" {
		return nil, fmt.Errorf("engine: account name is required")
	}
	if opts.MaxConcurrency < 0 {
		return nil, fmt.Errorf("engine: negative concurrency %d", opts.MaxConcurrency)
	}
	if opts.MaxConcurrency == 0 {
		opts.MaxConcurrency = defaultConcurrency
	}

	for _, b := range []backend.Backend{left, right} {
		for _, required := range requiredCaps {
			if !b.Capabilities().Has(required) {
				return nil, fmt.Errorf("engine: backend %s (%s) lacks capability %q",
					b.Name(), b.Kind(), required)
			}
		}
	}

	return &Engine{left: left, right: right, cache: c, opts: opts}, nil
}

// Sync runs a full reconciliation. It always returns a report
// enumerating every attempted hunk; the error is non-nil only when the
// run could not complete (fatal cache error or pre-flight failure), so
// callers can distinguish "partially succeeded" from "could not run".
func (e *Engine) Sync(ctx context.Context) (*SyncReport, error) {
	report := &SyncReport{
		RunID:     uuid.New().String(),
		Account:   e.opts.Account,
		StartedAt: time.Now(),
	}

	state, err := e.snapshotFolders(ctx)
	if err != nil {
		report.Fatal = err
		report.FinishedAt = time.Now()
		return report, &SyncError{Err: err}
	}

	folderHunks := DiffFolders(state, e.opts.Permissions.Folder)
	folderPatches := BuildPatches(folderHunks, e.opts.Strategy, e.opts.Permissions)

	folders := e.folderScope(state, folderPatches)
	e.logf("syncing %d folders (concurrency %d)", len(folders), e.opts.MaxConcurrency)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fatalMu sync.Mutex
		fatal   error
	)
	setFatal := func(err error) {
		fatalMu.Lock()
		if fatal == nil {
			fatal = err
			cancel()
		}
		fatalMu.Unlock()
	}

	results := make(chan Report, len(folders))
	sem := make(chan struct{}, e.opts.MaxConcurrency)
	var wg sync.WaitGroup

	for _, folder := range folders {
		// Stop scheduling new folders once the run is cancelled;
		// in-flight workers finish and report.
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(folder string) {
			defer wg.Done()
			defer func() { <-sem }()
			results <- e.syncFolder(ctx, state, folder, folderPatches[folder], setFatal)
		}(folder)
	}

	wg.Wait()
	close(results)
	for rep := range results {
		report.Add(rep)
	}

	report.FinishedAt = time.Now()

	fatalMu.Lock()
	report.Fatal = fatal
	fatalMu.Unlock()

	if report.Fatal != nil {
		return report, &SyncError{Err: report.Fatal}
	}
	return report, nil
}

// snapshotFolders takes the three-way folder view: cached sets per side
// and the live folder lists of both backends. A side that cannot even
// be listed makes the run impossible.
func (e *Engine) snapshotFolders(ctx context.Context) (FolderState, error) {
	st := FolderState{
		CachedLeft:  make(map[string]struct{}),
		CachedRight: make(map[string]struct{}),
		Left:        make(map[string]struct{}),
		Right:       make(map[string]struct{}),
	}

	for _, t := range targets {
		cached, err := e.cache.ListFolders(ctx, e.opts.Account, t.String())
		if err != nil {
			return st, fmt.Errorf("listing cached folders for %s: %w", t, err)
		}
		set := st.CachedLeft
		if t == TargetRight {
			set = st.CachedRight
		}
		for _, f := range cached {
			set[f.Name] = struct{}{}
		}

		live, err := e.backendFor(t).ListFolders(ctx)
		if err != nil {
			return st, fmt.Errorf("listing folders on %s: %w", e.backendFor(t).Name(), err)
		}
		liveSet := st.Left
		if t == TargetRight {
			liveSet = st.Right
		}
		for _, f := range live {
			liveSet[f.Name] = struct{}{}
		}
	}

	return st, nil
}

// folderScope returns the sorted folder names participating in the run:
// every folder seen anywhere, filtered by strategy, plus any folder
// that already has a patch.
func (e *Engine) folderScope(state FolderState, patches Patches) []string {
	seen := make(map[string]struct{})
	for _, name := range state.FolderNames() {
		if e.opts.Strategy.Matches(name) {
			seen[name] = struct{}{}
		}
	}
	for name := range patches {
		seen[name] = struct{}{}
	}

	folders := make([]string, 0, len(seen))
	for name := range seen {
		folders = append(folders, name)
	}
	sort.Strings(folders)
	return folders
}

// syncFolder runs one folder's full patch: folder creation first, then
// message reconciliation, then folder deletion last.
func (e *Engine) syncFolder(ctx context.Context, state FolderState, folder string, folderPatch Patch, setFatal func(error)) Report {
	events := emitter(e.opts.Events)
	events.send(Event{Type: EventFolderStarted, Folder: folder})
	defer events.send(Event{Type: EventFolderFinished, Folder: folder})

	runner := &Runner{
		Account: e.opts.Account,
		Left:    e.left,
		Right:   e.right,
		Cache:   e.cache,
		Events:  events,
	}

	var pre, post Patch
	for _, h := range folderPatch {
		if hunkStage(h) == 0 {
			pre = append(pre, h)
		} else {
			post = append(post, h)
		}
	}

	rep, fatal := runner.Run(ctx, folder, pre)
	if fatal != nil {
		setFatal(fatal)
		return rep
	}

	if e.folderReady(state, folder, TargetLeft, rep) && e.folderReady(state, folder, TargetRight, rep) {
		msgRep, fatal := e.syncMessages(ctx, folder, runner)
		rep.Patch = append(rep.Patch, msgRep.Patch...)
		rep.CachePatch = append(rep.CachePatch, msgRep.CachePatch...)
		rep.Err = msgRep.Err
		if fatal != nil {
			setFatal(fatal)
			return rep
		}
	}

	postRep, fatal := runner.Run(ctx, folder, post)
	rep.Patch = append(rep.Patch, postRep.Patch...)
	rep.CachePatch = append(rep.CachePatch, postRep.CachePatch...)
	if fatal != nil {
		setFatal(fatal)
	}
	return rep
}

// folderReady reports whether the folder exists on the given side, either
// because the backend already had it or because a CreateFolder hunk for
// that side just succeeded.
func (e *Engine) folderReady(state FolderState, folder string, t Target, rep Report) bool {
	live := state.Left
	if t == TargetRight {
		live = state.Right
	}
	if contains(live, folder) {
		return true
	}
	for _, hr := range rep.Patch {
		if h, ok := hr.Hunk.(CreateFolder); ok && h.Target == t && hr.Err == nil {
			return true
		}
	}
	return false
}

// syncMessages reconciles one folder's envelopes (and bodies, when
// enabled). Listing failures are folder-level errors: they skip the
// folder but never abort the run.
func (e *Engine) syncMessages(ctx context.Context, folder string, runner *Runner) (Report, error) {
	st, err := e.snapshotMessages(ctx, folder)
	if err != nil {
		if cache.IsFatal(err) {
			return Report{Folder: folder, Err: err}, err
		}
		e.logf("skipping folder %s: %v", folder, err)
		return Report{Folder: folder, Err: err}, nil
	}

	hunks := DiffMessages(st, MessageDiffOptions{
		Message:    e.opts.Permissions.Message,
		Flag:       e.opts.Permissions.Flag,
		SyncBodies: e.opts.SyncBodies,
	})
	patch := BuildPatches(hunks, e.opts.Strategy, e.opts.Permissions)[folder]
	if len(patch) == 0 {
		return Report{Folder: folder}, nil
	}

	return runner.Run(ctx, folder, patch)
}

// snapshotMessages takes the three-way message view for one folder.
func (e *Engine) snapshotMessages(ctx context.Context, folder string) (MessageState, error) {
	st := MessageState{
		Folder:           folder,
		CachedLeft:       make(map[string]cache.Envelope),
		CachedRight:      make(map[string]cache.Envelope),
		Left:             make(map[string]model.Envelope),
		Right:            make(map[string]model.Envelope),
		CachedEmailLeft:  make(map[string]cache.Email),
		CachedEmailRight: make(map[string]cache.Email),
	}

	for _, t := range targets {
		cached, err := e.cache.ListEnvelopes(ctx, e.opts.Account, t.String(), folder)
		if err != nil {
			return st, fmt.Errorf("listing cached envelopes in %s for %s: %w", folder, t, err)
		}
		cachedSet := st.CachedLeft
		if t == TargetRight {
			cachedSet = st.CachedRight
		}
		for _, env := range cached {
			cachedSet[env.Key] = env
		}

		live, err := e.backendFor(t).ListEnvelopes(ctx, folder, backend.Page{})
		if err != nil {
			return st, fmt.Errorf("listing envelopes in %s on %s: %w", folder, e.backendFor(t).Name(), err)
		}
		liveSet := st.Left
		if t == TargetRight {
			liveSet = st.Right
		}
		for _, env := range live {
			liveSet[env.Key()] = env
		}

		if e.opts.SyncBodies {
			emails, err := e.cache.ListEmails(ctx, e.opts.Account, t.String(), folder)
			if err != nil {
				return st, fmt.Errorf("listing cached emails in %s for %s: %w", folder, t, err)
			}
			emailSet := st.CachedEmailLeft
			if t == TargetRight {
				emailSet = st.CachedEmailRight
			}
			for _, em := range emails {
				emailSet[em.Key] = em
			}
		}
	}

	return st, nil
}

func (e *Engine) backendFor(t Target) backend.Backend {
	if t == TargetLeft {
		return e.left
	}
	return e.right
}

func (e *Engine) logf(format string, args ...any) {
	if e.opts.Logger != nil {
		e.opts.Logger.Printf(format, args...)
	}
}
