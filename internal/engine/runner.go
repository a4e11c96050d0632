package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/nhle/mailmirror/internal/backend"
	"github.com/nhle/mailmirror/internal/cache"
	"github.com/nhle/mailmirror/internal/model"
)

// ErrAborted marks hunks that were scheduled but never applied because
// a fatal cache error stopped the patch.
var ErrAborted = errors.New("aborted by fatal cache error")

// ErrFlagUpdateSkipped marks a cached-flag hunk that was not applied
// because the backend flag update for the same message failed earlier
// in the patch. Writing it anyway would record flags the backend never
// received.
var ErrFlagUpdateSkipped = errors.New("backend flag update failed; cached flags left unchanged")

// Runner executes a patch's hunks against the two backends and the
// cache, isolating failures per hunk: a failed hunk is recorded and the
// next one is still attempted. Only a fatal cache error aborts the
// remaining hunks, which are then reported with ErrAborted.
type Runner struct {
	Account string
	Left    backend.Backend
	Right   backend.Backend
	Cache   cache.Cache
	Events  emitter
}

// Run applies the patch's hunks strictly in order and returns the
// folder report. The returned fatal error, when non-nil, must abort the
// whole sync run.
func (r *Runner) Run(ctx context.Context, folder string, patch Patch) (Report, error) {
	rep := Report{Folder: folder}
	var fatal error
	failedFlags := make(map[flagRef]struct{})

	for _, h := range patch {
		if fatal != nil {
			rep.Patch = append(rep.Patch, HunkResult{Hunk: h, Err: ErrAborted})
			continue
		}

		if uc, ok := h.(UpdateCachedFlags); ok {
			if _, failed := failedFlags[flagRef{uc.Envelope.Key(), uc.Target}]; failed {
				rep.Patch = append(rep.Patch, HunkResult{Hunk: h, Err: ErrFlagUpdateSkipped})
				r.Events.send(Event{Type: EventHunkFailed, Folder: folder, Hunk: h.String(), Err: ErrFlagUpdateSkipped})
				continue
			}
		}

		err, cacheErr := r.apply(ctx, h)
		if uf, ok := h.(UpdateFlags); ok && err != nil {
			failedFlags[flagRef{uf.Envelope.Key(), uf.Target}] = struct{}{}
		}

		rep.Patch = append(rep.Patch, HunkResult{Hunk: h, Err: err})
		if cacheErr != nil {
			rep.CachePatch = append(rep.CachePatch, HunkResult{Hunk: h, Err: cacheErr})
		}

		if err != nil || cacheErr != nil {
			r.Events.send(Event{Type: EventHunkFailed, Folder: folder, Hunk: h.String(), Err: err})
		} else {
			r.Events.send(Event{Type: EventHunkApplied, Folder: folder, Hunk: h.String()})
		}

		for _, e := range []error{err, cacheErr} {
			if cache.IsFatal(e) {
				fatal = e
				break
			}
		}
	}

	return rep, fatal
}

// apply executes a single hunk. The first return value is the hunk's
// outcome; the second reports a cache write that failed after the
// backend operation already succeeded (cache divergence).
func (r *Runner) apply(ctx context.Context, h Hunk) (error, error) {
	switch h := h.(type) {
	case CreateFolder:
		return r.target(h.Target).AddFolder(ctx, h.Folder), nil

	case CacheFolder:
		return r.Cache.UpsertFolder(ctx, cache.Folder{
			Account: r.Account,
			Target:  h.Target.String(),
			Name:    h.Folder,
		}), nil

	case DeleteFolder:
		return r.target(h.Target).DeleteFolder(ctx, h.Folder), nil

	case UncacheFolder:
		return r.Cache.RemoveFolder(ctx, r.Account, h.Target.String(), h.Folder), nil

	case GetEnvelopeThenCache:
		return r.cacheEnvelope(ctx, h.Folder, h.Source, h.Envelope), nil

	case CopyEnvelopeThenCache:
		return r.copyMessage(ctx, h.Folder, h.Envelope, h.Source, h.Target, h.RefreshSourceCache, false)

	case UpdateFlags:
		return r.target(h.Target).SetFlags(ctx, h.Folder, h.Envelope.ID, h.Envelope.Flags), nil

	case UpdateCachedFlags:
		return r.cacheEnvelope(ctx, h.Folder, h.Target, h.Envelope), nil

	case UncacheEnvelope:
		return r.Cache.RemoveEnvelope(ctx, r.Account, h.Target.String(), h.Folder, h.Key), nil

	case DeleteMessage:
		return r.target(h.Target).DeleteMessage(ctx, h.Folder, h.ID), nil

	case GetEmailThenCache:
		return r.cacheEmailHash(ctx, h.Folder, h.Source, h.Envelope)

	case CopyEmailThenCache:
		return r.copyMessage(ctx, h.Folder, h.Envelope, h.Source, h.Target, h.RefreshSourceCache, true)

	case UncacheEmail:
		return r.Cache.RemoveEmail(ctx, r.Account, h.Target.String(), h.Folder, h.Key), nil

	case DeleteEmail:
		return r.target(h.Target).DeleteMessage(ctx, h.Folder, h.ID), nil

	default:
		return fmt.Errorf("unknown hunk type %T", h), nil
	}
}

// flagRef identifies one message's flag state on one side.
type flagRef struct {
	key    string
	target Target
}

func (r *Runner) target(t Target) backend.Backend {
	if t == TargetLeft {
		return r.Left
	}
	return r.Right
}

// cacheEnvelope writes an envelope snapshot into the cache for one side.
func (r *Runner) cacheEnvelope(ctx context.Context, folder string, t Target, env model.Envelope) error {
	return r.Cache.UpsertEnvelope(ctx, cache.Envelope{
		Account: r.Account,
		Target:  t.String(),
		Folder:  folder,
		Key:     env.Key(),
		ID:      env.ID,
		Flags:   env.Flags.String(),
	})
}

// cacheEmailHash fetches the body from the source backend and records
// its content hash for that side.
func (r *Runner) cacheEmailHash(ctx context.Context, folder string, source Target, env model.Envelope) (error, error) {
	msg, err := r.target(source).GetMessage(ctx, folder, env.ID)
	if err != nil {
		return fmt.Errorf("fetching message %s: %w", env.Key(), err), nil
	}

	cacheErr := r.Cache.UpsertEmail(ctx, cache.Email{
		Account:     r.Account,
		Target:      source.String(),
		Folder:      folder,
		Key:         env.Key(),
		ID:          env.ID,
		ContentHash: contentHash(msg.Body),
	})
	return nil, cacheErr
}

// copyMessage transfers a message from source to target and records the
// cache entries for the target side (and the source side when
// refreshSource is set). Cache failures after a successful transfer are
// returned separately so the divergence is reported, not hidden.
func (r *Runner) copyMessage(ctx context.Context, folder string, env model.Envelope, source, target Target, refreshSource, withBody bool) (error, error) {
	src := r.target(source)
	dst := r.target(target)

	msg, err := src.GetMessage(ctx, folder, env.ID)
	if err != nil {
		return fmt.Errorf("fetching message %s from %s: %w", env.Key(), src.Name(), err), nil
	}

	newID, err := dst.AddMessage(ctx, folder, msg.Body, env.Flags)
	if err != nil {
		return fmt.Errorf("adding message %s to %s: %w", env.Key(), dst.Name(), err), nil
	}

	var cacheErr error
	record := func(t Target, id string) {
		targetEnv := env
		targetEnv.ID = id
		if err := r.cacheEnvelope(ctx, folder, t, targetEnv); err != nil && cacheErr == nil {
			cacheErr = err
		}
		if withBody {
			err := r.Cache.UpsertEmail(ctx, cache.Email{
				Account:     r.Account,
				Target:      t.String(),
				Folder:      folder,
				Key:         env.Key(),
				ID:          id,
				ContentHash: contentHash(msg.Body),
			})
			if err != nil && cacheErr == nil {
				cacheErr = err
			}
		}
	}

	record(target, newID)
	if refreshSource {
		record(source, env.ID)
	}

	return nil, cacheErr
}

func contentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
