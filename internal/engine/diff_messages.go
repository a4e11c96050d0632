package engine

import (
	"sort"

	"github.com/nhle/mailmirror/internal/cache"
	"github.com/nhle/mailmirror/internal/model"
)

// MessageState is the three-way snapshot of one folder's messages: the
// cached envelope snapshots per side and the live envelopes of both
// backends, all keyed by the backend-independent message key.
type MessageState struct {
	Folder      string
	CachedLeft  map[string]cache.Envelope
	CachedRight map[string]cache.Envelope
	Left        map[string]model.Envelope
	Right       map[string]model.Envelope

	// CachedEmailLeft/Right hold the per-side body snapshots, consulted
	// only when bodies are being synced.
	CachedEmailLeft  map[string]cache.Email
	CachedEmailRight map[string]cache.Email
}

// MessageDiffOptions tunes the message diff.
type MessageDiffOptions struct {
	Message MessageSyncPermissions

	// Flag gates flag reconciliation. When updates are forbidden the
	// diff proposes no flag changes at all, on the backends or in the
	// cache: a cache snapshot must never record flags a backend was not
	// given.
	Flag FlagSyncPermissions

	// SyncBodies switches creation and deletion to the email hunk
	// family, which carries full message bodies and maintains the
	// per-side content-hash cache. Flag reconciliation always uses
	// envelope hunks.
	SyncBodies bool
}

// messageKeys collects every key appearing anywhere in the state, sorted.
func (st MessageState) messageKeys() []string {
	seen := make(map[string]struct{})
	for k := range st.CachedLeft {
		seen[k] = struct{}{}
	}
	for k := range st.CachedRight {
		seen[k] = struct{}{}
	}
	for k := range st.Left {
		seen[k] = struct{}{}
	}
	for k := range st.Right {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DiffMessages computes the hunk sequence that makes the cache and both
// backends agree on one folder's messages and flags. Applying the
// result to a converged state yields an empty diff on the next run.
func DiffMessages(st MessageState, opts MessageDiffOptions) []Hunk {
	var hunks []Hunk

	cachedEnv := map[Target]map[string]cache.Envelope{
		TargetLeft:  st.CachedLeft,
		TargetRight: st.CachedRight,
	}
	cachedEmail := map[Target]map[string]cache.Email{
		TargetLeft:  st.CachedEmailLeft,
		TargetRight: st.CachedEmailRight,
	}
	live := map[Target]map[string]model.Envelope{
		TargetLeft:  st.Left,
		TargetRight: st.Right,
	}

	for _, key := range st.messageKeys() {
		envLeft, inLeft := st.Left[key]
		envRight, inRight := st.Right[key]
		_, cLeft := st.CachedLeft[key]
		_, cRight := st.CachedRight[key]
		inCache := cLeft || cRight

		switch {
		case !inLeft && !inRight:
			// Deleted out-of-band on both sides; drop the stale cache rows.
			for _, t := range targets {
				if _, ok := cachedEnv[t][key]; ok {
					hunks = append(hunks, UncacheEnvelope{Folder: st.Folder, Key: key, Target: t})
				}
				if _, ok := cachedEmail[t][key]; ok {
					hunks = append(hunks, UncacheEmail{Folder: st.Folder, Key: key, Target: t})
				}
			}

		case inLeft && inRight:
			hunks = append(hunks, diffFlags(st, opts, cachedEnv, envLeft, envRight, key)...)
			if opts.SyncBodies {
				// Adopt body snapshots for sides whose hash is unknown.
				for _, t := range targets {
					if _, ok := cachedEmail[t][key]; !ok {
						hunks = append(hunks, GetEmailThenCache{
							Folder:   st.Folder,
							Envelope: live[t][key],
							Source:   t,
						})
					}
				}
			}

		case !inCache:
			// A genuine creation on exactly one side: replicate it.
			source := TargetLeft
			env := envLeft
			if inRight {
				source = TargetRight
				env = envRight
			}
			if opts.SyncBodies {
				hunks = append(hunks, CopyEmailThenCache{
					Folder:             st.Folder,
					Envelope:           env,
					Source:             source,
					Target:             source.Opposite(),
					RefreshSourceCache: true,
				})
			} else {
				hunks = append(hunks, CopyEnvelopeThenCache{
					Folder:             st.Folder,
					Envelope:           env,
					Source:             source,
					Target:             source.Opposite(),
					RefreshSourceCache: true,
				})
			}

		default:
			// Known to the cache but gone from one side: the other side
			// deleted it.
			survivor := TargetLeft
			env := envLeft
			if inRight {
				survivor = TargetRight
				env = envRight
			}
			if opts.Message.AllowDelete {
				if opts.SyncBodies {
					hunks = append(hunks, DeleteEmail{Folder: st.Folder, Key: key, ID: env.ID, Target: survivor})
				} else {
					hunks = append(hunks, DeleteMessage{Folder: st.Folder, Key: key, ID: env.ID, Target: survivor})
				}
				for _, t := range targets {
					if _, ok := cachedEnv[t][key]; ok {
						hunks = append(hunks, UncacheEnvelope{Folder: st.Folder, Key: key, Target: t})
					}
					if _, ok := cachedEmail[t][key]; ok {
						hunks = append(hunks, UncacheEmail{Folder: st.Folder, Key: key, Target: t})
					}
				}
			} else {
				// Deletion is forbidden: restore the message on the
				// side that lost it.
				if opts.SyncBodies {
					hunks = append(hunks, CopyEmailThenCache{
						Folder:             st.Folder,
						Envelope:           env,
						Source:             survivor,
						Target:             survivor.Opposite(),
						RefreshSourceCache: true,
					})
				} else {
					hunks = append(hunks, CopyEnvelopeThenCache{
						Folder:             st.Folder,
						Envelope:           env,
						Source:             survivor,
						Target:             survivor.Opposite(),
						RefreshSourceCache: true,
					})
				}
			}
		}
	}

	return hunks
}

// diffFlags reconciles the flag sets of a message present on both
// backends. Flags merge additively: a flag present on either side is
// kept, and a flag is dropped only when the cache shows it was present
// at last sync and exactly one side has since removed it. With flag
// updates forbidden, each side's cache snapshot tracks that side's own
// flags so a later run with the permission restored merges from the
// true last-synced state.
func diffFlags(st MessageState, opts MessageDiffOptions, cachedEnv map[Target]map[string]cache.Envelope, envLeft, envRight model.Envelope, key string) []Hunk {
	cachedFlags := model.NewFlagSet()
	if e, ok := st.CachedLeft[key]; ok {
		cachedFlags = cachedFlags.Union(model.ParseFlagSet(e.Flags))
	}
	if e, ok := st.CachedRight[key]; ok {
		cachedFlags = cachedFlags.Union(model.ParseFlagSet(e.Flags))
	}

	merged := mergeFlags(envLeft.Flags, envRight.Flags, cachedFlags)

	var hunks []Hunk
	for _, t := range targets {
		env := envLeft
		if t == TargetRight {
			env = envRight
		}

		if !opts.Flag.AllowUpdate {
			// Adoption still happens, recording the side's actual flags.
			if _, ok := cachedEnv[t][key]; !ok {
				hunks = append(hunks, GetEnvelopeThenCache{
					Folder:   st.Folder,
					Envelope: env,
					Source:   t,
				})
			}
			continue
		}

		if !env.Flags.Equal(merged) {
			hunks = append(hunks, UpdateFlags{
				Folder:   st.Folder,
				Envelope: model.Envelope{ID: env.ID, MessageID: env.MessageID, Flags: merged},
				Target:   t,
			})
		}

		cached, ok := cachedEnv[t][key]
		switch {
		case !ok:
			// Present on both backends but unknown to this side's
			// cache: adopt it rather than copy it.
			hunks = append(hunks, GetEnvelopeThenCache{
				Folder:   st.Folder,
				Envelope: model.Envelope{ID: env.ID, MessageID: env.MessageID, Subject: env.Subject, From: env.From, Date: env.Date, Flags: merged},
				Source:   t,
			})
		case !model.ParseFlagSet(cached.Flags).Equal(merged):
			hunks = append(hunks, UpdateCachedFlags{
				Folder:   st.Folder,
				Envelope: model.Envelope{ID: cached.ID, MessageID: env.MessageID, Flags: merged},
				Target:   t,
			})
		}
	}
	return hunks
}

// mergeFlags computes the converged flag set for a message seen on both
// sides. A flag survives unless the cache recorded it and exactly one
// side removed it since the last sync; a flag added on either side is
// propagated to both.
func mergeFlags(left, right, cached model.FlagSet) model.FlagSet {
	merged := model.NewFlagSet()
	for f := range left.Union(right).Union(cached) {
		onLeft := left.Has(f)
		onRight := right.Has(f)

		switch {
		case onLeft && onRight:
			merged.Add(f)
		case !onLeft && !onRight:
			// Removed everywhere since the cache snapshot; stays gone.
		case cached.Has(f):
			// Was synced before and one side dropped it: an explicit
			// unset, propagated to the other side.
		default:
			// Newly added on one side: propagated additively.
			merged.Add(f)
		}
	}
	return merged
}
