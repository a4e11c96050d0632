package engine

import "sort"

// FolderState is the three-way snapshot the folder diff works from:
// the cached folder sets per side and the live folder sets of both
// backends.
type FolderState struct {
	CachedLeft  map[string]struct{}
	CachedRight map[string]struct{}
	Left        map[string]struct{}
	Right       map[string]struct{}
}

// FolderNames collects every folder name appearing anywhere in the
// state, sorted.
func (st FolderState) FolderNames() []string {
	seen := make(map[string]struct{})
	for _, set := range []map[string]struct{}{st.CachedLeft, st.CachedRight, st.Left, st.Right} {
		for name := range set {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DiffFolders computes the hunk sequence that makes the cache and both
// backends agree on folder existence. Output order is deterministic
// (sorted folder names, left before right). perms is consulted only for
// the delete-forbidden fallback: a folder deleted on one side is
// re-created there instead of being deleted on the survivor.
func DiffFolders(st FolderState, perms FolderSyncPermissions) []Hunk {
	var hunks []Hunk

	cached := map[Target]map[string]struct{}{
		TargetLeft:  st.CachedLeft,
		TargetRight: st.CachedRight,
	}
	for _, name := range st.FolderNames() {
		inLeft := contains(st.Left, name)
		inRight := contains(st.Right, name)
		inCache := contains(st.CachedLeft, name) || contains(st.CachedRight, name)

		switch {
		case !inLeft && !inRight:
			// Deleted out-of-band on both sides; the cache is stale.
			for _, t := range targets {
				if contains(cached[t], name) {
					hunks = append(hunks, UncacheFolder{Folder: name, Target: t})
				}
			}

		case inLeft && inRight:
			// Exists on both backends; make sure the cache knows.
			for _, t := range targets {
				if !contains(cached[t], name) {
					hunks = append(hunks, CacheFolder{Folder: name, Target: t})
				}
			}

		case !inCache:
			// Present on exactly one backend and unknown to the cache:
			// a genuine creation to replicate to the missing side.
			missing := TargetLeft
			if inLeft {
				missing = TargetRight
			}
			hunks = append(hunks, CreateFolder{Folder: name, Target: missing})
			for _, t := range targets {
				hunks = append(hunks, CacheFolder{Folder: name, Target: t})
			}

		default:
			// Present on one backend and in the cache: the other side
			// deleted it.
			survivor := TargetLeft
			if inRight {
				survivor = TargetRight
			}
			if perms.AllowDelete {
				hunks = append(hunks, DeleteFolder{Folder: name, Target: survivor})
				for _, t := range targets {
					if contains(cached[t], name) {
						hunks = append(hunks, UncacheFolder{Folder: name, Target: t})
					}
				}
			} else {
				// Deletion is forbidden: bring the folder back on the
				// side that lost it.
				hunks = append(hunks, CreateFolder{Folder: name, Target: survivor.Opposite()})
				for _, t := range targets {
					if !contains(cached[t], name) {
						hunks = append(hunks, CacheFolder{Folder: name, Target: t})
					}
				}
			}
		}
	}

	return hunks
}

func contains(set map[string]struct{}, name string) bool {
	_, ok := set[name]
	return ok
}
