package engine

import "sort"

// Patch is an ordered hunk sequence scoped to one folder. Hunk order
// within a patch is significant and preserved by the Runner.
type Patch []Hunk

// Patches maps folder names to their patches. Iteration order across
// folders carries no meaning.
type Patches map[string]Patch

// BuildPatches groups hunks into per-folder patches, drops hunks for
// folders outside the strategy's scope, prunes hunks whose required
// permission is false (dropping dependents of a dropped structural
// hunk), and orders each patch so folder creation precedes message work
// and folder deletion comes last. Pure data transformation: no network
// or cache I/O happens here.
func BuildPatches(hunks []Hunk, strategy FolderStrategy, perms Permissions) Patches {
	grouped := make(map[string][]Hunk)
	for _, h := range hunks {
		folder := h.HunkFolder()
		if !strategy.Matches(folder) {
			continue
		}
		grouped[folder] = append(grouped[folder], h)
	}

	patches := make(Patches, len(grouped))
	for folder, folderHunks := range grouped {
		patch := prune(folderHunks, perms)
		if len(patch) == 0 {
			continue
		}
		orderPatch(patch)
		patches[folder] = patch
	}
	return patches
}

// prune applies the permission gates to one folder's hunks.
func prune(hunks []Hunk, perms Permissions) Patch {
	// First pass: find folder creations dropped by the create gate.
	// Their cache hunks and every message-level hunk in the folder are
	// dependents and must be dropped with them.
	droppedCreate := false
	if !perms.Folder.AllowCreate {
		for _, h := range hunks {
			if _, ok := h.(CreateFolder); ok {
				droppedCreate = true
				break
			}
		}
	}

	var out Patch
	for _, h := range hunks {
		switch h.(type) {
		case CreateFolder:
			if !perms.Folder.AllowCreate {
				continue
			}
		case CacheFolder:
			if droppedCreate {
				continue
			}
		case DeleteFolder:
			if !perms.Folder.AllowDelete {
				continue
			}
		case CopyEnvelopeThenCache, CopyEmailThenCache:
			if !perms.Message.AllowCreate || droppedCreate {
				continue
			}
		case DeleteMessage, DeleteEmail:
			if !perms.Message.AllowDelete || droppedCreate {
				continue
			}
		case UpdateFlags, UpdateCachedFlags:
			// The cached-flag twin is gated with the backend write: a
			// snapshot must never record flags a backend was not given.
			if !perms.Flag.AllowUpdate || droppedCreate {
				continue
			}
		default:
			// Cache-only hunks ride along unless the whole folder was
			// suppressed.
			if droppedCreate {
				continue
			}
		}
		out = append(out, h)
	}
	return out
}

// orderPatch sorts hunks by stage while keeping the diff's relative
// order within each stage.
func orderPatch(patch Patch) {
	sort.SliceStable(patch, func(i, j int) bool {
		return hunkStage(patch[i]) < hunkStage(patch[j])
	})
}
