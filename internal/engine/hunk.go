package engine

import (
	"fmt"

	"github.com/nhle/mailmirror/internal/model"
)

// Hunk is a single atomic, independently-reportable synchronization
// operation. Hunks are created fresh per sync invocation and carry
// everything the Runner needs to apply them.
type Hunk interface {
	// HunkFolder returns the folder the hunk is scoped to.
	HunkFolder() string

	fmt.Stringer
}

// Folder hunks.

// CreateFolder creates a folder on the target backend.
type CreateFolder struct {
	Folder string
	Target Target
}

// CacheFolder records the folder's existence in the cache for the target side.
type CacheFolder struct {
	Folder string
	Target Target
}

// DeleteFolder removes the folder from the target backend.
type DeleteFolder struct {
	Folder string
	Target Target
}

// UncacheFolder removes the folder's cache entry for the target side.
type UncacheFolder struct {
	Folder string
	Target Target
}

func (h CreateFolder) HunkFolder() string  { return h.Folder }
func (h CacheFolder) HunkFolder() string   { return h.Folder }
func (h DeleteFolder) HunkFolder() string  { return h.Folder }
func (h UncacheFolder) HunkFolder() string { return h.Folder }

func (h CreateFolder) String() string {
	return fmt.Sprintf("create folder %s on %s", h.Folder, h.Target)
}
func (h CacheFolder) String() string {
	return fmt.Sprintf("cache folder %s for %s", h.Folder, h.Target)
}
func (h DeleteFolder) String() string {
	return fmt.Sprintf("delete folder %s on %s", h.Folder, h.Target)
}
func (h UncacheFolder) String() string {
	return fmt.Sprintf("uncache folder %s for %s", h.Folder, h.Target)
}

// Envelope hunks.

// GetEnvelopeThenCache writes an envelope observed on the source
// backend into the cache for the source side.
type GetEnvelopeThenCache struct {
	Folder   string
	Envelope model.Envelope
	Source   Target
}

// CopyEnvelopeThenCache copies a message from the source backend to the
// target backend and caches the target-side envelope; when
// RefreshSourceCache is set the source-side cache entry is written too.
type CopyEnvelopeThenCache struct {
	Folder             string
	Envelope           model.Envelope
	Source             Target
	Target             Target
	RefreshSourceCache bool
}

// UpdateFlags sets the message's flags on the live target backend.
// Envelope.ID is the target-side identifier; Envelope.Flags is the
// desired flag set.
type UpdateFlags struct {
	Folder   string
	Envelope model.Envelope
	Target   Target
}

// UpdateCachedFlags propagates a flag change into the cache for the
// target side.
type UpdateCachedFlags struct {
	Folder   string
	Envelope model.Envelope
	Target   Target
}

// UncacheEnvelope removes an envelope cache entry for the target side.
type UncacheEnvelope struct {
	Folder string
	Key    string
	Target Target
}

// DeleteMessage deletes a message on the target backend. ID is the
// target-side identifier.
type DeleteMessage struct {
	Folder string
	Key    string
	ID     string
	Target Target
}

func (h GetEnvelopeThenCache) HunkFolder() string  { return h.Folder }
func (h CopyEnvelopeThenCache) HunkFolder() string { return h.Folder }
func (h UpdateFlags) HunkFolder() string           { return h.Folder }
func (h UpdateCachedFlags) HunkFolder() string     { return h.Folder }
func (h UncacheEnvelope) HunkFolder() string       { return h.Folder }
func (h DeleteMessage) HunkFolder() string         { return h.Folder }

func (h GetEnvelopeThenCache) String() string {
	return fmt.Sprintf("cache envelope %s in %s for %s", h.Envelope.Key(), h.Folder, h.Source)
}
func (h CopyEnvelopeThenCache) String() string {
	return fmt.Sprintf("copy message %s in %s from %s to %s", h.Envelope.Key(), h.Folder, h.Source, h.Target)
}
func (h UpdateFlags) String() string {
	return fmt.Sprintf("set flags [%s] on message %s in %s on %s", h.Envelope.Flags, h.Envelope.Key(), h.Folder, h.Target)
}
func (h UpdateCachedFlags) String() string {
	return fmt.Sprintf("cache flags [%s] of message %s in %s for %s", h.Envelope.Flags, h.Envelope.Key(), h.Folder, h.Target)
}
func (h UncacheEnvelope) String() string {
	return fmt.Sprintf("uncache envelope %s in %s for %s", h.Key, h.Folder, h.Target)
}
func (h DeleteMessage) String() string {
	return fmt.Sprintf("delete message %s in %s on %s", h.Key, h.Folder, h.Target)
}

// Email hunks, structurally parallel to the envelope hunks but carrying
// full message bodies through the Runner. Used when both backends
// support body retrieval, so content reaches the side that lacks it and
// the cache records a content hash per side.

// GetEmailThenCache fetches the message body from the source backend
// and records its content hash in the cache for the source side.
type GetEmailThenCache struct {
	Folder   string
	Envelope model.Envelope
	Source   Target
}

// CopyEmailThenCache transfers the full message from the source backend
// to the target backend, caching both the content hash and the
// target-side envelope.
type CopyEmailThenCache struct {
	Folder             string
	Envelope           model.Envelope
	Source             Target
	Target             Target
	RefreshSourceCache bool
}

// UncacheEmail removes an email cache entry for the target side.
type UncacheEmail struct {
	Folder string
	Key    string
	Target Target
}

// DeleteEmail deletes a message body (the message itself) on the target
// backend. ID is the target-side identifier.
type DeleteEmail struct {
	Folder string
	Key    string
	ID     string
	Target Target
}

func (h GetEmailThenCache) HunkFolder() string  { return h.Folder }
func (h CopyEmailThenCache) HunkFolder() string { return h.Folder }
func (h UncacheEmail) HunkFolder() string       { return h.Folder }
func (h DeleteEmail) HunkFolder() string        { return h.Folder }

func (h GetEmailThenCache) String() string {
	return fmt.Sprintf("cache email %s in %s for %s", h.Envelope.Key(), h.Folder, h.Source)
}
func (h CopyEmailThenCache) String() string {
	return fmt.Sprintf("copy email %s in %s from %s to %s", h.Envelope.Key(), h.Folder, h.Source, h.Target)
}
func (h UncacheEmail) String() string {
	return fmt.Sprintf("uncache email %s in %s for %s", h.Key, h.Folder, h.Target)
}
func (h DeleteEmail) String() string {
	return fmt.Sprintf("delete email %s in %s on %s", h.Key, h.Folder, h.Target)
}

// hunkStage orders hunks within a patch: folder creation and caching
// first, then message-level work, then folder deletion last so messages
// are synced and reported before the folder disappears.
func hunkStage(h Hunk) int {
	switch h.(type) {
	case CreateFolder, CacheFolder:
		return 0
	case DeleteFolder, UncacheFolder:
		return 2
	default:
		return 1
	}
}
