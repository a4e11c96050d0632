// Package maildir adapts a local Maildir++ tree to the backend
// interface. The root directory is the INBOX; every other folder lives
// in a dot-prefixed subdirectory (".Sent", ".Archive.2024").
package maildir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// infoSeparator splits the unique part of a maildir filename from its
// flag suffix ("<key>:2,<flags>").
const infoSeparator = ':'

// flagChars is the maildir flag alphabet in canonical (sorted) order.
const flagChars = "DFRST"

// keyGen produces unique maildir filenames: <time>_<seq>.<pid>.<host>.
type keyGen struct {
	mu       sync.Mutex
	lastTime int64
	lastSeq  uint32
	hostname string
	pid      int
}

func newKeyGen() *keyGen {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	// Maildir separators must not appear in the hostname part.
	hostname = strings.NewReplacer("/", "_", string(infoSeparator), "_").Replace(hostname)
	return &keyGen{hostname: hostname, pid: os.Getpid()}
}

func (g *keyGen) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().Unix()
	if now == g.lastTime {
		g.lastSeq++
	} else {
		g.lastTime = now
		g.lastSeq = 0
	}
	return fmt.Sprintf("%d_%d.%d.%s", now, g.lastSeq, g.pid, g.hostname)
}

// splitFilename returns the key and flag characters of a maildir
// filename. Files delivered to new/ may carry no info suffix at all.
func splitFilename(name string) (key, flags string) {
	idx := strings.IndexRune(name, infoSeparator)
	if idx < 0 {
		return name, ""
	}
	key = name[:idx]
	info := name[idx+1:]
	if rest, ok := strings.CutPrefix(info, "2,"); ok {
		flags = cleanFlags(rest)
	}
	return key, flags
}

// cleanFlags keeps only known flag characters, deduplicated and sorted
// so equal flag sets produce identical filenames.
func cleanFlags(flags string) string {
	seen := make(map[rune]bool)
	var out []rune
	for _, r := range flags {
		if strings.ContainsRune(flagChars, r) && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return string(out)
}

// encodeFolder maps a folder name to its directory under the maildir
// root. INBOX is the root itself; path separators become the Maildir++
// dot convention.
func encodeFolder(root, folder string) string {
	if folder == "INBOX" {
		return root
	}
	return filepath.Join(root, "."+strings.ReplaceAll(folder, "/", "."))
}

// decodeFolder is the inverse of encodeFolder for directory entries.
func decodeFolder(entry string) string {
	return strings.ReplaceAll(strings.TrimPrefix(entry, "."), ".", "/")
}

// initDir creates the tmp/new/cur structure for one folder.
func initDir(dir string) error {
	for _, sub := range []string{"tmp", "new", "cur"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Join(dir, sub), err)
		}
	}
	return nil
}

// isMaildir reports whether dir has the cur/ subdirectory that marks an
// initialized maildir.
func isMaildir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "cur"))
	return err == nil && info.IsDir()
}
