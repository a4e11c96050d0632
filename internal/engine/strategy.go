package engine

// strategyMode discriminates the folder selection strategies.
type strategyMode int

const (
	strategyAll strategyMode = iota
	strategyInclude
	strategyExclude
)

// FolderStrategy filters which folders participate in a sync run.
// Exactly one of All / Include / Exclude applies per account; the
// constructors make mixing impossible.
type FolderStrategy struct {
	mode  strategyMode
	names map[string]struct{}
}

// AllFolders returns the strategy that syncs every folder.
func AllFolders() FolderStrategy {
	return FolderStrategy{mode: strategyAll}
}

// IncludeFolders returns the strategy that syncs only the named folders.
func IncludeFolders(names ...string) FolderStrategy {
	return FolderStrategy{mode: strategyInclude, names: nameSet(names)}
}

// ExcludeFolders returns the strategy that syncs every folder except
// the named ones.
func ExcludeFolders(names ...string) FolderStrategy {
	return FolderStrategy{mode: strategyExclude, names: nameSet(names)}
}

// Matches reports whether the folder participates in the sync run.
func (s FolderStrategy) Matches(folder string) bool {
	switch s.mode {
	case strategyInclude:
		_, ok := s.names[folder]
		return ok
	case strategyExclude:
		_, ok := s.names[folder]
		return !ok
	default:
		return true
	}
}

func (s FolderStrategy) String() string {
	switch s.mode {
	case strategyInclude:
		return "include"
	case strategyExclude:
		return "exclude"
	default:
		return "all"
	}
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
