package engine

// FolderSyncPermissions gates structural folder operations.
type FolderSyncPermissions struct {
	AllowCreate bool
	AllowDelete bool
}

// MessageSyncPermissions gates message creation and deletion.
type MessageSyncPermissions struct {
	AllowCreate bool
	AllowDelete bool
}

// FlagSyncPermissions gates flag propagation to the backends.
type FlagSyncPermissions struct {
	AllowUpdate bool
}

// Permissions bundles the per-domain gates. Hunks whose required
// permission is false are pruned before a patch reaches the Runner;
// when deletion is forbidden, the diff re-creates the item on the side
// that lost it instead.
type Permissions struct {
	Folder  FolderSyncPermissions
	Message MessageSyncPermissions
	Flag    FlagSyncPermissions
}

// DefaultPermissions returns the permissive default: everything allowed.
func DefaultPermissions() Permissions {
	return Permissions{
		Folder:  FolderSyncPermissions{AllowCreate: true, AllowDelete: true},
		Message: MessageSyncPermissions{AllowCreate: true, AllowDelete: true},
		Flag:    FlagSyncPermissions{AllowUpdate: true},
	}
}
