package cache

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS folders (
	account TEXT NOT NULL,
	target  TEXT NOT NULL,
	name    TEXT NOT NULL,
	PRIMARY KEY (account, target, name)
);

CREATE TABLE IF NOT EXISTS envelopes (
	account   TEXT NOT NULL,
	target    TEXT NOT NULL,
	folder    TEXT NOT NULL,
	key       TEXT NOT NULL,
	id        TEXT NOT NULL,
	flags     TEXT NOT NULL DEFAULT '',
	synced_at DATETIME NOT NULL,
	PRIMARY KEY (account, target, folder, key)
);

CREATE TABLE IF NOT EXISTS emails (
	account      TEXT NOT NULL,
	target       TEXT NOT NULL,
	folder       TEXT NOT NULL,
	key          TEXT NOT NULL,
	id           TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	synced_at    DATETIME NOT NULL,
	PRIMARY KEY (account, target, folder, key)
);

CREATE INDEX IF NOT EXISTS idx_envelopes_folder ON envelopes(account, target, folder);
CREATE INDEX IF NOT EXISTS idx_emails_folder ON emails(account, target, folder);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
