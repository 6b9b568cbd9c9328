package storage

// schemaSQL returns the DDL for every table the driver maintains (§3.5,
// §4.4), using kind-appropriate column types (BLOB vs BYTEA) but otherwise
// identical shape across backends. `nodes.image` holds the full exported
// Model wire image; the other `nodes` columns are a denormalized index over
// the fields filters/joins need most often, extracted at store time
// (insert.go). `achilles_hashes`/`destroy_hashes` back §4.4.5 destruction;
// `licensing_hashes` backs the §4.4.3 permission matrix; `friend_certs`
// holds a License's friendCertA image for lookup independent of the owning
// License's own image (friendCertB is not stored there).
func schemaSQL(kind DBKind) string {
	blobType := "BLOB"
	if kind == KindPostgres {
		blobType = "BYTEA"
	}
	return `
CREATE TABLE IF NOT EXISTS nodes (
	id1               ` + blobType + ` PRIMARY KEY,
	id2               ` + blobType + `,
	parent_id         ` + blobType + ` NOT NULL,
	owner             ` + blobType + ` NOT NULL,
	shared_hash       ` + blobType + ` NOT NULL,
	transient_hash    ` + blobType + ` NOT NULL,
	bump_hash         ` + blobType + ` NOT NULL,
	primary_iface     INTEGER NOT NULL,
	secondary_iface   INTEGER NOT NULL,
	config            INTEGER NOT NULL,
	transient_config  INTEGER NOT NULL DEFAULT 0,
	creation_time     INTEGER NOT NULL,
	expire_time       INTEGER NOT NULL DEFAULT 0,
	storage_time      INTEGER NOT NULL,
	update_time       INTEGER NOT NULL,
	trail_update_time INTEGER NOT NULL,
	image             ` + blobType + ` NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_nodes_parent_id ON nodes(parent_id);
CREATE INDEX IF NOT EXISTS idx_nodes_owner ON nodes(owner);
CREATE INDEX IF NOT EXISTS idx_nodes_expire_time ON nodes(expire_time);
CREATE INDEX IF NOT EXISTS idx_nodes_bump_hash ON nodes(bump_hash);
CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_shared_hash ON nodes(shared_hash) WHERE (config & 256) != 0;

CREATE TABLE IF NOT EXISTS achilles_hashes (
	id1  ` + blobType + ` NOT NULL,
	hash ` + blobType + ` NOT NULL,
	PRIMARY KEY (id1, hash)
);
CREATE INDEX IF NOT EXISTS idx_achilles_hashes_hash ON achilles_hashes(hash);

CREATE TABLE IF NOT EXISTS destroy_hashes (
	id1  ` + blobType + ` NOT NULL,
	hash ` + blobType + ` NOT NULL,
	PRIMARY KEY (id1, hash)
);
CREATE INDEX IF NOT EXISTS idx_destroy_hashes_hash ON destroy_hashes(hash);

CREATE TABLE IF NOT EXISTS licensing_hashes (
	id1                      ` + blobType + ` NOT NULL,
	hash                     ` + blobType + ` NOT NULL,
	disallow_retro_licensing INTEGER NOT NULL DEFAULT 0,
	parent_path_hash         ` + blobType + `,
	restrictive_mode_writer  INTEGER NOT NULL DEFAULT 0,
	restrictive_mode_manager INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (id1, hash)
);
CREATE INDEX IF NOT EXISTS idx_licensing_hashes_hash ON licensing_hashes(hash);

CREATE TABLE IF NOT EXISTS friend_certs (
	id1         ` + blobType + ` PRIMARY KEY,
	issuer      ` + blobType + ` NOT NULL,
	constraints ` + blobType + `,
	image       ` + blobType + ` NOT NULL
);
`
}
