// Package postgres implements the storage.Store interface on
// PostgreSQL via pgx. The schema is bootstrapped on Open.
package postgres

// Schema contains the SQL statements for the PDS database. A node
// hosts exactly one repository, so nothing here is scoped by DID.
const Schema = `
-- repo_root: The single current head of the repository. All three
-- columns advance together on every mutation.
CREATE TABLE IF NOT EXISTS repo_root (
    id          INTEGER PRIMARY KEY CHECK (id = 1),
    rev         VARCHAR(13) NOT NULL,
    root_cid    VARCHAR(255) NOT NULL,
    commit_cid  VARCHAR(255) NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- repo_blocks: Content-addressed blocks — MST nodes, record bytes,
-- and commit objects, all as canonical CBOR.
CREATE TABLE IF NOT EXISTS repo_blocks (
    cid   VARCHAR(255) PRIMARY KEY,
    data  BYTEA NOT NULL
);

-- repo_commits: Append-order index over commit blocks, ring-pruned.
CREATE TABLE IF NOT EXISTS repo_commits (
    ord  BIGSERIAL PRIMARY KEY,
    cid  VARCHAR(255) NOT NULL
);

-- records: Denormalized key -> record CID index. The MST remains the
-- authoritative map; this serves point lookups and collection listing.
CREATE TABLE IF NOT EXISTS records (
    key  VARCHAR(512) PRIMARY KEY,
    cid  VARCHAR(255) NOT NULL
);

-- blobs: Content-addressed media storage.
CREATE TABLE IF NOT EXISTS blobs (
    cid        VARCHAR(255) PRIMARY KEY,
    mime_type  VARCHAR(255) NOT NULL,
    size       BIGINT NOT NULL,
    data       BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- firehose_seq: The persisted event counter. Strictly monotone across
-- restarts; never reset.
CREATE TABLE IF NOT EXISTS firehose_seq (
    id   INTEGER PRIMARY KEY CHECK (id = 1),
    seq  BIGINT NOT NULL
);
INSERT INTO firehose_seq (id, seq) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;

-- firehose_events: Ring-buffered replay queue. payload holds the
-- framed header+body bytes ready to write to a subscriber.
CREATE TABLE IF NOT EXISTS firehose_events (
    seq        BIGINT PRIMARY KEY,
    event_type VARCHAR(20) NOT NULL,
    did        VARCHAR(255) NOT NULL,
    payload    BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- subscriptions: Remote DIDs the relay poller pulls records from.
CREATE TABLE IF NOT EXISTS subscriptions (
    did           VARCHAR(255) PRIMARY KEY,
    subscribed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_sync     TIMESTAMPTZ
);

-- followers: Remote actors following the local repository.
CREATE TABLE IF NOT EXISTS followers (
    did        VARCHAR(255) PRIMARY KEY,
    handle     VARCHAR(253) NOT NULL,
    uri        VARCHAR(512) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
