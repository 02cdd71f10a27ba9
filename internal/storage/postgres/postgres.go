package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openherald/herald-pds/internal/storage"
)

// Store implements storage.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL, verifies the connection, and bootstraps
// the schema.
func Open(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: bootstrap schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) RepoState(ctx context.Context) (storage.RepoState, error) {
	var rev, rootStr, commitStr string
	err := s.pool.QueryRow(ctx,
		`SELECT rev, root_cid, commit_cid FROM repo_root WHERE id = 1`,
	).Scan(&rev, &rootStr, &commitStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.RepoState{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.RepoState{}, fmt.Errorf("postgres: repo state: %w", err)
	}
	root, err := cid.Decode(rootStr)
	if err != nil {
		return storage.RepoState{}, fmt.Errorf("postgres: repo state root cid: %w", err)
	}
	commit, err := cid.Decode(commitStr)
	if err != nil {
		return storage.RepoState{}, fmt.Errorf("postgres: repo state commit cid: %w", err)
	}
	return storage.RepoState{Rev: rev, Root: root, Commit: commit}, nil
}

func (s *Store) SetRepoState(ctx context.Context, st storage.RepoState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO repo_root (id, rev, root_cid, commit_cid, updated_at)
		VALUES (1, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET rev = EXCLUDED.rev, root_cid = EXCLUDED.root_cid,
		    commit_cid = EXCLUDED.commit_cid, updated_at = NOW()`,
		st.Rev, st.Root.String(), st.Commit.String())
	if err != nil {
		return fmt.Errorf("postgres: set repo state: %w", err)
	}
	return nil
}

func (s *Store) GetBlock(ctx context.Context, c cid.Cid) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM repo_blocks WHERE cid = $1`, c.String(),
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get block %s: %w", c, err)
	}
	return data, nil
}

func (s *Store) HasBlock(ctx context.Context, c cid.Cid) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM repo_blocks WHERE cid = $1)`, c.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: has block %s: %w", c, err)
	}
	return exists, nil
}

func (s *Store) PutBlocks(ctx context.Context, blocks map[cid.Cid][]byte) error {
	batch := &pgx.Batch{}
	for c, data := range blocks {
		batch.Queue(
			`INSERT INTO repo_blocks (cid, data) VALUES ($1, $2) ON CONFLICT (cid) DO NOTHING`,
			c.String(), data)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: put blocks: %w", err)
	}
	return nil
}

func (s *Store) PutCommit(ctx context.Context, c cid.Cid, data []byte, keep int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: put commit: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO repo_blocks (cid, data) VALUES ($1, $2) ON CONFLICT (cid) DO NOTHING`,
		c.String(), data); err != nil {
		return fmt.Errorf("postgres: put commit block: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO repo_commits (cid) VALUES ($1)`, c.String()); err != nil {
		return fmt.Errorf("postgres: put commit index: %w", err)
	}
	if keep > 0 {
		if _, err := tx.Exec(ctx, `
			WITH pruned AS (
				DELETE FROM repo_commits
				WHERE ord <= (SELECT MAX(ord) - $1 FROM repo_commits)
				RETURNING cid
			)
			DELETE FROM repo_blocks WHERE cid IN (SELECT cid FROM pruned)`,
			keep); err != nil {
			return fmt.Errorf("postgres: prune commits: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: put commit: commit tx: %w", err)
	}
	return nil
}

func (s *Store) Commits(ctx context.Context) ([]cid.Cid, error) {
	rows, err := s.pool.Query(ctx, `SELECT cid FROM repo_commits ORDER BY ord`)
	if err != nil {
		return nil, fmt.Errorf("postgres: commits: %w", err)
	}
	defer rows.Close()

	var out []cid.Cid
	for rows.Next() {
		var cidStr string
		if err := rows.Scan(&cidStr); err != nil {
			return nil, fmt.Errorf("postgres: commits scan: %w", err)
		}
		c, err := cid.Decode(cidStr)
		if err != nil {
			return nil, fmt.Errorf("postgres: commits cid: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: commits rows: %w", err)
	}
	return out, nil
}

func (s *Store) IndexRecord(ctx context.Context, key string, c cid.Cid) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO records (key, cid) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET cid = EXCLUDED.cid`,
		key, c.String())
	if err != nil {
		return fmt.Errorf("postgres: index record %q: %w", key, err)
	}
	return nil
}

func (s *Store) DropRecord(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM records WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("postgres: drop record %q: %w", key, err)
	}
	return nil
}

func (s *Store) RecordCID(ctx context.Context, key string) (cid.Cid, error) {
	var cidStr string
	err := s.pool.QueryRow(ctx,
		`SELECT cid FROM records WHERE key = $1`, key,
	).Scan(&cidStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return cid.Undef, storage.ErrNotFound
	}
	if err != nil {
		return cid.Undef, fmt.Errorf("postgres: record cid %q: %w", key, err)
	}
	c, err := cid.Decode(cidStr)
	if err != nil {
		return cid.Undef, fmt.Errorf("postgres: record cid %q: %w", key, err)
	}
	return c, nil
}

func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT split_part(key, '/', 1) FROM records ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("postgres: collections: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var coll string
		if err := rows.Scan(&coll); err != nil {
			return nil, fmt.Errorf("postgres: collections scan: %w", err)
		}
		out = append(out, coll)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: collections rows: %w", err)
	}
	return out, nil
}

func (s *Store) PutBlob(ctx context.Context, b storage.Blob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blobs (cid, mime_type, size, data) VALUES ($1, $2, $3, $4)
		ON CONFLICT (cid) DO NOTHING`,
		b.CID.String(), b.MimeType, b.Size, b.Data)
	if err != nil {
		return fmt.Errorf("postgres: put blob %s: %w", b.CID, err)
	}
	return nil
}

func (s *Store) GetBlob(ctx context.Context, c cid.Cid) (storage.Blob, error) {
	b := storage.Blob{CID: c}
	err := s.pool.QueryRow(ctx,
		`SELECT mime_type, size, data, created_at FROM blobs WHERE cid = $1`, c.String(),
	).Scan(&b.MimeType, &b.Size, &b.Data, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Blob{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Blob{}, fmt.Errorf("postgres: get blob %s: %w", c, err)
	}
	return b, nil
}

func (s *Store) HasBlob(ctx context.Context, c cid.Cid) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM blobs WHERE cid = $1)`, c.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: has blob %s: %w", c, err)
	}
	return exists, nil
}

func (s *Store) DeleteBlob(ctx context.Context, c cid.Cid) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM blobs WHERE cid = $1`, c.String())
	if err != nil {
		return false, fmt.Errorf("postgres: delete blob %s: %w", c, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListBlobs(ctx context.Context, limit int, cursor string) ([]storage.BlobInfo, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT cid, mime_type, size FROM blobs
		WHERE cid > $1 ORDER BY cid LIMIT $2`,
		cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list blobs: %w", err)
	}
	defer rows.Close()

	var out []storage.BlobInfo
	for rows.Next() {
		var cidStr string
		info := storage.BlobInfo{}
		if err := rows.Scan(&cidStr, &info.MimeType, &info.Size); err != nil {
			return nil, fmt.Errorf("postgres: list blobs scan: %w", err)
		}
		if info.CID, err = cid.Decode(cidStr); err != nil {
			return nil, fmt.Errorf("postgres: list blobs cid: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list blobs rows: %w", err)
	}
	return out, nil
}

func (s *Store) NextSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx,
		`UPDATE firehose_seq SET seq = seq + 1 WHERE id = 1 RETURNING seq`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: next seq: %w", err)
	}
	return seq, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev storage.Event, keep int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: append event: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO firehose_events (seq, event_type, did, payload)
		VALUES ($1, $2, $3, $4)`,
		ev.Seq, ev.Kind, ev.Repo, ev.Payload); err != nil {
		return fmt.Errorf("postgres: append event: %w", err)
	}
	if keep > 0 {
		if _, err := tx.Exec(ctx, `
			DELETE FROM firehose_events
			WHERE seq <= (SELECT MAX(seq) - $1 FROM firehose_events)`,
			keep); err != nil {
			return fmt.Errorf("postgres: trim events: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: append event: commit tx: %w", err)
	}
	return nil
}

func (s *Store) EventsAfter(ctx context.Context, cursor int64) ([]storage.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_type, did, payload, created_at
		FROM firehose_events WHERE seq > $1 ORDER BY seq`,
		cursor)
	if err != nil {
		return nil, fmt.Errorf("postgres: events after %d: %w", cursor, err)
	}
	defer rows.Close()

	var out []storage.Event
	for rows.Next() {
		var ev storage.Event
		if err := rows.Scan(&ev.Seq, &ev.Kind, &ev.Repo, &ev.Payload, &ev.Time); err != nil {
			return nil, fmt.Errorf("postgres: events scan: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: events rows: %w", err)
	}
	return out, nil
}

func (s *Store) AddSubscription(ctx context.Context, did string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (did) VALUES ($1) ON CONFLICT (did) DO NOTHING`,
		did)
	if err != nil {
		return fmt.Errorf("postgres: add subscription %q: %w", did, err)
	}
	return nil
}

func (s *Store) RemoveSubscription(ctx context.Context, did string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE did = $1`, did)
	if err != nil {
		return false, fmt.Errorf("postgres: remove subscription %q: %w", did, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]storage.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT did, subscribed_at, last_sync FROM subscriptions ORDER BY did`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []storage.Subscription
	for rows.Next() {
		var sub storage.Subscription
		var lastSync *time.Time
		if err := rows.Scan(&sub.DID, &sub.SubscribedAt, &lastSync); err != nil {
			return nil, fmt.Errorf("postgres: list subscriptions scan: %w", err)
		}
		if lastSync != nil {
			sub.LastSync = *lastSync
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list subscriptions rows: %w", err)
	}
	return out, nil
}

func (s *Store) SetLastSync(ctx context.Context, did string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET last_sync = $2 WHERE did = $1`, did, at)
	if err != nil {
		return fmt.Errorf("postgres: set last sync %q: %w", did, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) UpsertFollower(ctx context.Context, f storage.Follower) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO followers (did, handle, uri) VALUES ($1, $2, $3)
		ON CONFLICT (did) DO UPDATE SET handle = EXCLUDED.handle, uri = EXCLUDED.uri`,
		f.DID, f.Handle, f.URI)
	if err != nil {
		return fmt.Errorf("postgres: upsert follower %q: %w", f.DID, err)
	}
	return nil
}

func (s *Store) RemoveFollower(ctx context.Context, did string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM followers WHERE did = $1`, did)
	if err != nil {
		return false, fmt.Errorf("postgres: remove follower %q: %w", did, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListFollowers(ctx context.Context) ([]storage.Follower, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT did, handle, uri, created_at FROM followers ORDER BY did`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list followers: %w", err)
	}
	defer rows.Close()

	var out []storage.Follower
	for rows.Next() {
		var f storage.Follower
		if err := rows.Scan(&f.DID, &f.Handle, &f.URI, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: list followers scan: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list followers rows: %w", err)
	}
	return out, nil
}

var _ storage.Store = (*Store)(nil)
