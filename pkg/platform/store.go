// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	agerr "github.com/synthagora/agora/pkg/errors"

	_ "modernc.org/sqlite"
)

// Session is the handle atomic operations run against. Both *sql.DB and
// *sql.Tx satisfy it.
type Session interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore owns the database handle and hands out sessions.
//
// The pool is capped at a single connection, so write transactions are
// serialised and two agents reacting to the same post never lose an update.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore wraps an existing handle and ensures the schema.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle, mostly for sharing with the audit store.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Read runs fn against a non-transactional session.
func (s *SQLiteStore) Read(ctx context.Context, fn func(Session) error) error {
	return fn(s.db)
}

// Write runs fn inside a transaction. The transaction commits only when fn
// returns nil.
func (s *SQLiteStore) Write(ctx context.Context, fn func(Session) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return agerr.New(agerr.CodeInternal, "begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return agerr.New(agerr.CodeInternal, "commit transaction", err)
	}
	return nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			bio TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			deleted_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			parent_post_id INTEGER REFERENCES posts(id),
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			deleted_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_user ON posts(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_parent ON posts(parent_post_id);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_title ON posts(title);`,
		`CREATE TABLE IF NOT EXISTS relationships (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			follower_id INTEGER NOT NULL REFERENCES users(id),
			followed_id INTEGER NOT NULL REFERENCES users(id),
			relationship_type TEXT NOT NULL DEFAULT 'follow',
			created_at INTEGER NOT NULL,
			deleted_at INTEGER,
			UNIQUE(follower_id, followed_id, relationship_type)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_followed ON relationships(followed_id);`,
		`CREATE TABLE IF NOT EXISTS reactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			post_id INTEGER NOT NULL REFERENCES posts(id),
			reaction_type TEXT NOT NULL DEFAULT 'like',
			created_at INTEGER NOT NULL,
			deleted_at INTEGER,
			UNIQUE(user_id, post_id, reaction_type)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reactions_post ON reactions(post_id);`,
		`CREATE TABLE IF NOT EXISTS communities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_by INTEGER NOT NULL REFERENCES users(id),
			created_at INTEGER NOT NULL,
			deleted_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS memberships (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			community_id INTEGER NOT NULL REFERENCES communities(id),
			role TEXT NOT NULL DEFAULT 'member',
			joined_at INTEGER NOT NULL,
			deleted_at INTEGER,
			UNIQUE(user_id, community_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func toUnix(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =================================================================
// USER OPERATIONS
// =================================================================

func createUser(ctx context.Context, sess Session, username, bio string, now time.Time) (User, error) {
	res, err := sess.ExecContext(ctx,
		`INSERT INTO users (username, bio, created_at) VALUES (?, ?, ?)`,
		username, bio, toUnix(now))
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, agerr.Newf(agerr.CodeConflict, "username %q already exists", username)
		}
		return User{}, agerr.New(agerr.CodeInternal, "insert user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, agerr.New(agerr.CodeInternal, "insert user id", err)
	}
	return User{ID: id, Username: username, Bio: bio, CreatedAt: now.UTC()}, nil
}

const userColumns = `id, username, bio, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		u       User
		created int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Bio, &created); err != nil {
		return User{}, err
	}
	u.CreatedAt = fromUnix(created)
	return u, nil
}

func userByID(ctx context.Context, sess Session, id int64) (User, error) {
	u, err := scanUser(sess.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ? AND deleted_at IS NULL`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, agerr.Newf(agerr.CodeNotFound, "user %d not found", id)
	}
	if err != nil {
		return User{}, agerr.New(agerr.CodeInternal, "select user", err)
	}
	return u, nil
}

func userByUsername(ctx context.Context, sess Session, username string) (User, error) {
	u, err := scanUser(sess.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? AND deleted_at IS NULL`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, agerr.Newf(agerr.CodeNotFound, "user @%s not found", username)
	}
	if err != nil {
		return User{}, agerr.New(agerr.CodeInternal, "select user", err)
	}
	return u, nil
}

func queryUsers(ctx context.Context, sess Session, query string, args ...any) ([]User, error) {
	rows, err := sess.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, agerr.New(agerr.CodeInternal, "select users", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, agerr.New(agerr.CodeInternal, "scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, agerr.New(agerr.CodeInternal, "iterate users", err)
	}
	return users, nil
}

func searchUsers(ctx context.Context, sess Session, fragment string, limit int) ([]User, error) {
	return queryUsers(ctx, sess,
		`SELECT `+userColumns+` FROM users
		 WHERE deleted_at IS NULL AND username LIKE ? ESCAPE '\'
		 ORDER BY username ASC LIMIT ?`, likePattern(fragment), limit)
}

// =================================================================
// POST OPERATIONS
// =================================================================

func createPost(ctx context.Context, sess Session, userID, parentID int64, title, content string, now time.Time) (int64, error) {
	var parent any
	if parentID != 0 {
		if _, err := postByID(ctx, sess, parentID); err != nil {
			return 0, err
		}
		parent = parentID
	}
	res, err := sess.ExecContext(ctx,
		`INSERT INTO posts (user_id, parent_post_id, title, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, parent, title, content, toUnix(now))
	if err != nil {
		return 0, agerr.New(agerr.CodeInternal, "insert post", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, agerr.New(agerr.CodeInternal, "insert post id", err)
	}
	return id, nil
}

const postSelect = `
	SELECT p.id, p.user_id, u.username, COALESCE(p.parent_post_id, 0), p.title, p.content, p.created_at,
		(SELECT COUNT(*) FROM posts c WHERE c.parent_post_id = p.id AND c.deleted_at IS NULL),
		(SELECT COUNT(*) FROM reactions r WHERE r.post_id = p.id AND r.deleted_at IS NULL)
	FROM posts p JOIN users u ON u.id = p.user_id
	WHERE p.deleted_at IS NULL`

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var (
		p       Post
		created int64
	)
	if err := row.Scan(&p.ID, &p.AuthorID, &p.AuthorUsername, &p.ParentID, &p.Title, &p.Content,
		&created, &p.CommentCount, &p.ReactionCount); err != nil {
		return Post{}, err
	}
	p.CreatedAt = fromUnix(created)
	return p, nil
}

func postByID(ctx context.Context, sess Session, id int64) (Post, error) {
	p, err := scanPost(sess.QueryRowContext(ctx, postSelect+` AND p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, agerr.Newf(agerr.CodeNotFound, "post %d not found", id)
	}
	if err != nil {
		return Post{}, agerr.New(agerr.CodeInternal, "select post", err)
	}
	return p, nil
}

// postByTitle returns the newest live post with the exact title.
func postByTitle(ctx context.Context, sess Session, title string) (Post, error) {
	p, err := scanPost(sess.QueryRowContext(ctx,
		postSelect+` AND p.title = ? ORDER BY p.created_at DESC, p.id DESC LIMIT 1`, title))
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, agerr.Newf(agerr.CodeNotFound, "post %q not found", title)
	}
	if err != nil {
		return Post{}, agerr.New(agerr.CodeInternal, "select post", err)
	}
	return p, nil
}

func queryPosts(ctx context.Context, sess Session, query string, args ...any) ([]Post, error) {
	rows, err := sess.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, agerr.New(agerr.CodeInternal, "select posts", err)
	}
	defer rows.Close()
	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, agerr.New(agerr.CodeInternal, "scan post", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, agerr.New(agerr.CodeInternal, "iterate posts", err)
	}
	return posts, nil
}

func postsByUser(ctx context.Context, sess Session, userID int64, limit int, includeComments bool) ([]Post, error) {
	query := postSelect + ` AND p.user_id = ?`
	if !includeComments {
		query += ` AND p.parent_post_id IS NULL`
	}
	query += ` ORDER BY p.created_at DESC, p.id DESC LIMIT ?`
	return queryPosts(ctx, sess, query, userID, limit)
}

func commentsForPost(ctx context.Context, sess Session, postID int64) ([]Post, error) {
	return queryPosts(ctx, sess,
		postSelect+` AND p.parent_post_id = ? ORDER BY p.created_at DESC, p.id DESC`, postID)
}

func recentPosts(ctx context.Context, sess Session, since time.Time, limit int) ([]Post, error) {
	return queryPosts(ctx, sess,
		postSelect+` AND p.parent_post_id IS NULL AND p.created_at >= ?
		 ORDER BY p.created_at DESC, p.id DESC LIMIT ?`, toUnix(since), limit)
}

func searchPosts(ctx context.Context, sess Session, fragment string, limit int) ([]Post, error) {
	pattern := likePattern(fragment)
	return queryPosts(ctx, sess,
		postSelect+` AND p.parent_post_id IS NULL
		 AND (p.title LIKE ? ESCAPE '\' OR p.content LIKE ? ESCAPE '\')
		 ORDER BY p.created_at DESC, p.id DESC LIMIT ?`, pattern, pattern, limit)
}

func softDeletePost(ctx context.Context, sess Session, postID int64, now time.Time) error {
	res, err := sess.ExecContext(ctx,
		`UPDATE posts SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, toUnix(now), postID)
	if err != nil {
		return agerr.New(agerr.CodeInternal, "delete post", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return agerr.Newf(agerr.CodeNotFound, "post %d not found", postID)
	}
	return nil
}

func likePattern(fragment string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(fragment) + "%"
}

// =================================================================
// RELATIONSHIP OPERATIONS
// =================================================================

// createRelationship inserts the edge, reviving a soft-deleted one. It fails
// with CodeConflict when a live edge already exists.
func createRelationship(ctx context.Context, sess Session, followerID, followedID int64, kind string, now time.Time) error {
	var (
		id      int64
		deleted sql.NullInt64
	)
	err := sess.QueryRowContext(ctx,
		`SELECT id, deleted_at FROM relationships WHERE follower_id = ? AND followed_id = ? AND relationship_type = ?`,
		followerID, followedID, kind).Scan(&id, &deleted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = sess.ExecContext(ctx,
			`INSERT INTO relationships (follower_id, followed_id, relationship_type, created_at) VALUES (?, ?, ?, ?)`,
			followerID, followedID, kind, toUnix(now))
		if err != nil {
			return agerr.New(agerr.CodeInternal, "insert relationship", err)
		}
		return nil
	case err != nil:
		return agerr.New(agerr.CodeInternal, "select relationship", err)
	case !deleted.Valid:
		return agerr.Newf(agerr.CodeConflict, "relationship %d -> %d (%s) already exists", followerID, followedID, kind)
	}
	_, err = sess.ExecContext(ctx,
		`UPDATE relationships SET deleted_at = NULL, created_at = ? WHERE id = ?`, toUnix(now), id)
	if err != nil {
		return agerr.New(agerr.CodeInternal, "revive relationship", err)
	}
	return nil
}

func softDeleteRelationship(ctx context.Context, sess Session, followerID, followedID int64, kind string, now time.Time) (bool, error) {
	res, err := sess.ExecContext(ctx,
		`UPDATE relationships SET deleted_at = ?
		 WHERE follower_id = ? AND followed_id = ? AND relationship_type = ? AND deleted_at IS NULL`,
		toUnix(now), followerID, followedID, kind)
	if err != nil {
		return false, agerr.New(agerr.CodeInternal, "delete relationship", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func isFollowing(ctx context.Context, sess Session, followerID, followedID int64) (bool, error) {
	var n int
	err := sess.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relationships
		 WHERE follower_id = ? AND followed_id = ? AND relationship_type = 'follow' AND deleted_at IS NULL`,
		followerID, followedID).Scan(&n)
	if err != nil {
		return false, agerr.New(agerr.CodeInternal, "select relationship", err)
	}
	return n > 0, nil
}

func following(ctx context.Context, sess Session, userID int64) ([]User, error) {
	return queryUsers(ctx, sess,
		`SELECT u.id, u.username, u.bio, u.created_at FROM users u
		 JOIN relationships r ON r.followed_id = u.id
		 WHERE r.follower_id = ? AND r.relationship_type = 'follow'
		   AND r.deleted_at IS NULL AND u.deleted_at IS NULL
		 ORDER BY u.id ASC`, userID)
}

func followers(ctx context.Context, sess Session, userID int64) ([]User, error) {
	return queryUsers(ctx, sess,
		`SELECT u.id, u.username, u.bio, u.created_at FROM users u
		 JOIN relationships r ON r.follower_id = u.id
		 WHERE r.followed_id = ? AND r.relationship_type = 'follow'
		   AND r.deleted_at IS NULL AND u.deleted_at IS NULL
		 ORDER BY u.id ASC`, userID)
}

// mutualConnections counts accounts that both the viewer and the author follow.
func mutualConnections(ctx context.Context, sess Session, viewerID, authorID int64) (int, error) {
	var n int
	err := sess.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT a.followed_id) FROM relationships a
		 JOIN relationships b ON b.followed_id = a.followed_id
		 WHERE a.follower_id = ? AND a.relationship_type = 'follow' AND a.deleted_at IS NULL
		   AND b.follower_id = ? AND b.relationship_type = 'follow' AND b.deleted_at IS NULL`,
		viewerID, authorID).Scan(&n)
	if err != nil {
		return 0, agerr.New(agerr.CodeInternal, "count mutual connections", err)
	}
	return n, nil
}

// =================================================================
// REACTION OPERATIONS
// =================================================================

// createReaction is an upsert: an existing live reaction is left alone and a
// soft-deleted one is revived.
func createReaction(ctx context.Context, sess Session, userID, postID int64, kind string, now time.Time) error {
	if _, err := postByID(ctx, sess, postID); err != nil {
		return err
	}
	_, err := sess.ExecContext(ctx,
		`INSERT INTO reactions (user_id, post_id, reaction_type, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, post_id, reaction_type) DO UPDATE SET deleted_at = NULL`,
		userID, postID, kind, toUnix(now))
	if err != nil {
		return agerr.New(agerr.CodeInternal, "upsert reaction", err)
	}
	return nil
}

func softDeleteReaction(ctx context.Context, sess Session, userID, postID int64, kind string, now time.Time) (bool, error) {
	res, err := sess.ExecContext(ctx,
		`UPDATE reactions SET deleted_at = ?
		 WHERE user_id = ? AND post_id = ? AND reaction_type = ? AND deleted_at IS NULL`,
		toUnix(now), userID, postID, kind)
	if err != nil {
		return false, agerr.New(agerr.CodeInternal, "delete reaction", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func reactionCounts(ctx context.Context, sess Session, postID int64) (map[string]int, error) {
	rows, err := sess.QueryContext(ctx,
		`SELECT reaction_type, COUNT(*) FROM reactions
		 WHERE post_id = ? AND deleted_at IS NULL GROUP BY reaction_type`, postID)
	if err != nil {
		return nil, agerr.New(agerr.CodeInternal, "count reactions", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, agerr.New(agerr.CodeInternal, "scan reaction count", err)
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, agerr.New(agerr.CodeInternal, "iterate reaction counts", err)
	}
	return counts, nil
}

// interactionCount counts the viewer's live reactions and comments on the author's posts.
func interactionCount(ctx context.Context, sess Session, viewerID, authorID int64) (int, error) {
	var reactions, comments int
	err := sess.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reactions r JOIN posts p ON p.id = r.post_id
		 WHERE r.user_id = ? AND p.user_id = ? AND r.deleted_at IS NULL AND p.deleted_at IS NULL`,
		viewerID, authorID).Scan(&reactions)
	if err != nil {
		return 0, agerr.New(agerr.CodeInternal, "count reactions", err)
	}
	err = sess.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts c JOIN posts p ON p.id = c.parent_post_id
		 WHERE c.user_id = ? AND p.user_id = ? AND c.deleted_at IS NULL AND p.deleted_at IS NULL`,
		viewerID, authorID).Scan(&comments)
	if err != nil {
		return 0, agerr.New(agerr.CodeInternal, "count comments", err)
	}
	return reactions + comments, nil
}

// =================================================================
// COMMUNITY OPERATIONS
// =================================================================

func createCommunity(ctx context.Context, sess Session, name, description string, createdBy int64, now time.Time) (Community, error) {
	res, err := sess.ExecContext(ctx,
		`INSERT INTO communities (name, description, created_by, created_at) VALUES (?, ?, ?, ?)`,
		name, description, createdBy, toUnix(now))
	if err != nil {
		if isUniqueViolation(err) {
			return Community{}, agerr.Newf(agerr.CodeConflict, "community %q already exists", name)
		}
		return Community{}, agerr.New(agerr.CodeInternal, "insert community", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Community{}, agerr.New(agerr.CodeInternal, "insert community id", err)
	}
	return Community{ID: id, Name: name, Description: description, CreatedBy: createdBy, CreatedAt: now.UTC()}, nil
}

const communitySelect = `
	SELECT c.id, c.name, c.description, c.created_by, c.created_at,
		(SELECT COUNT(*) FROM memberships m WHERE m.community_id = c.id AND m.deleted_at IS NULL)
	FROM communities c WHERE c.deleted_at IS NULL`

func scanCommunity(row interface{ Scan(...any) error }) (Community, error) {
	var (
		c       Community
		created int64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedBy, &created, &c.MemberCount); err != nil {
		return Community{}, err
	}
	c.CreatedAt = fromUnix(created)
	return c, nil
}

func communityByID(ctx context.Context, sess Session, id int64) (Community, error) {
	c, err := scanCommunity(sess.QueryRowContext(ctx, communitySelect+` AND c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Community{}, agerr.Newf(agerr.CodeNotFound, "community %d not found", id)
	}
	if err != nil {
		return Community{}, agerr.New(agerr.CodeInternal, "select community", err)
	}
	return c, nil
}

func communityByName(ctx context.Context, sess Session, name string) (Community, error) {
	c, err := scanCommunity(sess.QueryRowContext(ctx, communitySelect+` AND c.name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Community{}, agerr.Newf(agerr.CodeNotFound, "community %q not found", name)
	}
	if err != nil {
		return Community{}, agerr.New(agerr.CodeInternal, "select community", err)
	}
	return c, nil
}

// =================================================================
// MEMBERSHIP OPERATIONS
// =================================================================

func createMembership(ctx context.Context, sess Session, userID, communityID int64, role string, now time.Time) error {
	var (
		id      int64
		deleted sql.NullInt64
	)
	err := sess.QueryRowContext(ctx,
		`SELECT id, deleted_at FROM memberships WHERE user_id = ? AND community_id = ?`,
		userID, communityID).Scan(&id, &deleted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = sess.ExecContext(ctx,
			`INSERT INTO memberships (user_id, community_id, role, joined_at) VALUES (?, ?, ?, ?)`,
			userID, communityID, role, toUnix(now))
		if err != nil {
			return agerr.New(agerr.CodeInternal, "insert membership", err)
		}
		return nil
	case err != nil:
		return agerr.New(agerr.CodeInternal, "select membership", err)
	case !deleted.Valid:
		return agerr.Newf(agerr.CodeConflict, "user %d is already a member of community %d", userID, communityID)
	}
	_, err = sess.ExecContext(ctx,
		`UPDATE memberships SET deleted_at = NULL, role = ?, joined_at = ? WHERE id = ?`, role, toUnix(now), id)
	if err != nil {
		return agerr.New(agerr.CodeInternal, "revive membership", err)
	}
	return nil
}

func softDeleteMembership(ctx context.Context, sess Session, userID, communityID int64, now time.Time) (bool, error) {
	res, err := sess.ExecContext(ctx,
		`UPDATE memberships SET deleted_at = ? WHERE user_id = ? AND community_id = ? AND deleted_at IS NULL`,
		toUnix(now), userID, communityID)
	if err != nil {
		return false, agerr.New(agerr.CodeInternal, "delete membership", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func userCommunities(ctx context.Context, sess Session, userID int64) ([]Community, error) {
	rows, err := sess.QueryContext(ctx,
		communitySelect+` AND c.id IN (
			SELECT community_id FROM memberships WHERE user_id = ? AND deleted_at IS NULL
		) ORDER BY c.name ASC`, userID)
	if err != nil {
		return nil, agerr.New(agerr.CodeInternal, "select communities", err)
	}
	defer rows.Close()
	var out []Community
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			return nil, agerr.New(agerr.CodeInternal, "scan community", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, agerr.New(agerr.CodeInternal, "iterate communities", err)
	}
	return out, nil
}
