package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"nowshowing/work/logger"
	"nowshowing/work/urlbuild"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// continueCap bounds the continue-watching list; the oldest entries fall off
// once a user has more than this many titles in progress.
const continueCap = 20

// Entry is one watchlist or continue-watching record. Season/Episode are
// only meaningful for series entries.
type Entry struct {
	TitleID   string `json:"titleId"`
	Title     string `json:"title"`
	Poster    string `json:"poster"`
	MediaKind string `json:"mediaKind"`
	Season    int    `json:"season,omitempty"`
	Episode   int    `json:"episode,omitempty"`
	Provider  string `json:"provider,omitempty"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Store persists watchlist and continue-watching state in SQLite. It is the
// server-side replacement for the original front end's localStorage records,
// so the shapes and the 20-entry continue cap match what the browser kept.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS continue_watching (
	title_id   TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	poster     TEXT NOT NULL DEFAULT '',
	media_kind TEXT NOT NULL,
	season     INTEGER NOT NULL DEFAULT 0,
	episode    INTEGER NOT NULL DEFAULT 0,
	provider   TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS watchlist (
	position   INTEGER NOT NULL,
	title_id   TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	poster     TEXT NOT NULL DEFAULT '',
	media_kind TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Open creates the database connection in WAL mode and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetContinueWatching returns the continue-watching list, newest first.
func (s *Store) GetContinueWatching() ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT title_id, title, poster, media_kind, season, episode, provider, updated_at
		FROM continue_watching ORDER BY updated_at DESC LIMIT ?`, continueCap)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TitleID, &e.Title, &e.Poster, &e.MediaKind,
			&e.Season, &e.Episode, &e.Provider, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpsertContinue inserts or refreshes a continue-watching entry, dedupes by
// title id, stamps it as most recent, and prunes beyond the cap.
func (s *Store) UpsertContinue(e Entry) error {
	if e.UpdatedAt == 0 {
		e.UpdatedAt = time.Now().UnixMilli()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO continue_watching (title_id, title, poster, media_kind, season, episode, provider, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(title_id) DO UPDATE SET
			title = excluded.title,
			poster = excluded.poster,
			media_kind = excluded.media_kind,
			season = excluded.season,
			episode = excluded.episode,
			provider = excluded.provider,
			updated_at = excluded.updated_at`,
		e.TitleID, e.Title, e.Poster, e.MediaKind, e.Season, e.Episode, e.Provider, e.UpdatedAt)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		DELETE FROM continue_watching WHERE title_id NOT IN (
			SELECT title_id FROM continue_watching ORDER BY updated_at DESC LIMIT ?)`, continueCap)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// RemoveContinue drops one entry from the continue-watching list.
func (s *Store) RemoveContinue(titleID string) error {
	_, err := s.db.Exec(`DELETE FROM continue_watching WHERE title_id = ?`, titleID)
	return err
}

// GetWatchlist returns the watchlist in stored order.
func (s *Store) GetWatchlist() ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT title_id, title, poster, media_kind, updated_at
		FROM watchlist ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TitleID, &e.Title, &e.Poster, &e.MediaKind, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SetWatchlist replaces the watchlist wholesale, preserving the order of the
// provided entries.
func (s *Store) SetWatchlist(entries []Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM watchlist`); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	for i, e := range entries {
		if e.UpdatedAt == 0 {
			e.UpdatedAt = now
		}
		_, err := tx.Exec(`
			INSERT INTO watchlist (position, title_id, title, poster, media_kind, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			i, e.TitleID, e.Title, e.Poster, e.MediaKind, e.UpdatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RemoveFromWatchlist drops one entry from the watchlist.
func (s *Store) RemoveFromWatchlist(titleID string) error {
	_, err := s.db.Exec(`DELETE FROM watchlist WHERE title_id = ?`, titleID)
	return err
}

// RecordProgress implements the resolver's progress recorder: every provider
// activation lands here as a continue-watching upsert. It is fire-and-forget
// by contract, so failures are logged and swallowed.
func (s *Store) RecordProgress(req urlbuild.PlaybackRequest, title, poster, provider string) {
	entry := Entry{
		TitleID:   req.TitleID,
		Title:     title,
		Poster:    poster,
		MediaKind: string(req.Kind),
		Season:    req.Season,
		Episode:   req.Episode,
		Provider:  provider,
	}
	if err := s.UpsertContinue(entry); err != nil {
		logger.Warn("{store - RecordProgress} failed to upsert continue-watching for %s: %v", req.TitleID, err)
	}
}
