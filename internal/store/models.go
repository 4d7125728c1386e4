package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// Kudos

type KudosRow struct {
	Path          string
	InteractionID string
	CreatedAt     time.Time
}

// InsertKudosIgnore inserts a kudos row, ignoring the insert if the
// (path, interaction_id) primary key already exists — the flush task's
// insert-ignore-on-conflict semantics from spec.md §4.7.
func (s *Store) InsertKudosIgnore(ctx context.Context, row KudosRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kudos (path, interaction_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path, interaction_id) DO NOTHING
	`, row.Path, row.InteractionID, ts(row.CreatedAt))
	return err
}

// InsertKudosIgnoreBatch drains the whole batch in one transaction
// (spec.md's flush task: "single connection inside a transaction,
// insert-ignore-on-conflict per row"). A failure mid-batch rolls back the
// entire pass so the caller can retry the whole batch rather than
// reconciling a partially-applied one.
func (s *Store) InsertKudosIgnoreBatch(ctx context.Context, rows []KudosRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO kudos (path, interaction_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path, interaction_id) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.Path, row.InteractionID, ts(row.CreatedAt)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// KudosCount returns the persisted kudos count for a path, used to warm
// the in-memory cache at startup.
func (s *Store) KudosCount(ctx context.Context, path string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM kudos WHERE path = ?`, path).Scan(&n)
	return n, err
}

// KudosInteractionIDs returns the interaction ids recorded for a path, used
// to warm the cache's per-path interaction set at startup.
func (s *Store) KudosInteractionIDs(ctx context.Context, path string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT interaction_id FROM kudos WHERE path = ?`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Pulse

type PulseEvent struct {
	PageInstanceID  string
	Path            string
	Site            string
	SessionStartTS  time.Time
	TS              time.Time
	UserStatsID     string
	UAFamily        string
	Device          string
	EntrySourceType string
	EntryRefHost    string
	Country         string
	DurationMS      *int64
}

func (s *Store) InsertPulseEvent(ctx context.Context, e PulseEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pulse_events (
			page_instance_id, path, site, session_start_ts, ts, user_stats_id,
			ua_family, device, entry_source_type, entry_ref_host, country, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.PageInstanceID, e.Path, e.Site, ts(e.SessionStartTS), ts(e.TS), e.UserStatsID,
		e.UAFamily, e.Device, e.EntrySourceType, e.EntryRefHost, e.Country, e.DurationMS)
	return err
}

// SetPulseEngagement updates duration_ms for the matching page_instance_id.
// A missing row is tolerated (spec.md §4.8): the caller still returns 204.
func (s *Store) SetPulseEngagement(ctx context.Context, pageInstanceID string, durationMS int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pulse_events SET duration_ms = ? WHERE page_instance_id = ?
	`, durationMS, pageInstanceID)
	return err
}

type PulseVisitor struct {
	Site            string
	UserStatsID     string
	FirstSeenTS     time.Time
	LastSeenTS      time.Time
	SessionStartTS  time.Time
	EntrySourceType string
	EntryRefHost    string
}

// UpsertPulseVisitor updates last_seen_ts on every pv, and starts a new
// session (session_start_ts = ts) when the previous last_seen_ts is more
// than 30 minutes old (spec.md §4.8).
func (s *Store) UpsertPulseVisitor(ctx context.Context, site, userStatsID string, at time.Time, entrySourceType, entryRefHost string) error {
	existing, err := s.GetPulseVisitor(ctx, site, userStatsID)
	if errors.Is(err, sql.ErrNoRows) {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO pulse_visitors (
				site, user_stats_id, first_seen_ts, last_seen_ts, session_start_ts, entry_source_type, entry_ref_host
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, site, userStatsID, ts(at), ts(at), ts(at), entrySourceType, entryRefHost)
		return err
	}
	if err != nil {
		return err
	}

	sessionStart := existing.SessionStartTS
	srcType, refHost := existing.EntrySourceType, existing.EntryRefHost
	if at.Sub(existing.LastSeenTS) > 30*time.Minute {
		sessionStart = at
		srcType, refHost = entrySourceType, entryRefHost
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE pulse_visitors SET last_seen_ts = ?, session_start_ts = ?, entry_source_type = ?, entry_ref_host = ?
		WHERE site = ? AND user_stats_id = ?
	`, ts(at), ts(sessionStart), srcType, refHost, site, userStatsID)
	return err
}

func (s *Store) GetPulseVisitor(ctx context.Context, site, userStatsID string) (PulseVisitor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT site, user_stats_id, first_seen_ts, last_seen_ts, session_start_ts, entry_source_type, entry_ref_host
		FROM pulse_visitors WHERE site = ? AND user_stats_id = ?
	`, site, userStatsID)
	var v PulseVisitor
	var first, last, sessionStart string
	if err := row.Scan(&v.Site, &v.UserStatsID, &first, &last, &sessionStart, &v.EntrySourceType, &v.EntryRefHost); err != nil {
		return PulseVisitor{}, err
	}
	v.FirstSeenTS = parseTS(first)
	v.LastSeenTS = parseTS(last)
	v.SessionStartTS = parseTS(sessionStart)
	return v, nil
}

// Search events

func (s *Store) InsertSearchEvent(ctx context.Context, query string, resultCount int, elapsedMS int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_events (query, result_count, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?)
	`, query, resultCount, elapsedMS, ts(time.Now()))
	return err
}

// Douban

type DoubanItem struct {
	Type      string
	ID        string
	Title     string
	Poster    *string
	Rating    *int
	Tags      []string
	Comment   *string
	Date      *string
	UpdatedAt time.Time
}

func (s *Store) UpsertDoubanItem(ctx context.Context, item DoubanItem) error {
	tagsJSON, err := json.Marshal(item.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO douban_items (type, id, title, poster, rating, tags, comment, date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, id) DO UPDATE SET
			title=excluded.title,
			poster=excluded.poster,
			rating=excluded.rating,
			tags=excluded.tags,
			comment=excluded.comment,
			date=excluded.date,
			updated_at=excluded.updated_at
	`, item.Type, item.ID, item.Title, item.Poster, item.Rating, string(tagsJSON), item.Comment, item.Date, ts(item.UpdatedAt))
	return err
}

func (s *Store) ListDoubanItems(ctx context.Context) ([]DoubanItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, id, title, poster, rating, tags, comment, date, updated_at FROM douban_items
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DoubanItem
	for rows.Next() {
		var it DoubanItem
		var tagsJSON, updatedAt string
		if err := rows.Scan(&it.Type, &it.ID, &it.Title, &it.Poster, &it.Rating, &tagsJSON, &it.Comment, &it.Date, &updatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(tagsJSON), &it.Tags)
		it.UpdatedAt = parseTS(updatedAt)
		out = append(out, it)
	}
	return out, rows.Err()
}

// Comments

type CommentDiscussion struct {
	PostID       string
	DiscussionID string
	Title        string
	UpdatedAt    time.Time
}

func (s *Store) UpsertCommentDiscussion(ctx context.Context, d CommentDiscussion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comment_discussions (post_id, discussion_id, title, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(post_id) DO UPDATE SET
			discussion_id=excluded.discussion_id,
			title=excluded.title,
			updated_at=excluded.updated_at
	`, d.PostID, d.DiscussionID, d.Title, ts(d.UpdatedAt))
	return err
}

type CommentItem struct {
	DiscussionID string
	CommentID    string
	ParentID     *string
	Author       string
	BodyHTML     string
	CreatedAt    time.Time
}

func (s *Store) UpsertCommentItem(ctx context.Context, c CommentItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comment_items (discussion_id, comment_id, parent_id, author, body_html, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(discussion_id, comment_id) DO UPDATE SET
			parent_id=excluded.parent_id,
			author=excluded.author,
			body_html=excluded.body_html,
			created_at=excluded.created_at
	`, c.DiscussionID, c.CommentID, c.ParentID, c.Author, c.BodyHTML, ts(c.CreatedAt))
	return err
}

func (s *Store) CommentItemsByPostID(ctx context.Context, postID string) ([]CommentItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT discussion_id FROM comment_discussions WHERE post_id = ?`, postID)
	var discussionID string
	if err := row.Scan(&discussionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT discussion_id, comment_id, parent_id, author, body_html, created_at
		FROM comment_items WHERE discussion_id = ?
		ORDER BY created_at ASC
	`, discussionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CommentItem
	for rows.Next() {
		var c CommentItem
		var createdAt string
		if err := rows.Scan(&c.DiscussionID, &c.CommentID, &c.ParentID, &c.Author, &c.BodyHTML, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTS(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}
