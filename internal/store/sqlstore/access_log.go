package sqlstore

import (
	"context"
	"time"

	"kxfer.org/internal/ids"
)

// Access actions recorded in access_logs.
const (
	ActionView   = "view"
	ActionList   = "list"
	ActionSearch = "search"
	ActionAsk    = "ask"
)

// AccessLog is one row of the access trail.
type AccessLog struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	ArtifactID int64     `json:"artifact_id,omitempty"`
	Action     string    `json:"action"`
	Allowed    bool      `json:"allowed"`
	CreatedAt  time.Time `json:"created_at"`
}

// LogAccess appends an entry. ID and CreatedAt are filled in when empty.
func (s *Store) LogAccess(ctx context.Context, entry AccessLog) (AccessLog, error) {
	if s.db == nil {
		return AccessLog{}, errNoDB
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC().Truncate(time.Second)
	}
	if entry.ID == "" {
		entry.ID = ids.NewAt(entry.CreatedAt)
	}
	var artifact any
	if entry.ArtifactID > 0 {
		artifact = entry.ArtifactID
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into access_logs (id, username, artifact_id, action, allowed, created_at)
		values (?, ?, ?, ?, ?, ?)
	`), entry.ID, entry.Username, artifact, entry.Action, boolInt(entry.Allowed), formatTime(entry.CreatedAt))
	if err != nil {
		return AccessLog{}, err
	}
	return entry, nil
}

// RecentAccess returns the newest entries for username, newest first.
func (s *Store) RecentAccess(ctx context.Context, username string, limit int) ([]AccessLog, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		select id, username, coalesce(artifact_id, 0), action, allowed, created_at
		from access_logs
		where username = ?
		order by id desc
		limit ?
	`), username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []AccessLog
	for rows.Next() {
		var (
			e       AccessLog
			allowed int
			created string
		)
		if err := rows.Scan(&e.ID, &e.Username, &e.ArtifactID, &e.Action, &allowed, &created); err != nil {
			return nil, err
		}
		ts, err := parseTime(created)
		if err != nil {
			return nil, err
		}
		e.Allowed = allowed != 0
		e.CreatedAt = ts
		res = append(res, e)
	}
	return res, rows.Err()
}
