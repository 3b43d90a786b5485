package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"kxfer.org/internal/auth"
	"kxfer.org/internal/knowledge"
)

var _ knowledge.Store = (*Store)(nil)

const artifactColumns = `id, title, content, type, access_level, hr_only, tags, created_at`

// PutArtifact inserts or replaces an artifact by id.
func (s *Store) PutArtifact(ctx context.Context, a knowledge.Artifact) error {
	if s.db == nil {
		return errNoDB
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into artifacts (`+artifactColumns+`)
		values (?, ?, ?, ?, ?, ?, ?, ?)
		on conflict (id) do update set
			title = excluded.title,
			content = excluded.content,
			type = excluded.type,
			access_level = excluded.access_level,
			hr_only = excluded.hr_only,
			tags = excluded.tags,
			created_at = excluded.created_at
	`), a.ID, a.Title, a.Content, string(a.Type), a.AccessLevel, boolInt(a.HROnly), joinTags(a.Tags), formatTime(created))
	return err
}

// List implements knowledge.Store. Clearance is enforced in the query and
// again in Go so a schema drift cannot widen visibility.
func (s *Store) List(ctx context.Context, viewer auth.User, f knowledge.Filter) ([]knowledge.Artifact, error) {
	rows, err := s.visibleRows(ctx, viewer, f, "", nil)
	if err != nil {
		return nil, err
	}
	res := make([]knowledge.Artifact, 0, len(rows))
	for _, a := range rows {
		if !f.Matches(a) {
			continue
		}
		res = append(res, a)
		if f.Limit > 0 && len(res) >= f.Limit {
			break
		}
	}
	return res, nil
}

// Get implements knowledge.Store.
func (s *Store) Get(ctx context.Context, id int64) (knowledge.Artifact, error) {
	if s.db == nil {
		return knowledge.Artifact{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, s.q(`select `+artifactColumns+` from artifacts where id = ?`), id)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return knowledge.Artifact{}, knowledge.ErrNotFound
	}
	return a, err
}

// Search implements knowledge.Store with a case-insensitive substring match.
func (s *Store) Search(ctx context.Context, viewer auth.User, query string, f knowledge.Filter) ([]knowledge.Artifact, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []knowledge.Artifact{}, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := s.visibleRows(ctx, viewer, f,
		` and (lower(title) like ? escape '\' or lower(content) like ? escape '\')`,
		[]any{pattern, pattern})
	if err != nil {
		return nil, err
	}
	res := []knowledge.Artifact{}
	for _, a := range rows {
		if !f.Matches(a) {
			continue
		}
		if score := knowledge.Score(a, query); score > 0 {
			res = append(res, knowledge.AsSearchResult(a, score))
		}
	}
	knowledge.RankResults(res)
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (s *Store) visibleRows(ctx context.Context, viewer auth.User, f knowledge.Filter, extra string, extraArgs []any) ([]knowledge.Artifact, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	query := `select ` + artifactColumns + ` from artifacts where access_level <= ? and (hr_only = 0 or ? = 1)`
	args := []any{viewer.Level, boolInt(viewer.IsHR)}
	if f.Type != "" {
		query += ` and type = ?`
		args = append(args, string(f.Type))
	}
	query += extra + ` order by id`
	args = append(args, extraArgs...)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []knowledge.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		if knowledge.Visible(viewer, a) {
			res = append(res, a)
		}
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (knowledge.Artifact, error) {
	var (
		a       knowledge.Artifact
		typ     string
		hrOnly  int
		tags    string
		created string
	)
	if err := row.Scan(&a.ID, &a.Title, &a.Content, &typ, &a.AccessLevel, &hrOnly, &tags, &created); err != nil {
		return knowledge.Artifact{}, err
	}
	ts, err := parseTime(created)
	if err != nil {
		return knowledge.Artifact{}, err
	}
	a.Type = knowledge.Type(typ)
	a.HROnly = hrOnly != 0
	a.Tags = splitTags(tags)
	a.CreatedAt = ts
	return a, nil
}

func joinTags(tags []string) string {
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	return strings.Join(clean, ",")
}

func splitTags(raw string) []string {
	tags := []string{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
