package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"kxfer.org/internal/auth"
)

var _ auth.Directory = (*Store)(nil)

// PutUser stores a profile with a bcrypt hash of password. A zero ID is
// assigned the next free id.
func (s *Store) PutUser(ctx context.Context, u auth.User, password string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u.Username = strings.TrimSpace(u.Username)
	if err := u.Validate(); err != nil {
		return auth.User{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return auth.User{}, fmt.Errorf("hash password for %s: %w", u.Username, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if u.ID == 0 {
		if err := tx.QueryRowContext(ctx, `select coalesce(max(id), 0) + 1 from users`).Scan(&u.ID); err != nil {
			return auth.User{}, err
		}
	}
	_, err = tx.ExecContext(ctx, s.q(`
		insert into users (id, username, full_name, role, level, is_hr, password_hash)
		values (?, ?, ?, ?, ?, ?, ?)
		on conflict (id) do update set
			username = excluded.username,
			full_name = excluded.full_name,
			role = excluded.role,
			level = excluded.level,
			is_hr = excluded.is_hr,
			password_hash = excluded.password_hash
	`), u.ID, u.Username, u.FullName, u.Role, u.Level, boolInt(u.IsHR), hash)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.User{}, fmt.Errorf("%w: username %s is taken", ErrConflict, u.Username)
		}
		return auth.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, err
	}
	return u, nil
}

// SeedAccounts stores accounts that are not present yet. Existing users keep
// their password.
func (s *Store) SeedAccounts(ctx context.Context, accounts []auth.DemoAccount) error {
	for _, acc := range accounts {
		_, err := s.Lookup(ctx, acc.User.Username)
		if err == nil {
			continue
		}
		if !errors.Is(err, auth.ErrNotFound) {
			return err
		}
		if _, err := s.PutUser(ctx, acc.User, acc.Password); err != nil {
			return fmt.Errorf("seed %s: %w", acc.User.Username, err)
		}
	}
	return nil
}

// Authenticate implements auth.Directory.
func (s *Store) Authenticate(ctx context.Context, username, password string) (auth.User, error) {
	u, hash, err := s.userByName(ctx, username)
	if errors.Is(err, auth.ErrNotFound) {
		return auth.User{}, auth.ErrAuthentication
	}
	if err != nil {
		return auth.User{}, err
	}
	if err := auth.VerifyPassword(hash, password); err != nil {
		return auth.User{}, err
	}
	return u, nil
}

// Lookup implements auth.Directory.
func (s *Store) Lookup(ctx context.Context, username string) (auth.User, error) {
	u, _, err := s.userByName(ctx, username)
	return u, err
}

func (s *Store) userByName(ctx context.Context, username string) (auth.User, string, error) {
	if s.db == nil {
		return auth.User{}, "", errNoDB
	}
	var (
		u    auth.User
		isHR int
		hash string
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		select id, username, full_name, role, level, is_hr, password_hash
		from users where lower(username) = ?
	`), strings.ToLower(strings.TrimSpace(username))).Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &u.Level, &isHR, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, "", auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, "", err
	}
	u.IsHR = isHR != 0
	return u, hash, nil
}
