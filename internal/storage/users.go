package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

var userColumns = []string{
	"id", "email", "hashed_password", "first_name", "last_name", "role", "is_active", "is_first_login",
	"tos_accepted", "twofa_enabled", "enc_twofa_secret", "last_login", "created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	var first, last, secret sql.NullString
	var lastLogin sql.NullTime
	if err := row.Scan(
		&u.ID,
		&u.Email,
		&u.HashedPassword,
		&first,
		&last,
		&u.Role,
		&u.IsActive,
		&u.IsFirstLogin,
		&u.TOSAccepted,
		&u.TwoFAEnabled,
		&secret,
		&lastLogin,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return User{}, err
	}
	if first.Valid {
		u.FirstName = &first.String
	}
	if last.Valid {
		u.LastName = &last.String
	}
	if secret.Valid {
		u.EncTwoFASecret = &secret.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = UserRoleUser
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now

	q := s.sql.Insert("users").
		Columns(userColumns...).
		Values(u.ID, u.Email, u.HashedPassword, u.FirstName, u.LastName, u.Role, u.IsActive, u.IsFirstLogin,
			u.TOSAccepted, u.TwoFAEnabled, u.EncTwoFASecret, u.LastLogin, u.CreatedAt, u.UpdatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build create user query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	return s.getUser(ctx, sq.Eq{"id": id})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, sq.Eq{"email": email})
}

func (s *Store) getUser(ctx context.Context, where sq.Sqlizer) (User, error) {
	sqlStr, args, err := s.sql.Select(userColumns...).From("users").Where(where).ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build get user query: %w", err)
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context, offset, limit uint64) ([]User, error) {
	q := s.sql.Select(userColumns...).From("users").OrderBy("created_at ASC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list users query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}
	return out, nil
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	return s.count(ctx, "users", nil)
}

func (s *Store) CountAdmins(ctx context.Context) (int64, error) {
	return s.count(ctx, "users", sq.Eq{"role": UserRoleAdmin})
}

type UserStats struct {
	Total        int64
	Active       int64
	Admins       int64
	TwoFAEnabled int64
}

func (s *Store) UserStats(ctx context.Context) (UserStats, error) {
	var st UserStats
	var err error
	if st.Total, err = s.count(ctx, "users", nil); err != nil {
		return UserStats{}, err
	}
	if st.Active, err = s.count(ctx, "users", sq.Eq{"is_active": true}); err != nil {
		return UserStats{}, err
	}
	if st.Admins, err = s.CountAdmins(ctx); err != nil {
		return UserStats{}, err
	}
	if st.TwoFAEnabled, err = s.count(ctx, "users", sq.Eq{"twofa_enabled": true}); err != nil {
		return UserStats{}, err
	}
	return st, nil
}

// UserUpdate carries the optional fields a profile update may touch.
type UserUpdate struct {
	FirstName   *string
	LastName    *string
	IsActive    *bool
	TOSAccepted *bool
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error) {
	q := s.sql.Update("users").Set("updated_at", s.now()).Where(sq.Eq{"id": id})
	if upd.FirstName != nil {
		q = q.Set("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		q = q.Set("last_name", *upd.LastName)
	}
	if upd.IsActive != nil {
		q = q.Set("is_active", *upd.IsActive)
	}
	if upd.TOSAccepted != nil {
		q = q.Set("tos_accepted", *upd.TOSAccepted)
	}
	if err := s.execAffecting(ctx, q, "update user"); err != nil {
		return User{}, err
	}
	return s.GetUser(ctx, id)
}

func (s *Store) TouchLastLogin(ctx context.Context, id string) error {
	now := s.now()
	q := s.sql.Update("users").Set("last_login", now).Set("updated_at", now).Where(sq.Eq{"id": id})
	return s.execAffecting(ctx, q, "touch last login")
}

// SetTwoFASecret stores a sealed TOTP secret without enabling 2FA.
func (s *Store) SetTwoFASecret(ctx context.Context, id, encSecret string) error {
	q := s.sql.Update("users").Set("enc_twofa_secret", encSecret).Set("updated_at", s.now()).Where(sq.Eq{"id": id})
	return s.execAffecting(ctx, q, "set 2fa secret")
}

func (s *Store) EnableTwoFA(ctx context.Context, id string) error {
	q := s.sql.Update("users").Set("twofa_enabled", true).Set("updated_at", s.now()).Where(sq.Eq{"id": id})
	return s.execAffecting(ctx, q, "enable 2fa")
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.execAffecting(ctx, s.sql.Delete("users").Where(sq.Eq{"id": id}), "delete user")
}

func (s *Store) count(ctx context.Context, table string, where sq.Sqlizer) (int64, error) {
	q := s.sql.Select("COUNT(*)").From(table)
	if where != nil {
		q = q.Where(where)
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count %s query: %w", table, err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// execAffecting runs a write and reports ErrNotFound when no row matched.
func (s *Store) execAffecting(ctx context.Context, q sq.Sqlizer, op string) error {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s query: %w", op, err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
