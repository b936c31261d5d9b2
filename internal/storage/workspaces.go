package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// CreateWorkspace inserts the workspace and enrolls its creator as OWNER.
func (s *Store) CreateWorkspace(ctx context.Context, name, createdBy string) (Workspace, error) {
	now := s.now()
	ws := Workspace{ID: uuid.NewString(), Name: name, CreatedBy: createdBy, CreatedAt: now, UpdatedAt: now}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Workspace{}, fmt.Errorf("begin create workspace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	wsSQL, wsArgs, err := s.sql.Insert("workspaces").
		Columns("id", "name", "created_by", "created_at", "updated_at").
		Values(ws.ID, ws.Name, ws.CreatedBy, ws.CreatedAt, ws.UpdatedAt).
		ToSql()
	if err != nil {
		return Workspace{}, fmt.Errorf("build create workspace query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, wsSQL, wsArgs...); err != nil {
		return Workspace{}, fmt.Errorf("create workspace: %w", err)
	}

	memberSQL, memberArgs, err := s.sql.Insert("workspace_users").
		Columns("workspace_id", "user_id", "role", "joined_at").
		Values(ws.ID, createdBy, WorkspaceRoleOwner, now).
		ToSql()
	if err != nil {
		return Workspace{}, fmt.Errorf("build add owner query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, memberSQL, memberArgs...); err != nil {
		return Workspace{}, fmt.Errorf("add workspace owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Workspace{}, fmt.Errorf("commit create workspace: %w", err)
	}
	return ws, nil
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	sqlStr, args, err := s.sql.Select("id", "name", "created_by", "created_at", "updated_at").
		From("workspaces").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return Workspace{}, fmt.Errorf("build get workspace query: %w", err)
	}
	var ws Workspace
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&ws.ID, &ws.Name, &ws.CreatedBy, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Workspace{}, ErrNotFound
		}
		return Workspace{}, fmt.Errorf("get workspace: %w", err)
	}
	return ws, nil
}

func (s *Store) ListWorkspacesForUser(ctx context.Context, userID string) ([]Workspace, error) {
	sqlStr, args, err := s.sql.Select("w.id", "w.name", "w.created_by", "w.created_at", "w.updated_at").
		From("workspaces w").
		Join("workspace_users wu ON wu.workspace_id = w.id").
		Where(sq.Eq{"wu.user_id": userID}).
		OrderBy("w.created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list workspaces query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	out := make([]Workspace, 0)
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.CreatedBy, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace row: %w", err)
		}
		out = append(out, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspace rows: %w", err)
	}
	return out, nil
}

func (s *Store) RenameWorkspace(ctx context.Context, id, name string) (Workspace, error) {
	q := s.sql.Update("workspaces").Set("name", name).Set("updated_at", s.now()).Where(sq.Eq{"id": id})
	if err := s.execAffecting(ctx, q, "rename workspace"); err != nil {
		return Workspace{}, err
	}
	return s.GetWorkspace(ctx, id)
}

func (s *Store) DeleteWorkspace(ctx context.Context, id string) error {
	return s.execAffecting(ctx, s.sql.Delete("workspaces").Where(sq.Eq{"id": id}), "delete workspace")
}

func (s *Store) GetMembership(ctx context.Context, workspaceID, userID string) (WorkspaceUser, error) {
	sqlStr, args, err := s.sql.Select("workspace_id", "user_id", "role", "joined_at").
		From("workspace_users").
		Where(sq.Eq{"workspace_id": workspaceID, "user_id": userID}).
		ToSql()
	if err != nil {
		return WorkspaceUser{}, fmt.Errorf("build get membership query: %w", err)
	}
	var wu WorkspaceUser
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&wu.WorkspaceID, &wu.UserID, &wu.Role, &wu.JoinedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WorkspaceUser{}, ErrNotFound
		}
		return WorkspaceUser{}, fmt.Errorf("get membership: %w", err)
	}
	return wu, nil
}

func (s *Store) ListMembers(ctx context.Context, workspaceID string) ([]WorkspaceUser, error) {
	sqlStr, args, err := s.sql.Select("workspace_id", "user_id", "role", "joined_at").
		From("workspace_users").
		Where(sq.Eq{"workspace_id": workspaceID}).
		OrderBy("joined_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list members query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	out := make([]WorkspaceUser, 0)
	for rows.Next() {
		var wu WorkspaceUser
		if err := rows.Scan(&wu.WorkspaceID, &wu.UserID, &wu.Role, &wu.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member row: %w", err)
		}
		out = append(out, wu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member rows: %w", err)
	}
	return out, nil
}

// UpsertMember adds a user to a workspace or changes their role.
func (s *Store) UpsertMember(ctx context.Context, workspaceID, userID, role string) error {
	q := s.sql.Insert("workspace_users").
		Columns("workspace_id", "user_id", "role", "joined_at").
		Values(workspaceID, userID, role, s.now()).
		Suffix("ON CONFLICT(workspace_id, user_id) DO UPDATE SET role=excluded.role")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build upsert member query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, workspaceID, userID string) error {
	q := s.sql.Delete("workspace_users").Where(sq.Eq{"workspace_id": workspaceID, "user_id": userID})
	return s.execAffecting(ctx, q, "remove member")
}

func (s *Store) CountOwners(ctx context.Context, workspaceID string) (int64, error) {
	return s.count(ctx, "workspace_users", sq.Eq{"workspace_id": workspaceID, "role": WorkspaceRoleOwner})
}
