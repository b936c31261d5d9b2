package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var chatColumns = []string{"id", "title", "workspace_id", "created_by", "created_at", "updated_at"}

func scanChat(row rowScanner) (Chat, error) {
	var c Chat
	var wsID sql.NullString
	if err := row.Scan(&c.ID, &c.Title, &wsID, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Chat{}, err
	}
	if wsID.Valid {
		c.WorkspaceID = &wsID.String
	}
	return c, nil
}

// CreateChat inserts a chat; a nil workspaceID makes it standalone.
func (s *Store) CreateChat(ctx context.Context, title string, workspaceID *string, createdBy string) (Chat, error) {
	now := s.now()
	c := Chat{ID: uuid.NewString(), Title: title, WorkspaceID: workspaceID, CreatedBy: createdBy, CreatedAt: now, UpdatedAt: now}
	sqlStr, args, err := s.sql.Insert("chats").
		Columns(chatColumns...).
		Values(c.ID, c.Title, c.WorkspaceID, c.CreatedBy, c.CreatedAt, c.UpdatedAt).
		ToSql()
	if err != nil {
		return Chat{}, fmt.Errorf("build create chat query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Chat{}, fmt.Errorf("create chat: %w", err)
	}
	return c, nil
}

func (s *Store) GetWorkspaceChat(ctx context.Context, workspaceID, chatID string) (Chat, error) {
	return s.getChat(ctx, sq.Eq{"id": chatID, "workspace_id": workspaceID})
}

// GetStandaloneChat returns a chat only when it has no workspace and belongs to owner.
func (s *Store) GetStandaloneChat(ctx context.Context, ownerID, chatID string) (Chat, error) {
	return s.getChat(ctx, sq.And{
		sq.Eq{"id": chatID, "created_by": ownerID},
		sq.Eq{"workspace_id": nil},
	})
}

func (s *Store) getChat(ctx context.Context, where sq.Sqlizer) (Chat, error) {
	sqlStr, args, err := s.sql.Select(chatColumns...).From("chats").Where(where).ToSql()
	if err != nil {
		return Chat{}, fmt.Errorf("build get chat query: %w", err)
	}
	c, err := scanChat(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chat{}, ErrNotFound
		}
		return Chat{}, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

func (s *Store) ListWorkspaceChats(ctx context.Context, workspaceID string) ([]Chat, error) {
	return s.listChats(ctx, sq.Eq{"workspace_id": workspaceID})
}

func (s *Store) ListStandaloneChats(ctx context.Context, ownerID string) ([]Chat, error) {
	return s.listChats(ctx, sq.And{sq.Eq{"created_by": ownerID}, sq.Eq{"workspace_id": nil}})
}

func (s *Store) listChats(ctx context.Context, where sq.Sqlizer) ([]Chat, error) {
	sqlStr, args, err := s.sql.Select(chatColumns...).From("chats").Where(where).OrderBy("updated_at DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list chats query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	out := make([]Chat, 0)
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat rows: %w", err)
	}
	return out, nil
}

// AttachChat moves a standalone chat into a workspace.
func (s *Store) AttachChat(ctx context.Context, chatID, workspaceID string) error {
	q := s.sql.Update("chats").
		Set("workspace_id", workspaceID).
		Set("updated_at", s.now()).
		Where(sq.And{sq.Eq{"id": chatID}, sq.Eq{"workspace_id": nil}})
	return s.execAffecting(ctx, q, "attach chat")
}

// DeleteChat removes a chat; its messages go with it.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete chat: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	msgSQL, msgArgs, err := s.sql.Delete("messages").Where(sq.Eq{"chat_id": chatID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete messages query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, msgSQL, msgArgs...); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}
	chatSQL, chatArgs, err := s.sql.Delete("chats").Where(sq.Eq{"id": chatID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete chat query: %w", err)
	}
	res, err := tx.ExecContext(ctx, chatSQL, chatArgs...)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) touchChat(ctx context.Context, chatID string, at time.Time) error {
	sqlStr, args, err := s.sql.Update("chats").Set("updated_at", at).Where(sq.Eq{"id": chatID}).ToSql()
	if err != nil {
		return fmt.Errorf("build touch chat query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}
