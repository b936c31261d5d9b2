package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var messageColumns = []string{"id", "chat_id", "sender_id", "content", "attachments_json", "is_ai_response", "created_at"}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	var sender sql.NullString
	var attachments string
	if err := row.Scan(&m.ID, &m.ChatID, &sender, &m.Content, &attachments, &m.IsAIResponse, &m.CreatedAt); err != nil {
		return Message{}, err
	}
	if sender.Valid {
		m.SenderID = &sender.String
	}
	if attachments != "" && attachments != "[]" {
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return Message{}, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return m, nil
}

// InsertMessage persists a message. An assistant reply must not carry a sender.
func (s *Store) InsertMessage(ctx context.Context, m Message) (Message, error) {
	if m.IsAIResponse && m.SenderID != nil {
		return Message{}, fmt.Errorf("insert message: assistant message cannot have a sender")
	}
	if !m.IsAIResponse && m.SenderID == nil {
		return Message{}, fmt.Errorf("insert message: human message requires a sender")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = s.now()

	attachments := "[]"
	if len(m.Attachments) > 0 {
		b, err := json.Marshal(m.Attachments)
		if err != nil {
			return Message{}, fmt.Errorf("encode attachments: %w", err)
		}
		attachments = string(b)
	}

	sqlStr, args, err := s.sql.Insert("messages").
		Columns(messageColumns...).
		Values(m.ID, m.ChatID, m.SenderID, m.Content, attachments, m.IsAIResponse, m.CreatedAt).
		ToSql()
	if err != nil {
		return Message{}, fmt.Errorf("build insert message query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := s.touchChat(ctx, m.ChatID, m.CreatedAt); err != nil {
		return Message{}, err
	}
	return m, nil
}

// ListMessages returns up to limit of the newest messages created strictly
// before the cutoff (or all, when before is nil), oldest first.
func (s *Store) ListMessages(ctx context.Context, chatID string, before *time.Time, limit uint64) ([]Message, error) {
	where := sq.And{sq.Eq{"chat_id": chatID}}
	if before != nil {
		where = append(where, sq.Lt{"created_at": *before})
	}
	q := s.sql.Select(messageColumns...).From("messages").Where(where).OrderBy("created_at DESC", s.messageSeq()+" DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	out, err := s.queryMessages(ctx, q)
	if err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

// ListMessagesPage returns one page counted from the newest message,
// chronological within the page.
func (s *Store) ListMessagesPage(ctx context.Context, chatID string, page, pageSize uint64) ([]Message, error) {
	if page < 1 {
		page = 1
	}
	q := s.sql.Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("created_at DESC", s.messageSeq()+" DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize)
	out, err := s.queryMessages(ctx, q)
	if err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

func (s *Store) CountMessages(ctx context.Context, chatID string) (int64, error) {
	return s.count(ctx, "messages", sq.Eq{"chat_id": chatID})
}

func (s *Store) queryMessages(ctx context.Context, q sq.SelectBuilder) ([]Message, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

// messageSeq names the insertion-ordered column that breaks created_at ties.
func (s *Store) messageSeq() string {
	if s.driver == "sqlite" {
		return "rowid"
	}
	return "seq"
}

func reverse(ms []Message) {
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
}
