package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"privchat/internal/storage"
)

type userResponse struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FirstName    *string    `json:"first_name"`
	LastName     *string    `json:"last_name"`
	Role         string     `json:"role"`
	IsActive     bool       `json:"is_active"`
	IsFirstLogin bool       `json:"is_first_login"`
	TOSAccepted  bool       `json:"tos_accepted"`
	TwoFAEnabled bool       `json:"twofa_enabled"`
	LastLogin    *time.Time `json:"last_login"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toUser(u storage.User) userResponse {
	return userResponse{
		ID:           u.ID,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Role:         u.Role,
		IsActive:     u.IsActive,
		IsFirstLogin: u.IsFirstLogin,
		TOSAccepted:  u.TOSAccepted,
		TwoFAEnabled: u.TwoFAEnabled,
		LastLogin:    u.LastLogin,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

type workspaceResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type memberResponse struct {
	WorkspaceID string    `json:"workspace_id"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

type workspaceWithUsers struct {
	workspaceResponse
	Users []memberResponse `json:"users"`
}

func toWorkspace(ws storage.Workspace) workspaceResponse {
	return workspaceResponse{ID: ws.ID, Name: ws.Name, CreatedBy: ws.CreatedBy, CreatedAt: ws.CreatedAt, UpdatedAt: ws.UpdatedAt}
}

func toMember(m storage.WorkspaceUser) memberResponse {
	return memberResponse{WorkspaceID: m.WorkspaceID, UserID: m.UserID, Role: m.Role, JoinedAt: m.JoinedAt}
}

type chatResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	WorkspaceID *string   `json:"workspace_id"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type chatWithMessages struct {
	chatResponse
	Messages []messageResponse `json:"messages"`
}

func toChat(c storage.Chat) chatResponse {
	return chatResponse{ID: c.ID, Title: c.Title, WorkspaceID: c.WorkspaceID, CreatedBy: c.CreatedBy, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

type messageResponse struct {
	ID           string    `json:"id"`
	ChatID       string    `json:"chat_id"`
	SenderID     *string   `json:"sender_id"`
	Content      string    `json:"content"`
	Attachments  []string  `json:"attachments"`
	IsAIResponse bool      `json:"is_ai_response"`
	CreatedAt    time.Time `json:"created_at"`
}

func toMessage(m storage.Message) messageResponse {
	return messageResponse{
		ID:           m.ID,
		ChatID:       m.ChatID,
		SenderID:     m.SenderID,
		Content:      m.Content,
		Attachments:  m.Attachments,
		IsAIResponse: m.IsAIResponse,
		CreatedAt:    m.CreatedAt,
	}
}

func toMessages(ms []storage.Message) []messageResponse {
	out := make([]messageResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMessage(m))
	}
	return out
}

type paginatedMessages struct {
	Messages []messageResponse `json:"messages"`
	Total    int64             `json:"total"`
	Page     uint64            `json:"page"`
	PageSize uint64            `json:"page_size"`
	HasNext  bool              `json:"has_next"`
	HasPrev  bool              `json:"has_prev"`
}

type messageBody struct {
	Message string `json:"message"`
}

func done(c echo.Context, msg string) error {
	return c.JSON(http.StatusOK, messageBody{Message: msg})
}

// pathID reads a UUID path parameter, answering 400 with msg when it is malformed.
func pathID(c echo.Context, name, msg string) (string, error) {
	raw := c.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", detail(http.StatusBadRequest, msg)
	}
	return id.String(), nil
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return detail(http.StatusUnprocessableEntity, "Invalid request body")
	}
	return nil
}

// notFound turns storage.ErrNotFound into a 404 carrying msg.
func notFound(err error, msg string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return detail(http.StatusNotFound, msg)
	}
	return err
}
