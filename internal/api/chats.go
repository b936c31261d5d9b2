package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"

	"privchat/internal/chat"
	"privchat/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type chatRequest struct {
	Title string `json:"title"`
}

type sendRequest struct {
	Content string `json:"content" form:"content"`
}

func (s *Server) chatHistory(c echo.Context) error {
	ws, _, err := s.workspaceAccess(c, "workspace_id", storage.WorkspaceRoleGuest, "Not enough permissions")
	if err != nil {
		return err
	}
	chats, err := s.cfg.Store.ListWorkspaceChats(c.Request().Context(), ws.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toChats(chats))
}

func (s *Server) createChat(c echo.Context) error {
	ws, _, err := s.workspaceAccess(c, "workspace_id", storage.WorkspaceRoleMember, "Not enough permissions to create chats")
	if err != nil {
		return err
	}
	title, err := chatTitle(c)
	if err != nil {
		return err
	}
	created, err := s.cfg.Store.CreateChat(c.Request().Context(), title, &ws.ID, currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toChat(created))
}

// workspaceChat resolves /:workspace_id/chat/:chat_id for a caller holding at least role.
func (s *Server) workspaceChat(c echo.Context, role, denied string) (storage.Chat, storage.WorkspaceUser, error) {
	wsID, err := pathID(c, "workspace_id", "Invalid ID format")
	if err != nil {
		return storage.Chat{}, storage.WorkspaceUser{}, err
	}
	chatID, err := pathID(c, "chat_id", "Invalid ID format")
	if err != nil {
		return storage.Chat{}, storage.WorkspaceUser{}, err
	}
	ws, m, err := s.workspaceByID(c, wsID, role, denied)
	if err != nil {
		return storage.Chat{}, storage.WorkspaceUser{}, err
	}
	ch, err := s.cfg.Store.GetWorkspaceChat(c.Request().Context(), ws.ID, chatID)
	if err != nil {
		return storage.Chat{}, storage.WorkspaceUser{}, notFound(err, "Chat not found")
	}
	return ch, m, nil
}

func (s *Server) getChat(c echo.Context) error {
	ch, _, err := s.workspaceChat(c, storage.WorkspaceRoleGuest, "Not enough permissions")
	if err != nil {
		return err
	}
	return s.chatWithMessages(c, ch)
}

func (s *Server) chatMessages(c echo.Context) error {
	ch, _, err := s.workspaceChat(c, storage.WorkspaceRoleGuest, "Not enough permissions")
	if err != nil {
		return err
	}
	return s.messagePage(c, ch)
}

func (s *Server) sendMessage(c echo.Context) error {
	ch, _, err := s.workspaceChat(c, storage.WorkspaceRoleMember, "Not enough permissions to send messages")
	if err != nil {
		return err
	}
	return s.send(c, ch)
}

func (s *Server) deleteChat(c echo.Context) error {
	ch, m, err := s.workspaceChat(c, storage.WorkspaceRoleGuest, "Only workspace owners can delete chats")
	if err != nil {
		return err
	}
	isCreator := ch.CreatedBy == m.UserID && m.HasAccess(storage.WorkspaceRoleMember)
	if !m.HasAccess(storage.WorkspaceRoleOwner) && !isCreator {
		return detail(http.StatusForbidden, "Only workspace owners can delete chats")
	}
	if err := s.cfg.Store.DeleteChat(c.Request().Context(), ch.ID); err != nil {
		return notFound(err, "Chat not found")
	}
	return done(c, "Chat deleted successfully")
}

func (s *Server) createStandaloneChat(c echo.Context) error {
	title, err := chatTitle(c)
	if err != nil {
		return err
	}
	created, err := s.cfg.Store.CreateChat(c.Request().Context(), title, nil, currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toChat(created))
}

func (s *Server) listStandaloneChats(c echo.Context) error {
	chats, err := s.cfg.Store.ListStandaloneChats(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toChats(chats))
}

func (s *Server) standaloneChat(c echo.Context) (storage.Chat, error) {
	id, err := pathID(c, "chat_id", "Invalid chat ID")
	if err != nil {
		return storage.Chat{}, err
	}
	ch, err := s.cfg.Store.GetStandaloneChat(c.Request().Context(), currentUser(c).ID, id)
	if err != nil {
		return storage.Chat{}, notFound(err, "Standalone chat not found")
	}
	return ch, nil
}

func (s *Server) getStandaloneChat(c echo.Context) error {
	ch, err := s.standaloneChat(c)
	if err != nil {
		return err
	}
	return s.chatWithMessages(c, ch)
}

func (s *Server) standaloneMessages(c echo.Context) error {
	ch, err := s.standaloneChat(c)
	if err != nil {
		return err
	}
	return s.messagePage(c, ch)
}

func (s *Server) sendStandaloneMessage(c echo.Context) error {
	ch, err := s.standaloneChat(c)
	if err != nil {
		return err
	}
	return s.send(c, ch)
}

func (s *Server) attachChat(c echo.Context) error {
	chatID, err := pathID(c, "chat_id", "Invalid ID format")
	if err != nil {
		return err
	}
	wsID, err := pathID(c, "workspace_id", "Invalid ID format")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	ch, err := s.cfg.Store.GetStandaloneChat(ctx, currentUser(c).ID, chatID)
	if err != nil {
		return notFound(err, "Standalone chat not found")
	}
	ws, _, err := s.workspaceByID(c, wsID, storage.WorkspaceRoleMember, "Not enough permissions to attach chats to this workspace")
	if err != nil {
		return err
	}
	if err := s.cfg.Store.AttachChat(ctx, ch.ID, ws.ID); err != nil {
		return notFound(err, "Standalone chat not found")
	}
	return done(c, "Chat attached to workspace successfully")
}

func (s *Server) deleteStandaloneChat(c echo.Context) error {
	ch, err := s.standaloneChat(c)
	if err != nil {
		return err
	}
	if err := s.cfg.Store.DeleteChat(c.Request().Context(), ch.ID); err != nil {
		return notFound(err, "Standalone chat not found")
	}
	return done(c, "Standalone chat deleted successfully")
}

func (s *Server) chatWithMessages(c echo.Context, ch storage.Chat) error {
	msgs, err := s.cfg.Store.ListMessages(c.Request().Context(), ch.ID, nil, 0)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chatWithMessages{chatResponse: toChat(ch), Messages: toMessages(msgs)})
}

func (s *Server) messagePage(c echo.Context, ch storage.Chat) error {
	page, err := queryUint(c, "page", 1)
	if err != nil {
		return err
	}
	size, err := queryUint(c, "page_size", defaultPageSize)
	if err != nil {
		return err
	}
	if page < 1 || size < 1 || size > maxPageSize {
		return detail(http.StatusUnprocessableEntity, fmt.Sprintf("page must be >= 1 and page_size within [1, %d]", maxPageSize))
	}
	ctx := c.Request().Context()
	total, err := s.cfg.Store.CountMessages(ctx, ch.ID)
	if err != nil {
		return err
	}
	msgs, err := s.cfg.Store.ListMessagesPage(ctx, ch.ID, page, size)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, paginatedMessages{
		Messages: toMessages(msgs),
		Total:    total,
		Page:     page,
		PageSize: size,
		HasNext:  int64(page*size) < total,
		HasPrev:  page > 1,
	})
}

// send stores the caller's message and tries for an assistant reply. The
// response is always the stored human message; X-Assistant-Reply tells the
// client whether a reply was stored as well.
func (s *Server) send(c echo.Context, ch storage.Chat) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return detail(http.StatusUnprocessableEntity, "Invalid request body")
	}
	atts, err := s.attachments(c)
	if err != nil {
		return err
	}
	res, err := s.cfg.Chat.Send(c.Request().Context(), chat.SendInput{
		Chat:        ch,
		SenderID:    currentUser(c).ID,
		Content:     req.Content,
		Attachments: atts,
	})
	if err != nil {
		return err
	}
	status := "stored"
	if !res.Replied() {
		status = "failed"
	}
	c.Response().Header().Set("X-Assistant-Reply", status)
	if res.Provider != "" {
		c.Response().Header().Set("X-Inference-Provider", res.Provider)
	}
	return c.JSON(http.StatusOK, toMessage(res.Message))
}

func (s *Server) attachments(c echo.Context) ([]chat.Attachment, error) {
	if !strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, detail(http.StatusUnprocessableEntity, "Invalid multipart form")
	}
	files := form.File["files"]
	out := make([]chat.Attachment, 0, len(files))
	for _, fh := range files {
		if fh.Filename == "" {
			continue
		}
		if s.cfg.MaxUploadSize > 0 && fh.Size > s.cfg.MaxUploadSize {
			return nil, fmt.Errorf("%w: %q exceeds %d bytes", chat.ErrAttachmentTooLarge, fh.Filename, s.cfg.MaxUploadSize)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %q: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload %q: %w", fh.Filename, err)
		}
		ct := fh.Header.Get(echo.HeaderContentType)
		if ct == "" || ct == echo.MIMEOctetStream {
			if byExt := mime.TypeByExtension(path.Ext(fh.Filename)); byExt != "" {
				ct = byExt
			}
		}
		out = append(out, chat.Attachment{Filename: fh.Filename, ContentType: ct, Data: data})
	}
	return out, nil
}

func chatTitle(c echo.Context) (string, error) {
	var req chatRequest
	if err := bind(c, &req); err != nil {
		return "", err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return "", detail(http.StatusUnprocessableEntity, "Chat title is required")
	}
	return title, nil
}

func toChats(chats []storage.Chat) []chatResponse {
	out := make([]chatResponse, 0, len(chats))
	for _, ch := range chats {
		out = append(out, toChat(ch))
	}
	return out
}
