// Package chat runs the send-message flow: store the human message, ask the
// bound provider for a reply and store that too when it arrives.
package chat

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"privchat/internal/conversation"
	"privchat/internal/metrics"
	"privchat/internal/objstore"
	"privchat/internal/providers"
	"privchat/internal/storage"
)

var (
	ErrEmptyMessage       = errors.New("message content is empty")
	ErrAttachmentType     = errors.New("attachment type not allowed")
	ErrAttachmentTooLarge = errors.New("attachment too large")
	ErrUploadsUnavailable = errors.New("attachments are not enabled")
)

type MessageStore interface {
	InsertMessage(ctx context.Context, m storage.Message) (storage.Message, error)
	ListMessages(ctx context.Context, chatID string, before *time.Time, limit uint64) ([]storage.Message, error)
}

type Inference interface {
	Generate(ctx context.Context, req providers.Request, workspaceID string) (providers.Response, string, error)
}

type Config struct {
	Store     MessageStore
	Inference Inference
	// Uploader may be nil, in which case messages with attachments are rejected.
	Uploader objstore.Uploader
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics

	Model         string
	Temperature   float64
	MaxTokens     int
	ContextWindow int

	MaxUploadSize int64
	AllowedTypes  []string
}

type Service struct {
	cfg     Config
	allowed map[string]struct{}
}

func NewService(cfg Config) *Service {
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = conversation.DefaultWindow
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed[strings.ToLower(strings.TrimPrefix(t, "."))] = struct{}{}
	}
	return &Service{cfg: cfg, allowed: allowed}
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type SendInput struct {
	Chat        storage.Chat
	SenderID    string
	Content     string
	Attachments []Attachment
}

// SendResult always carries the stored human message. Reply is set when the
// assistant answered; otherwise ReplyErr says why it did not.
type SendResult struct {
	Message  storage.Message
	Reply    *storage.Message
	Provider string
	ReplyErr error
}

func (r SendResult) Replied() bool {
	return r.Reply != nil
}

// Send returns an error only when the human message could not be stored.
// Inference problems are reported through SendResult.ReplyErr.
func (s *Service) Send(ctx context.Context, in SendInput) (SendResult, error) {
	if strings.TrimSpace(in.Content) == "" {
		return SendResult{}, ErrEmptyMessage
	}
	if err := s.ValidateAttachments(in.Attachments); err != nil {
		return SendResult{}, err
	}

	urls, err := s.upload(ctx, in)
	if err != nil {
		return SendResult{}, err
	}

	senderID := in.SenderID
	msg, err := s.cfg.Store.InsertMessage(ctx, storage.Message{
		ChatID:      in.Chat.ID,
		SenderID:    &senderID,
		Content:     in.Content,
		Attachments: urls,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("store message: %w", err)
	}
	s.cfg.Metrics.MessagesPersisted.WithLabelValues("human").Inc()

	res := SendResult{Message: msg}
	reply, provider, err := s.reply(ctx, in.Chat, senderID, in.Content)
	res.Provider = provider
	if err != nil {
		res.ReplyErr = err
		s.cfg.Logger.Warn().
			Err(err).
			Str("chat_id", in.Chat.ID).
			Str("workspace", workspaceKey(in.Chat)).
			Str("provider", provider).
			Str("kind", string(providers.KindOf(err))).
			Msg("assistant reply failed; human message kept")
		return res, nil
	}
	res.Reply = &reply
	return res, nil
}

func (s *Service) reply(ctx context.Context, c storage.Chat, senderID, content string) (storage.Message, string, error) {
	history, err := s.cfg.Store.ListMessages(ctx, c.ID, nil, uint64(s.cfg.ContextWindow))
	if err != nil {
		return storage.Message{}, "", fmt.Errorf("load history: %w", err)
	}

	req := providers.Request{
		Messages:    conversation.Build(history, senderID, content, s.cfg.ContextWindow),
		Model:       s.cfg.Model,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}

	started := time.Now()
	resp, provider, err := s.cfg.Inference.Generate(ctx, req, workspaceKey(c))
	s.observe(provider, started, err)
	if err != nil {
		return storage.Message{}, provider, err
	}

	reply, err := s.cfg.Store.InsertMessage(ctx, storage.Message{
		ChatID:       c.ID,
		Content:      resp.Content,
		IsAIResponse: true,
	})
	if err != nil {
		return storage.Message{}, provider, fmt.Errorf("store reply: %w", err)
	}
	s.cfg.Metrics.MessagesPersisted.WithLabelValues("assistant").Inc()

	s.cfg.Logger.Debug().
		Str("chat_id", c.ID).
		Str("provider", provider).
		Str("model", resp.Model).
		Int("total_tokens", resp.Usage.TotalTokens).
		Msg("assistant reply stored")
	return reply, provider, nil
}

func (s *Service) observe(provider string, started time.Time, err error) {
	label := provider
	if label == "" {
		label = "none"
	}
	outcome := metrics.OutcomeSuccess
	switch {
	case providers.IsConfigurationError(err):
		outcome = metrics.OutcomeUnavailable
	case err != nil:
		outcome = metrics.OutcomeError
	}
	s.cfg.Metrics.InferenceRequests.WithLabelValues(label, outcome).Inc()
	if provider != "" {
		s.cfg.Metrics.InferenceDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())
	}
}

// ValidateAttachments checks extensions and sizes before anything is uploaded.
func (s *Service) ValidateAttachments(atts []Attachment) error {
	if len(atts) == 0 {
		return nil
	}
	if s.cfg.Uploader == nil {
		return ErrUploadsUnavailable
	}
	for _, a := range atts {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(a.Filename), "."))
		if _, ok := s.allowed[ext]; !ok {
			return fmt.Errorf("%w: %q", ErrAttachmentType, a.Filename)
		}
		if s.cfg.MaxUploadSize > 0 && int64(len(a.Data)) > s.cfg.MaxUploadSize {
			return fmt.Errorf("%w: %q exceeds %d bytes", ErrAttachmentTooLarge, a.Filename, s.cfg.MaxUploadSize)
		}
	}
	return nil
}

// upload stores all attachments in parallel and returns their references in input order.
func (s *Service) upload(ctx context.Context, in SendInput) ([]string, error) {
	if len(in.Attachments) == 0 {
		return nil, nil
	}
	prefix := uploadPrefix(in.Chat, in.SenderID)
	urls := make([]string, len(in.Attachments))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range in.Attachments {
		g.Go(func() error {
			url, err := s.cfg.Uploader.Upload(gctx, a.Data, a.ContentType, path.Join(prefix, path.Base(a.Filename)))
			if err != nil {
				s.cfg.Metrics.Uploads.WithLabelValues(metrics.OutcomeError).Inc()
				return fmt.Errorf("upload %q: %w", a.Filename, err)
			}
			s.cfg.Metrics.Uploads.WithLabelValues(metrics.OutcomeSuccess).Inc()
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

func uploadPrefix(c storage.Chat, senderID string) string {
	if c.WorkspaceID != nil {
		return fmt.Sprintf("workspace_%s/chat_%s", *c.WorkspaceID, c.ID)
	}
	return fmt.Sprintf("user_%s/chat_%s", senderID, c.ID)
}

// workspaceKey is the binding key for a chat; standalone chats use the default binding.
func workspaceKey(c storage.Chat) string {
	if c.WorkspaceID != nil {
		return *c.WorkspaceID
	}
	return providers.DefaultWorkspace
}
